package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ast111/gpu-monitor/internal/fleet"
	"github.com/Ast111/gpu-monitor/internal/logger"
	"github.com/Ast111/gpu-monitor/internal/transfer"
)

type fakeFleet struct {
	statuses func(hosts []string) []fleet.HostStatus
	procs    func(host string, index int) fleet.ProcessResult
}

func (f *fakeFleet) FetchStatuses(_ context.Context, hosts []string) []fleet.HostStatus {
	if f.statuses == nil {
		out := make([]fleet.HostStatus, len(hosts))
		for i, h := range hosts {
			out[i] = fleet.HostStatus{Host: h, OK: true}
		}
		return out
	}
	return f.statuses(hosts)
}

func (f *fakeFleet) FetchGPUProcesses(_ context.Context, host string, index int) fleet.ProcessResult {
	return f.procs(host, index)
}

type fakeFiles struct {
	download func(host, path string) (*transfer.Download, error)
	upload   func(host, path string, src io.Reader, length int64) transfer.Outcome
}

func (f *fakeFiles) Download(_ context.Context, host, path string) (*transfer.Download, error) {
	return f.download(host, path)
}

func (f *fakeFiles) Upload(host, path string, src io.Reader, length int64) transfer.Outcome {
	return f.upload(host, path, src, length)
}

type fakeHosts struct {
	hosts []string
	err   error
}

func (f *fakeHosts) Hosts() ([]string, error) { return f.hosts, f.err }

func testServer(fl *fakeFleet, files *fakeFiles, hosts *fakeHosts) *Server {
	if fl == nil {
		fl = &fakeFleet{}
	}
	if files == nil {
		files = &fakeFiles{}
	}
	if hosts == nil {
		hosts = &fakeHosts{hosts: []string{"alpha", "beta"}}
	}
	return New(fl, files, hosts, "/home/ops/.ssh/config", "", logger.Noop())
}

func do(t *testing.T, s *Server, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestServersRoute(t *testing.T) {
	s := testServer(nil, nil, &fakeHosts{hosts: []string{"alpha", "beta"}})

	rec := do(t, s, http.MethodGet, "/api/servers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Hosts  []string `json:"hosts"`
		Config string   `json:"config"`
	}
	decode(t, rec, &body)
	assert.Equal(t, []string{"alpha", "beta"}, body.Hosts)
	assert.Equal(t, "/home/ops/.ssh/config", body.Config)
}

func TestServersRouteEmptyFleetIsArray(t *testing.T) {
	s := testServer(nil, nil, &fakeHosts{})

	rec := do(t, s, http.MethodGet, "/api/servers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"hosts":[]`)
}

func TestServersRouteConfigError(t *testing.T) {
	s := testServer(nil, nil, &fakeHosts{err: errors.New("permission denied")})

	rec := do(t, s, http.MethodGet, "/api/servers", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatusRequiresHost(t *testing.T) {
	rec := do(t, testServer(nil, nil, nil), http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing host")
}

func TestStatusSingleHost(t *testing.T) {
	fl := &fakeFleet{statuses: func(hosts []string) []fleet.HostStatus {
		require.Equal(t, []string{"alpha"}, hosts)
		return []fleet.HostStatus{{Host: "alpha", OK: true}}
	}}

	rec := do(t, testServer(fl, nil, nil), http.MethodGet, "/api/status?host=alpha", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status fleet.HostStatus
	decode(t, rec, &status)
	assert.Equal(t, "alpha", status.Host)
	assert.True(t, status.OK)
}

func TestStatusBatchExplicitHosts(t *testing.T) {
	var polled []string
	fl := &fakeFleet{statuses: func(hosts []string) []fleet.HostStatus {
		polled = hosts
		return []fleet.HostStatus{}
	}}
	s := testServer(fl, nil, nil)

	rec := do(t, s, http.MethodPost, "/api/status", strings.NewReader(`{"hosts":["gamma"]}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"gamma"}, polled)
	assert.Contains(t, rec.Body.String(), `"results"`)
}

func TestStatusBatchDefaultsToConfiguredFleet(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"no hosts key", `{}`},
		{"wrong type", `{"hosts": "alpha"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var polled []string
			fl := &fakeFleet{statuses: func(hosts []string) []fleet.HostStatus {
				polled = hosts
				return []fleet.HostStatus{}
			}}
			s := testServer(fl, nil, &fakeHosts{hosts: []string{"alpha", "beta"}})

			rec := do(t, s, http.MethodPost, "/api/status", strings.NewReader(tt.body))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, []string{"alpha", "beta"}, polled)
		})
	}
}

func TestStatusBatchRejectsMalformedJSON(t *testing.T) {
	rec := do(t, testServer(nil, nil, nil), http.MethodPost, "/api/status", strings.NewReader("{not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid json")
}

func TestGPUProcessesValidation(t *testing.T) {
	s := testServer(nil, nil, nil)

	rec := do(t, s, http.MethodGet, "/api/gpu-processes?host=alpha", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing host or index")

	rec = do(t, s, http.MethodGet, "/api/gpu-processes?index=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/gpu-processes?host=alpha&index=one", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid index")
}

func TestGPUProcessesPassthrough(t *testing.T) {
	fl := &fakeFleet{procs: func(host string, index int) fleet.ProcessResult {
		assert.Equal(t, "alpha", host)
		assert.Equal(t, 1, index)
		return fleet.ProcessResult{Host: host, OK: true, Index: &index}
	}}

	rec := do(t, testServer(fl, nil, nil), http.MethodGet, "/api/gpu-processes?host=alpha&index=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result fleet.ProcessResult
	decode(t, rec, &result)
	assert.True(t, result.OK)
	require.NotNil(t, result.Index)
	assert.Equal(t, 1, *result.Index)
}

// stagedDownload materializes a real temp artifact the way the transfer
// engine would, so cleanup can be observed.
func stagedDownload(t *testing.T, content string) *transfer.Download {
	t.Helper()
	dir, err := os.MkdirTemp("", "gpu_monitor_")
	require.NoError(t, err)
	path := filepath.Join(dir, "download_test")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return transfer.NewDownload(path, dir, nil)
}

func TestDownloadStreamsAttachment(t *testing.T) {
	dl := stagedDownload(t, "model-bytes")
	files := &fakeFiles{download: func(host, path string) (*transfer.Download, error) {
		assert.Equal(t, "alpha", host)
		assert.Equal(t, "/data/model.bin", path)
		return dl, nil
	}}
	s := testServer(nil, files, nil)

	rec := do(t, s, http.MethodGet, "/api/download?host=alpha&path=/data/model.bin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "model-bytes", rec.Body.String())
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "11", rec.Header().Get("Content-Length"))
	assert.Equal(t, `attachment; filename="model.bin"`, rec.Header().Get("Content-Disposition"))

	// The handler owns the temp artifact and must have reclaimed it.
	_, err := os.Stat(dl.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadValidation(t *testing.T) {
	s := testServer(nil, nil, nil)

	rec := do(t, s, http.MethodGet, "/api/download?host=alpha", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing host or path")
}

func TestDownloadReportsTransferError(t *testing.T) {
	files := &fakeFiles{download: func(string, string) (*transfer.Download, error) {
		return nil, errors.New("ssh timed out")
	}}

	rec := do(t, testServer(nil, files, nil), http.MethodGet, "/api/download?host=alpha&path=/f", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var outcome transfer.Outcome
	decode(t, rec, &outcome)
	assert.False(t, outcome.OK)
	assert.Equal(t, "ssh timed out", outcome.Error)
}

func TestDownloadSanitizesFilename(t *testing.T) {
	dl := stagedDownload(t, "x")
	files := &fakeFiles{download: func(string, string) (*transfer.Download, error) {
		return dl, nil
	}}

	rec := do(t, testServer(nil, files, nil), http.MethodGet,
		`/api/download?host=alpha&path=`+`/data/we%22ird`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="we_ird"`, rec.Header().Get("Content-Disposition"))
}

func TestUploadJoinsDirectoryAndName(t *testing.T) {
	var gotPath string
	var gotLen int64
	files := &fakeFiles{upload: func(_, path string, src io.Reader, length int64) transfer.Outcome {
		gotPath = path
		gotLen = length
		io.Copy(io.Discard, src)
		return transfer.Outcome{OK: true}
	}}
	s := testServer(nil, files, nil)

	rec := do(t, s, http.MethodPost, "/api/upload?host=alpha&path=/data/&name=weights.pt",
		strings.NewReader("payload"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/data/weights.pt", gotPath)
	assert.Equal(t, int64(len("payload")), gotLen)

	var outcome transfer.Outcome
	decode(t, rec, &outcome)
	assert.True(t, outcome.OK)
}

func TestUploadValidation(t *testing.T) {
	s := testServer(nil, nil, nil)

	rec := do(t, s, http.MethodPost, "/api/upload?path=/data/f", strings.NewReader("x"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing host or path")

	rec = do(t, s, http.MethodPost, "/api/upload?host=alpha&path=/data/", strings.NewReader("x"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing filename")
}

func TestUploadRequiresContentLength(t *testing.T) {
	files := &fakeFiles{upload: func(string, string, io.Reader, int64) transfer.Outcome {
		t.Fatal("upload must not start without a length")
		return transfer.Outcome{}
	}}
	s := testServer(nil, files, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/upload?host=alpha&path=/data/f",
		strings.NewReader("x"))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing content length")
}

func TestUploadFailureOutcome(t *testing.T) {
	files := &fakeFiles{upload: func(string, string, io.Reader, int64) transfer.Outcome {
		return transfer.Outcome{Error: "upload interrupted"}
	}}

	rec := do(t, testServer(nil, files, nil), http.MethodPost,
		"/api/upload?host=alpha&path=/data/f", strings.NewReader("x"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var outcome transfer.Outcome
	decode(t, rec, &outcome)
	assert.False(t, outcome.OK)
	assert.Equal(t, "upload interrupted", outcome.Error)
}
