package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
)

// handleServers returns the configured fleet and where it came from.
// GET /api/servers
func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.hosts.Hosts()
	if err != nil {
		s.log.Error("failed to list hosts: %v", err)
		s.jsonError(w, "failed to read ssh config", http.StatusInternalServerError)
		return
	}
	if hosts == nil {
		hosts = []string{}
	}
	s.jsonResponse(w, map[string]interface{}{
		"hosts":  hosts,
		"config": s.configPath,
	})
}

// handleStatus polls a single host.
// GET /api/status?host=alpha
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	if host == "" {
		s.jsonError(w, "missing host", http.StatusBadRequest)
		return
	}
	statuses := s.fleet.FetchStatuses(r.Context(), []string{host})
	s.jsonResponse(w, statuses[0])
}

// handleStatusBatch polls a list of hosts, or the whole configured fleet when
// the body carries no usable host list.
// POST /api/status  {"hosts": ["alpha", "beta"]}
func (s *Server) handleStatusBatch(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.jsonError(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var hosts []string
	if len(bytes.TrimSpace(raw)) > 0 {
		if !json.Valid(raw) {
			s.jsonError(w, "invalid json", http.StatusBadRequest)
			return
		}
		var payload struct {
			Hosts []string `json:"hosts"`
		}
		// A wrong-typed hosts field falls back to the configured fleet, the
		// same as an absent one.
		if json.Unmarshal(raw, &payload) == nil {
			hosts = payload.Hosts
		}
	}
	if hosts == nil {
		configured, err := s.hosts.Hosts()
		if err != nil {
			s.log.Error("failed to list hosts: %v", err)
			s.jsonError(w, "failed to read ssh config", http.StatusInternalServerError)
			return
		}
		hosts = configured
	}

	results := s.fleet.FetchStatuses(r.Context(), hosts)
	s.jsonResponse(w, map[string]interface{}{"results": results})
}

// handleGPUProcesses lists the compute processes on one GPU of one host.
// GET /api/gpu-processes?host=alpha&index=0
func (s *Server) handleGPUProcesses(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	host := query.Get("host")
	indexRaw := query.Get("index")
	if host == "" || indexRaw == "" {
		s.opError(w, "missing host or index", http.StatusBadRequest)
		return
	}
	index, err := strconv.Atoi(indexRaw)
	if err != nil {
		s.opError(w, "invalid index", http.StatusBadRequest)
		return
	}
	s.jsonResponse(w, s.fleet.FetchGPUProcesses(r.Context(), host, index))
}

// handleDownload fetches a remote file and streams it back as an attachment.
// The local temp copy is removed on every exit path, including a client that
// disconnects mid-stream.
// GET /api/download?host=alpha&path=/data/model.bin
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	host := query.Get("host")
	remotePath := query.Get("path")
	if host == "" || remotePath == "" {
		s.opError(w, "missing host or path", http.StatusBadRequest)
		return
	}

	dl, err := s.files.Download(r.Context(), host, remotePath)
	if err != nil {
		s.opError(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer dl.Close()

	filename := path.Base(strings.ReplaceAll(remotePath, "\\", "/"))
	if filename == "/" || filename == "." || filename == "" {
		filename = "download.bin"
	}
	filename = strings.ReplaceAll(filename, `"`, "_")

	f, err := dl.Open()
	if err != nil {
		s.opError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if size, err := dl.Size(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := io.Copy(w, f); err != nil {
		// The client went away mid-stream. The deferred Close still reclaims
		// the temp artifact.
		s.log.Debug("download of %s:%s aborted: %v", host, remotePath, err)
	}
}

// handleUpload streams the request body to a remote path. A trailing-slash
// path is a directory and requires an explicit name.
// POST /api/upload?host=alpha&path=/data/&name=weights.pt
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	host := query.Get("host")
	remotePath := query.Get("path")
	if host == "" || remotePath == "" {
		s.opError(w, "missing host or path", http.StatusBadRequest)
		return
	}
	if strings.HasSuffix(remotePath, "/") {
		name := query.Get("name")
		if name == "" {
			s.opError(w, "missing filename", http.StatusBadRequest)
			return
		}
		remotePath += name
	}
	if r.ContentLength < 0 {
		s.opError(w, "missing content length", http.StatusBadRequest)
		return
	}

	outcome := s.files.Upload(host, remotePath, r.Body, r.ContentLength)
	if !outcome.OK {
		s.opError(w, outcome.Error, http.StatusBadRequest)
		return
	}
	s.jsonResponse(w, outcome)
}
