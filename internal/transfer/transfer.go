// Package transfer streams files to and from remote hosts over ssh/sftp
// subprocesses, with timeouts and guaranteed cleanup of local temp artifacts.
package transfer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Ast111/gpu-monitor/internal/errors"
	"github.com/Ast111/gpu-monitor/internal/logger"
	"github.com/Ast111/gpu-monitor/internal/sshcmd"
)

// tempDirPrefix namespaces the per-download scratch directories.
const tempDirPrefix = "gpu_monitor_"

// Engine performs size probes, downloads, and uploads against remote hosts.
type Engine struct {
	builder     *sshcmd.Builder
	runner      sshcmd.Runner
	log         logger.Logger
	fileTimeout time.Duration
	uploadWait  time.Duration
}

// NewEngine creates a transfer engine. fileTimeout bounds size probes and
// sftp downloads; uploads get a separate post-stream completion ceiling.
func NewEngine(builder *sshcmd.Builder, runner sshcmd.Runner, fileTimeout time.Duration, log logger.Logger) *Engine {
	if log == nil {
		log = logger.Noop()
	}
	return &Engine{
		builder:     builder,
		runner:      runner,
		log:         log,
		fileTimeout: fileTimeout,
		uploadWait:  uploadWaitTimeout,
	}
}

// RemoteFileSize probes the size of a remote file by listing the single
// target path and reading the size field of the last non-blank line.
func (e *Engine) RemoteFileSize(ctx context.Context, host, remotePath string) (int64, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.fileTimeout)
	defer cancel()

	argv := append(e.builder.SSHArgs(host),
		host, "sh", "-c", "ls -ln -- "+sshcmd.ShellQuote(remotePath))
	result, err := e.runner.Run(runCtx, argv, nil)
	if err != nil {
		if runCtx.Err() != nil {
			return 0, errors.New(errors.ErrTransfer, "ssh timed out", "")
		}
		return 0, errors.WrapWithCode(err, errors.ErrTransfer, "ssh failed", "")
	}
	if result.ExitCode != 0 {
		msg := result.ErrorText()
		if msg == "" {
			msg = fmt.Sprintf("ssh exited with %d", result.ExitCode)
		}
		return 0, errors.New(errors.ErrTransfer, msg, "")
	}

	var last string
	for _, line := range strings.Split(string(result.Stdout), "\n") {
		if strings.TrimSpace(line) != "" {
			last = line
		}
	}
	fields := strings.Fields(last)
	if len(fields) < 5 {
		return 0, errors.New(errors.ErrTransfer, "invalid file size", "")
	}
	size, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return 0, errors.New(errors.ErrTransfer, "invalid file size", "")
	}
	return size, nil
}

// Download is a completed download's local temp artifact. It is exclusively
// owned by the request that created it; Close removes the file and its
// directory and must be called on every exit path.
type Download struct {
	Path string

	dir  string
	log  logger.Logger
	once sync.Once
}

// NewDownload wraps an existing local file as a managed temp artifact whose
// Close removes both the file and dir. Useful for tests and for callers that
// stage files themselves.
func NewDownload(path, dir string, log logger.Logger) *Download {
	if log == nil {
		log = logger.Noop()
	}
	return &Download{Path: path, dir: dir, log: log}
}

// Open opens the downloaded file for reading.
func (d *Download) Open() (*os.File, error) {
	return os.Open(d.Path)
}

// Size returns the downloaded file's size in bytes.
func (d *Download) Size() (int64, error) {
	info, err := os.Stat(d.Path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close removes the temp file and its directory. Idempotent.
func (d *Download) Close() error {
	d.once.Do(func() {
		if err := os.Remove(d.Path); err != nil && !os.IsNotExist(err) {
			d.log.Warn("failed to remove temp file %s: %v", d.Path, err)
		}
		if err := os.RemoveAll(d.dir); err != nil {
			d.log.Warn("failed to remove temp dir %s: %v", d.dir, err)
		}
	})
	return nil
}

// Download fetches a remote file into a fresh local temp directory via an
// sftp batch script. On success ownership of the temp artifact transfers to
// the caller through the returned handle; on failure any partial artifact is
// removed before the error is reported.
func (e *Engine) Download(ctx context.Context, host, remotePath string) (*Download, error) {
	dir, err := os.MkdirTemp("", tempDirPrefix)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrTransfer,
			"failed to create temp dir", "")
	}
	localPath := filepath.Join(dir, "download_"+randomHex(16))

	cleanup := func() {
		if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
			e.log.Warn("failed to remove temp file %s: %v", localPath, err)
		}
		if err := os.RemoveAll(dir); err != nil {
			e.log.Warn("failed to remove temp dir %s: %v", dir, err)
		}
	}

	// sftp batch scripts use the double-quote grammar, not shell quoting.
	script := "get " + sshcmd.SFTPQuote(remotePath) + " " +
		sshcmd.SFTPQuote(filepath.ToSlash(localPath)) + "\n"
	argv := append(e.builder.SFTPArgs(host), "-b", "-", host)

	runCtx, cancel := context.WithTimeout(ctx, e.fileTimeout)
	defer cancel()

	result, err := e.runner.Run(runCtx, argv, strings.NewReader(script))
	if err != nil {
		cleanup()
		if runCtx.Err() != nil {
			return nil, errors.New(errors.ErrTransfer, "ssh timed out", "")
		}
		return nil, errors.WrapWithCode(err, errors.ErrTransfer, "sftp failed", "")
	}
	if result.ExitCode != 0 {
		cleanup()
		msg := result.ErrorText()
		if msg == "" {
			msg = fmt.Sprintf("sftp exited with %d", result.ExitCode)
		}
		return nil, errors.New(errors.ErrTransfer, msg, "")
	}

	e.log.Debug("downloaded %s:%s to %s", host, remotePath, localPath)
	return &Download{Path: localPath, dir: dir, log: e.log}, nil
}

// ProbeAndDownload probes the remote file size, then downloads the file.
// The probe gives the serving layer an exact Content-Length before any bytes
// move.
func (e *Engine) ProbeAndDownload(ctx context.Context, host, remotePath string) (*Download, int64, error) {
	size, err := e.RemoteFileSize(ctx, host, remotePath)
	if err != nil {
		return nil, 0, err
	}
	dl, err := e.Download(ctx, host, remotePath)
	if err != nil {
		return nil, 0, err
	}
	return dl, size, nil
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure means the process is in a bad state; fall back
		// to a time-derived suffix rather than aborting the request.
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
