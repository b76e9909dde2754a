package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/Ast111/gpu-monitor/internal/sshcmd"
)

const (
	// uploadChunkSize is the streaming write granularity. Matches the pipe
	// buffer on most platforms so writes stay lockstep with remote progress.
	uploadChunkSize = 64 * 1024

	// uploadWaitTimeout bounds how long the remote side may take to finish
	// after the last byte has been delivered and stdin closed.
	uploadWaitTimeout = 300 * time.Second
)

// Outcome is the JSON-ready result of an upload.
type Outcome struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func failure(msg string) Outcome { return Outcome{Error: msg} }

// Upload streams exactly length bytes from source into remotePath on host by
// piping them through `ssh <host> sh -c "cat > '<path>'"`. The upload never
// touches the local disk. Errors are reported in the Outcome, never as a
// partial panic: the subprocess is always reaped before returning.
func (e *Engine) Upload(host, remotePath string, source io.Reader, length int64) Outcome {
	argv := append(e.builder.SSHArgs(host),
		host, "sh", "-c", "cat > "+sshcmd.ShellQuote(remotePath))

	cmd := exec.Command(argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return failure("ssh failed during upload")
	}
	if err := cmd.Start(); err != nil {
		return failure("ssh failed during upload")
	}

	streamErr := e.streamBody(stdin, source, length)
	// Close stdin regardless: cat must see EOF or Wait blocks forever.
	stdin.Close()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-time.After(e.uploadWait):
		cmd.Process.Kill()
		<-done
		e.log.Warn("upload to %s:%s exceeded completion ceiling", host, remotePath)
		return failure("upload timed out")
	}

	if streamErr != nil {
		return failure(streamErr.Error())
	}
	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return failure("ssh failed during upload")
		}
		result := sshcmd.Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
		if msg := result.ErrorText(); msg != "" {
			return failure(msg)
		}
		return failure(fmt.Sprintf("ssh exited with %d", exitErr.ExitCode()))
	}

	e.log.Debug("uploaded %d bytes to %s:%s", length, host, remotePath)
	return Outcome{OK: true}
}

// streamBody copies exactly length bytes from source to dst in fixed-size
// chunks, classifying pipe failures by their cause.
func (e *Engine) streamBody(dst io.WriteCloser, source io.Reader, length int64) error {
	buf := make([]byte, uploadChunkSize)
	remaining := length
	for remaining > 0 {
		chunk := buf
		if remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}
		n, readErr := source.Read(chunk)
		if n > 0 {
			// A write failure means the ssh side of the pipe went away.
			if _, writeErr := dst.Write(chunk[:n]); writeErr != nil {
				return fmt.Errorf("ssh failed during upload")
			}
			remaining -= int64(n)
		}
		if readErr != nil {
			if readErr == io.EOF && remaining == 0 {
				break
			}
			if isConnReset(readErr) {
				return fmt.Errorf("client disconnected")
			}
			// The request body ended before the declared length arrived.
			return fmt.Errorf("upload interrupted")
		}
	}
	return nil
}

// isConnReset reports whether err stems from the uploading client dropping
// its connection, as opposed to the ssh subprocess dying underneath us.
func isConnReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		strings.Contains(err.Error(), "connection reset")
}
