package sshcmd

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
)

// Result holds the outcome of one subprocess invocation.
// ExitCode is -1 when the command could not be executed at all.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// ErrorText returns the diagnostic text for a failed invocation: stderr,
// falling back to stdout. Returns "" when neither carries anything.
func (r Result) ErrorText() string {
	if s := strings.TrimSpace(string(r.Stderr)); s != "" {
		return s
	}
	return strings.TrimSpace(string(r.Stdout))
}

// Runner executes an argument vector with a context deadline and optional
// stdin. Implementations must kill the subprocess when the context expires.
type Runner interface {
	Run(ctx context.Context, argv []string, stdin io.Reader) (Result, error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

// NewExecRunner returns the production Runner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes argv, capturing stdout and stderr. A non-zero exit is not an
// error; it is reported through Result.ExitCode. The returned error is
// non-nil only when the command could not run (including context expiry,
// which surfaces as context.DeadlineExceeded).
func (r *ExecRunner) Run(ctx context.Context, argv []string, stdin io.Reader) (Result, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if stdin != nil {
		cmd.Stdin = stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, ctxErr
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, runErr
	}
	return result, nil
}
