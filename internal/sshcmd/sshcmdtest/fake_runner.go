// Package sshcmdtest provides a fake Runner for tests that need to script
// subprocess behavior without invoking ssh.
package sshcmdtest

import (
	"context"
	"io"
	"sync"

	"github.com/Ast111/gpu-monitor/internal/sshcmd"
)

// Call records one invocation seen by the fake.
type Call struct {
	Argv  []string
	Stdin string
}

// FakeRunner implements sshcmd.Runner with scripted results.
// Safe for concurrent use.
type FakeRunner struct {
	mu    sync.Mutex
	calls []Call

	// Handler produces the result for each invocation. When nil, every call
	// succeeds with empty output.
	Handler func(ctx context.Context, argv []string, stdin string) (sshcmd.Result, error)
}

// Run records the call and delegates to Handler.
func (f *FakeRunner) Run(ctx context.Context, argv []string, stdin io.Reader) (sshcmd.Result, error) {
	var input string
	if stdin != nil {
		data, _ := io.ReadAll(stdin)
		input = string(data)
	}

	f.mu.Lock()
	f.calls = append(f.calls, Call{Argv: append([]string(nil), argv...), Stdin: input})
	f.mu.Unlock()

	if f.Handler == nil {
		return sshcmd.Result{ExitCode: 0}, nil
	}
	return f.Handler(ctx, argv, input)
}

// Calls returns a copy of the recorded invocations.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}
