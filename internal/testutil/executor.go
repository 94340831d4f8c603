package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/roach88/beadwal/internal/command"
)

// ExecCall is one command seen by a RecordingExecutor.
type ExecCall struct {
	Command command.Command
	Opts    command.ExecOptions
}

// RecordingExecutor records every command and returns scripted results.
type RecordingExecutor struct {
	mu    sync.Mutex
	calls []ExecCall

	// Fail, when set, decides the error for each command.
	Fail func(cmd command.Command) error

	// Delay makes each command take this long, or until ctx is done.
	Delay time.Duration
}

// NewRecordingExecutor creates an executor where every command succeeds.
func NewRecordingExecutor() *RecordingExecutor {
	return &RecordingExecutor{}
}

// Execute implements command.Executor.
func (r *RecordingExecutor) Execute(ctx context.Context, cmd command.Command, opts command.ExecOptions) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, ExecCall{Command: cmd, Opts: opts})
	fail := r.Fail
	delay := r.Delay
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		if err := fail(cmd); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// Calls returns a copy of the recorded calls in execution order.
func (r *RecordingExecutor) Calls() []ExecCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ExecCall(nil), r.calls...)
}

// Commands returns the shell rendering of each recorded command.
func (r *RecordingExecutor) Commands() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Command.String()
	}
	return out
}

// FailWhen returns a Fail function that fails commands whose rendering
// contains substr.
func FailWhen(substr string, err error) func(command.Command) error {
	return func(cmd command.Command) error {
		if strings.Contains(cmd.String(), substr) {
			return err
		}
		return nil
	}
}
