package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/roach88/beadwal/internal/metrics"
)

// DefaultTimeout bounds a single command when none is configured.
const DefaultTimeout = 30 * time.Second

// maxStderr bounds how much stderr is kept in an ExecError.
const maxStderr = 1024

// ExecOptions controls where and for how long a command runs.
type ExecOptions struct {
	// Dir is the working directory; empty means the current directory.
	Dir string

	// Timeout bounds the command; zero means DefaultTimeout.
	Timeout time.Duration
}

// Executor runs commands. Implementations return captured stdout.
type Executor interface {
	Execute(ctx context.Context, cmd Command, opts ExecOptions) ([]byte, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, cmd Command, opts ExecOptions) ([]byte, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, cmd Command, opts ExecOptions) ([]byte, error) {
	return f(ctx, cmd, opts)
}

// ExecError describes a command that did not exit cleanly.
type ExecError struct {
	// Command is the shell rendering of the command.
	Command string

	// ExitCode is the process exit status, or -1 if it did not exit.
	ExitCode int

	// Stderr is the trimmed, truncated standard error output.
	Stderr string

	Err error
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	msg := fmt.Sprintf("command %s failed", e.Command)
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ExecError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err came from a command exceeding its timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// ProcessExecutor runs the argument vector directly, with no shell.
type ProcessExecutor struct{}

// Execute implements Executor.
func (ProcessExecutor) Execute(ctx context.Context, cmd Command, opts ExecOptions) ([]byte, error) {
	return run(ctx, cmd, cmd.Program, cmd.Args, opts)
}

// ShellExecutor runs Command.String through a POSIX shell.
// Use it only when the tool is a shell function or alias.
type ShellExecutor struct {
	// Shell is the shell binary; empty means "sh".
	Shell string
}

// Execute implements Executor.
func (s ShellExecutor) Execute(ctx context.Context, cmd Command, opts ExecOptions) ([]byte, error) {
	shell := s.Shell
	if shell == "" {
		shell = "sh"
	}
	return run(ctx, cmd, shell, []string{"-c", cmd.String()}, opts)
}

func run(ctx context.Context, cmd Command, name string, args []string, opts ExecOptions) ([]byte, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, name, args...)
	c.Dir = opts.Dir
	c.Stdout = &stdout
	c.Stderr = &stderr
	c.WaitDelay = time.Second

	start := time.Now()
	err := c.Run()
	elapsed := time.Since(start).Seconds()

	if err == nil {
		metrics.CommandDuration.WithLabelValues(metrics.OutcomeSuccess).Observe(elapsed)
		return stdout.Bytes(), nil
	}
	metrics.CommandDuration.WithLabelValues(metrics.OutcomeFailure).Observe(elapsed)

	execErr := &ExecError{
		Command:  cmd.String(),
		ExitCode: -1,
		Stderr:   trimStderr(stderr.String()),
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		execErr.ExitCode = exitErr.ExitCode()
		execErr.Err = nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		execErr.Err = ctxErr
	}
	return stdout.Bytes(), execErr
}

func trimStderr(s string) string {
	s = strings.TrimSpace(SanitizeText(s))
	if len(s) > maxStderr {
		s = s[:maxStderr] + "..."
	}
	return s
}
