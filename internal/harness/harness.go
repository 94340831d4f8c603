package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/beadwal/internal/adapter"
	"github.com/roach88/beadwal/internal/command"
	"github.com/roach88/beadwal/internal/recovery"
	"github.com/roach88/beadwal/internal/testutil"
	"github.com/roach88/beadwal/internal/transition"
	"github.com/roach88/beadwal/internal/wal"
)

// Epoch is the first timestamp handed out in every scenario.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// ErrCommandFailed is returned by the executor for commands listed in
// Scenario.Fail.
var ErrCommandFailed = errors.New("exit status 1")

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when every expectation matched.
	Pass bool

	// Errors describes each expectation that did not match.
	Errors []string

	// Recovery is the handler result.
	Recovery recovery.Result

	// Commands are the shell renderings of every executed command, in order.
	Commands []string

	// Discarded counts entries the adapter rejected, by reason.
	Discarded map[string]int
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Harness runs scenarios with a deterministic clock and id sequence.
type Harness struct {
	logger zerolog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger routes adapter and recovery logs to l.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// New creates a Harness.
func New(opts ...Option) *Harness {
	h := &Harness{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes s against a fresh in-memory log.
// The returned error reports a scenario that could not be set up; failed
// expectations are reported in Result.
func (h *Harness) Run(ctx context.Context, s *Scenario) (*Result, error) {
	log := testutil.NewMemoryLog()
	clock := testutil.NewStepClock(Epoch, time.Second)

	opts := []adapter.Option{
		adapter.WithClock(clock.Now),
		adapter.WithIDGenerator(testutil.NewSequenceIDGenerator("rec")),
		adapter.WithLogger(h.logger),
	}
	if s.Namespace != "" {
		opts = append(opts, adapter.WithNamespace(s.Namespace))
	}
	a, err := adapter.New(log, opts...)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	result := &Result{Pass: true}

	for i, step := range s.Transitions {
		_, err := a.RecordTransition(ctx, transition.Change{
			Operation: transition.Operation(step.Op),
			EntityID:  step.Entity,
			Payload:   transition.Payload(step.Payload),
		})
		switch {
		case step.Reject && err == nil:
			result.addError("transitions[%d]: expected rejection, got none", i)
		case step.Reject && !transition.IsValidationError(err):
			result.addError("transitions[%d]: expected validation error, got %v", i, err)
		case !step.Reject && err != nil:
			return nil, fmt.Errorf("scenario %s: transitions[%d]: %w", s.Name, i, err)
		}
	}
	for _, raw := range s.Raw {
		op := wal.OpWrite
		if raw.Op == "delete" {
			op = wal.OpDelete
		}
		log.AppendRaw(op, raw.Path, []byte(raw.Data))
	}

	scan, err := a.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: scan: %w", s.Name, err)
	}
	result.Discarded = scan.Discarded

	builder, err := command.NewBuilder(s.Tool)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	exec := testutil.NewRecordingExecutor()
	exec.Fail = failOn(s.Fail)

	handler := recovery.New(a, builder, exec,
		recovery.WithSkipSync(s.SkipSync),
		recovery.WithLogger(h.logger),
		recovery.WithClock(testutil.FixedTime(Epoch)),
	)
	result.Recovery = handler.Recover(ctx)
	result.Commands = exec.Commands()

	check(result, s.Expect)
	return result, nil
}

func failOn(substrs []string) func(command.Command) error {
	if len(substrs) == 0 {
		return nil
	}
	return func(cmd command.Command) error {
		line := cmd.String()
		for _, s := range substrs {
			if strings.Contains(line, s) {
				return ErrCommandFailed
			}
		}
		return nil
	}
}

func check(r *Result, want Expectation) {
	got := r.Recovery
	if want.Success != nil && got.Success != *want.Success {
		r.addError("success: want %v, got %v (%v)", *want.Success, got.Success, got.Error)
	}
	if want.Replayed != nil && got.EntriesReplayed != *want.Replayed {
		r.addError("replayed: want %d, got %d", *want.Replayed, got.EntriesReplayed)
	}
	if want.Skipped != nil && got.EntriesSkipped != *want.Skipped {
		r.addError("skipped: want %d, got %d", *want.Skipped, got.EntriesSkipped)
	}
	if want.Affected != nil && !slices.Equal(want.Affected, got.EntitiesAffected) {
		r.addError("affected: want %v, got %v", want.Affected, got.EntitiesAffected)
	}
	if want.Failed != nil && !slices.Equal(want.Failed, got.EntitiesFailed) {
		r.addError("failed: want %v, got %v", want.Failed, got.EntitiesFailed)
	}
	if want.Commands != nil && !slices.Equal(want.Commands, r.Commands) {
		r.addError("commands: want %q, got %q", want.Commands, r.Commands)
	}
	if want.Discarded != nil {
		for reason, n := range want.Discarded {
			if r.Discarded[reason] != n {
				r.addError("discarded[%s]: want %d, got %d", reason, n, r.Discarded[reason])
			}
		}
		for reason, n := range r.Discarded {
			if _, ok := want.Discarded[reason]; !ok {
				r.addError("discarded[%s]: unexpected %d", reason, n)
			}
		}
	}
}
