package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/roach88/beadwal/internal/metrics"
)

// BreakerConfig configures NewBreakerExecutor.
type BreakerConfig struct {
	Name string

	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32

	// Timeout is how long the breaker stays open before letting a trial request through.
	Timeout time.Duration
}

// DefaultBreakerConfig returns the settings used by the CLI.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
	}
}

// BreakerExecutor fails fast once the wrapped executor keeps failing to
// run the tool, e.g. when the binary is missing or every call times out.
// A command that runs and exits non-zero counts as a success for the
// breaker, so one entity's rejected history never blocks the others.
type BreakerExecutor struct {
	next Executor
	cb   *gobreaker.CircuitBreaker[[]byte]
}

// NewBreakerExecutor wraps next with a circuit breaker.
func NewBreakerExecutor(next Executor, cfg BreakerConfig) *BreakerExecutor {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 1
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || ToolRan(err)
		},
	}
	return &BreakerExecutor{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[[]byte](settings),
	}
}

// Execute implements Executor.
func (b *BreakerExecutor) Execute(ctx context.Context, cmd Command, opts ExecOptions) ([]byte, error) {
	out, err := b.cb.Execute(func() ([]byte, error) {
		return b.next.Execute(ctx, cmd, opts)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CommandDuration.WithLabelValues(metrics.OutcomeRejected).Observe(0)
		return nil, fmt.Errorf("%s: %w", cmd.Program, err)
	}
	return out, err
}

// State returns the breaker state name: closed, half-open, or open.
func (b *BreakerExecutor) State() string {
	return b.cb.State().String()
}

// RateLimitedExecutor waits on a token bucket before each command.
type RateLimitedExecutor struct {
	next    Executor
	limiter *rate.Limiter
}

// NewRateLimitedExecutor wraps next so that at most perSecond commands
// start per second, with bursts of up to burst.
func NewRateLimitedExecutor(next Executor, perSecond float64, burst int) *RateLimitedExecutor {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedExecutor{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Execute implements Executor.
func (r *RateLimitedExecutor) Execute(ctx context.Context, cmd Command, opts ExecOptions) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return r.next.Execute(ctx, cmd, opts)
}

// ToolRan reports whether err is the tool's own non-zero exit, as opposed
// to a failure to start it or to let it finish.
func ToolRan(err error) bool {
	var execErr *ExecError
	return errors.As(err, &execErr) && execErr.ExitCode >= 0 && execErr.Err == nil
}
