package recovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/beadwal/internal/command"
	"github.com/roach88/beadwal/internal/metrics"
	"github.com/roach88/beadwal/internal/transition"
)

// Source supplies the records to replay, oldest first.
// *adapter.Adapter satisfies it.
type Source interface {
	Replay(ctx context.Context) ([]transition.Record, error)
}

// Result summarises a recovery run.
type Result struct {
	// Success is false only when the log could not be read or the run was cancelled.
	Success bool `json:"success" yaml:"success"`

	// EntriesReplayed counts records whose command ran successfully.
	EntriesReplayed int `json:"entries_replayed" yaml:"entries_replayed"`

	// EntriesSkipped counts records that had nothing to apply.
	EntriesSkipped int `json:"entries_skipped" yaml:"entries_skipped"`

	// EntitiesAffected lists entities whose whole group was applied, sorted.
	EntitiesAffected []string `json:"entities_affected" yaml:"entities_affected"`

	// EntitiesFailed lists entities whose group was aborted, sorted.
	EntitiesFailed []string `json:"entities_failed" yaml:"entities_failed"`

	// Failures maps each failed entity to the error that aborted it.
	Failures map[string]string `json:"failures,omitempty" yaml:"failures,omitempty"`

	// SyncError is set when the final sync failed. It does not affect Success.
	SyncError string `json:"sync_error,omitempty" yaml:"sync_error,omitempty"`

	// Duration is the wall-clock time of the run. JSON and YAML carry it
	// as integer nanoseconds; text output rounds it to milliseconds.
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Error is the reason Success is false.
	Error error `json:"-" yaml:"-"`
}

// Handler drives recovery.
type Handler struct {
	source      Source
	builder     *command.Builder
	exec        command.Executor
	workDir     string
	timeout     time.Duration
	skipSync    bool
	concurrency int
	logger      zerolog.Logger
	now         func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithWorkDir sets the working directory for every command.
func WithWorkDir(dir string) Option {
	return func(h *Handler) { h.workDir = dir }
}

// WithTimeout bounds each command. The default is command.DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) { h.timeout = d }
}

// WithSkipSync suppresses the final sync command.
func WithSkipSync(skip bool) Option {
	return func(h *Handler) { h.skipSync = skip }
}

// WithConcurrency sets how many entity groups may run at once.
// Values below 1 mean 1.
func WithConcurrency(n int) Option {
	return func(h *Handler) { h.concurrency = n }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithClock sets the time source used for Result.Duration.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// New creates a Handler.
func New(source Source, builder *command.Builder, exec command.Executor, opts ...Option) *Handler {
	h := &Handler{
		source:      source,
		builder:     builder,
		exec:        exec,
		timeout:     command.DefaultTimeout,
		concurrency: 1,
		logger:      zerolog.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.concurrency < 1 {
		h.concurrency = 1
	}
	if h.timeout <= 0 {
		h.timeout = command.DefaultTimeout
	}
	return h
}

type group struct {
	entity  string
	records []transition.Record
}

// groupByEntity splits recs by entity, keeping order within each group and
// ordering groups by first appearance.
func groupByEntity(recs []transition.Record) []group {
	index := make(map[string]int)
	var groups []group
	for _, rec := range recs {
		i, ok := index[rec.EntityID]
		if !ok {
			i = len(groups)
			index[rec.EntityID] = i
			groups = append(groups, group{entity: rec.EntityID})
		}
		groups[i].records = append(groups[i].records, rec)
	}
	return groups
}

// tally accumulates group outcomes; safe for concurrent use.
type tally struct {
	mu       sync.Mutex
	replayed int
	skipped  int
	affected []string
	failures map[string]string
}

func (t *tally) add(entity string, replayed, skipped int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replayed += replayed
	t.skipped += skipped
	if err != nil {
		t.failures[entity] = err.Error()
		return
	}
	t.affected = append(t.affected, entity)
}

// Recover replays every record from the source. It always returns a Result.
func (h *Handler) Recover(ctx context.Context) Result {
	start := h.now()
	res := h.recover(ctx)
	res.Duration = h.now().Sub(start)
	metrics.RecoveryDuration.Observe(res.Duration.Seconds())
	return res
}

func (h *Handler) recover(ctx context.Context) Result {
	res := Result{
		EntitiesAffected: []string{},
		EntitiesFailed:   []string{},
	}

	recs, err := h.source.Replay(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("recovery aborted: cannot read log")
		res.Error = fmt.Errorf("replay: %w", err)
		return res
	}
	if len(recs) == 0 {
		h.logger.Info().Msg("nothing to recover")
		res.Success = true
		return res
	}

	groups := groupByEntity(recs)
	h.logger.Info().
		Int("records", len(recs)).
		Int("entities", len(groups)).
		Int("concurrency", h.concurrency).
		Msg("recovery starting")

	t := &tally{failures: make(map[string]string)}
	cancelErr := h.runGroups(ctx, groups, t)

	res.EntriesReplayed = t.replayed
	res.EntriesSkipped = t.skipped
	res.EntitiesAffected = append(res.EntitiesAffected, t.affected...)
	sort.Strings(res.EntitiesAffected)
	for entity := range t.failures {
		res.EntitiesFailed = append(res.EntitiesFailed, entity)
	}
	sort.Strings(res.EntitiesFailed)
	if len(t.failures) > 0 {
		res.Failures = t.failures
	}

	if cancelErr != nil {
		h.logger.Warn().Err(cancelErr).Msg("recovery cancelled")
		res.Error = fmt.Errorf("recovery cancelled: %w", cancelErr)
		return res
	}

	if !h.skipSync {
		if err := h.sync(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("sync failed")
			res.SyncError = err.Error()
		}
	}

	res.Success = true
	h.logger.Info().
		Int("replayed", res.EntriesReplayed).
		Int("skipped", res.EntriesSkipped).
		Int("failed_entities", len(res.EntitiesFailed)).
		Msg("recovery finished")
	return res
}

// runGroups replays every group and returns the context error if the run
// was cancelled before all groups started.
func (h *Handler) runGroups(ctx context.Context, groups []group, t *tally) error {
	if h.concurrency == 1 {
		for _, g := range groups {
			if err := ctx.Err(); err != nil {
				return err
			}
			replayed, skipped, err := h.replayGroup(ctx, g)
			t.add(g.entity, replayed, skipped, err)
		}
		return nil
	}

	var eg errgroup.Group
	eg.SetLimit(h.concurrency)
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			_ = eg.Wait()
			return err
		}
		g := g
		eg.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			replayed, skipped, err := h.replayGroup(ctx, g)
			t.add(g.entity, replayed, skipped, err)
			return nil
		})
	}
	return eg.Wait()
}

// replayGroup applies one entity's records in order and stops at the first failure.
func (h *Handler) replayGroup(ctx context.Context, g group) (replayed, skipped int, err error) {
	logger := h.logger.With().Str("entity", g.entity).Logger()

	defer func() {
		if err != nil {
			metrics.EntityFailures.Inc()
			logger.Warn().Err(err).Int("replayed", replayed).Msg("entity recovery failed")
		}
	}()

	if err := transition.ValidateEntityID(g.entity); err != nil {
		return 0, 0, err
	}

	opts := command.ExecOptions{Dir: h.workDir, Timeout: h.timeout}
	// A command that has started runs to completion or timeout even if
	// recovery is cancelled meanwhile.
	execCtx := context.WithoutCancel(ctx)

	for _, rec := range g.records {
		cmd, err := h.builder.Build(rec)
		if command.IsSkip(err) {
			skipped++
			metrics.EntriesSkipped.Inc()
			logger.Debug().Str("record", rec.ID).Err(err).Msg("record skipped")
			continue
		}
		if err != nil {
			return replayed, skipped, fmt.Errorf("record %s: %w", rec.ID, err)
		}

		if _, err := h.exec.Execute(execCtx, cmd, opts); err != nil {
			return replayed, skipped, fmt.Errorf("record %s (%s): %w", rec.ID, rec.Operation, err)
		}
		replayed++
		metrics.EntriesReplayed.Inc()
		logger.Debug().Str("record", rec.ID).Str("operation", string(rec.Operation)).Msg("record replayed")
	}
	return replayed, skipped, nil
}

func (h *Handler) sync(ctx context.Context) error {
	opts := command.ExecOptions{Dir: h.workDir, Timeout: h.timeout}
	if _, err := h.exec.Execute(ctx, h.builder.SyncCommand(), opts); err != nil {
		return err
	}
	return nil
}
