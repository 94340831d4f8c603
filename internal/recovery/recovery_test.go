package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/beadwal/internal/adapter"
	"github.com/roach88/beadwal/internal/command"
	"github.com/roach88/beadwal/internal/testutil"
	"github.com/roach88/beadwal/internal/transition"
)

// fixture wires an adapter over an in-memory log to a recording executor.
type fixture struct {
	log     *testutil.MemoryLog
	adapter *adapter.Adapter
	exec    *testutil.RecordingExecutor
	builder *command.Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := testutil.NewMemoryLog()
	a, err := adapter.New(log,
		adapter.WithClock(testutil.NewStepClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Second).Now),
		adapter.WithIDGenerator(testutil.NewSequenceIDGenerator("rec")),
	)
	require.NoError(t, err)
	b, err := command.NewBuilder("br")
	require.NoError(t, err)
	return &fixture{log: log, adapter: a, exec: testutil.NewRecordingExecutor(), builder: b}
}

func (f *fixture) record(t *testing.T, op transition.Operation, id string, p transition.Payload) {
	t.Helper()
	_, err := f.adapter.RecordTransition(context.Background(), transition.Change{Operation: op, EntityID: id, Payload: p})
	require.NoError(t, err)
}

func (f *fixture) handler(opts ...Option) *Handler {
	return New(f.adapter, f.builder, f.exec, opts...)
}

func TestRecover_EmptyLog(t *testing.T) {
	f := newFixture(t)

	res := f.handler().Recover(context.Background())

	assert.True(t, res.Success)
	assert.Zero(t, res.EntriesReplayed)
	assert.NotNil(t, res.EntitiesAffected)
	assert.Empty(t, res.EntitiesAffected)
	assert.NoError(t, res.Error)
	assert.Empty(t, f.exec.Calls(), "no command, not even sync")
}

func TestRecover_ReplaysAndSyncs(t *testing.T) {
	f := newFixture(t)
	f.record(t, transition.OpCreate, "bd-1", transition.Payload{"title": "One"})
	f.record(t, transition.OpUpdate, "bd-1", transition.Payload{"status": "in_progress"})
	f.record(t, transition.OpClose, "bd-1", nil)

	res := f.handler(WithWorkDir("/repo"), WithTimeout(5*time.Second)).Recover(context.Background())

	require.True(t, res.Success)
	assert.Equal(t, 3, res.EntriesReplayed)
	assert.Equal(t, []string{"bd-1"}, res.EntitiesAffected)
	assert.Empty(t, res.EntitiesFailed)
	assert.Equal(t, []string{
		"br create --id bd-1 --type task --priority 2 -- One",
		"br update bd-1 --status in_progress",
		"br close bd-1",
		"br sync --flush-only",
	}, f.exec.Commands())

	for _, c := range f.exec.Calls() {
		assert.Equal(t, "/repo", c.Opts.Dir)
		assert.Equal(t, 5*time.Second, c.Opts.Timeout)
	}
}

func TestRecover_FaultIsolation(t *testing.T) {
	f := newFixture(t)
	f.record(t, transition.OpReopen, "bd-1", nil)
	f.record(t, transition.OpReopen, "bd-2", nil)
	f.record(t, transition.OpComment, "bd-2", transition.Payload{"body": "never runs"})
	f.record(t, transition.OpReopen, "bd-3", nil)
	f.exec.Fail = testutil.FailWhen("bd-2", errors.New("tracker rejected"))

	res := f.handler().Recover(context.Background())

	assert.True(t, res.Success)
	assert.Equal(t, []string{"bd-1", "bd-3"}, res.EntitiesAffected)
	assert.Equal(t, []string{"bd-2"}, res.EntitiesFailed)
	assert.Contains(t, res.Failures["bd-2"], "tracker rejected")
	assert.Equal(t, 2, res.EntriesReplayed)
	assert.NotContains(t, f.exec.Commands(), "br comments add bd-2 -- 'never runs'")
}

func TestRecover_BreakerKeepsEntitiesIsolated(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"bad-1", "bad-2", "bad-3", "bad-4", "bad-5", "bad-6", "bd-7"} {
		f.record(t, transition.OpReopen, id, nil)
	}
	f.exec.Fail = testutil.FailWhen("bad-", &command.ExecError{Command: "br reopen", ExitCode: 1, Stderr: "issue not found"})
	breaker := command.NewBreakerExecutor(f.exec, command.DefaultBreakerConfig("br"))

	res := New(f.adapter, f.builder, breaker).Recover(context.Background())

	assert.True(t, res.Success)
	assert.Equal(t, []string{"bd-7"}, res.EntitiesAffected)
	assert.Len(t, res.EntitiesFailed, 6)
	assert.Empty(t, res.SyncError)
	assert.Equal(t, "closed", breaker.State())
	assert.Contains(t, f.exec.Commands(), "br reopen bd-7")
	assert.Contains(t, f.exec.Commands(), "br sync --flush-only")
}

func TestRecover_OrdersByTimestampWithinEntity(t *testing.T) {
	f := newFixture(t)
	times := []time.Time{
		time.Date(2026, 1, 1, 0, 0, 3, 0, time.UTC),
		time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
		time.Date(2026, 1, 1, 0, 0, 2, 0, time.UTC),
	}
	i := 0
	a, err := adapter.New(f.log,
		adapter.WithClock(func() time.Time { t := times[i]; i++; return t }),
		adapter.WithIDGenerator(testutil.NewSequenceIDGenerator("r")),
	)
	require.NoError(t, err)

	ctx := context.Background()
	for _, c := range []transition.Change{
		{Operation: transition.OpClose, EntityID: "bd-1"},
		{Operation: transition.OpCreate, EntityID: "bd-1", Payload: transition.Payload{"title": "T"}},
		{Operation: transition.OpUpdate, EntityID: "bd-1", Payload: transition.Payload{"assignee": "sam"}},
	} {
		_, err := a.RecordTransition(ctx, c)
		require.NoError(t, err)
	}

	res := New(a, f.builder, f.exec, WithSkipSync(true)).Recover(ctx)

	require.True(t, res.Success)
	assert.Equal(t, []string{
		"br create --id bd-1 --type task --priority 2 -- T",
		"br update bd-1 --assignee sam",
		"br close bd-1",
	}, f.exec.Commands())
}

func TestRecover_SkipSync(t *testing.T) {
	f := newFixture(t)
	f.record(t, transition.OpReopen, "bd-1", nil)

	res := f.handler(WithSkipSync(true)).Recover(context.Background())

	require.True(t, res.Success)
	for _, c := range f.exec.Commands() {
		assert.NotContains(t, c, "sync")
	}
	assert.Len(t, f.exec.Calls(), 1)
}

func TestRecover_SyncFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.record(t, transition.OpReopen, "bd-1", nil)
	f.exec.Fail = testutil.FailWhen("sync", errors.New("flush failed"))

	res := f.handler().Recover(context.Background())

	assert.True(t, res.Success)
	assert.Equal(t, []string{"bd-1"}, res.EntitiesAffected)
	assert.Contains(t, res.SyncError, "flush failed")
}

func TestRecover_ReplayFailure(t *testing.T) {
	f := newFixture(t)
	f.record(t, transition.OpReopen, "bd-1", nil)
	f.log.ReplayErr = errors.New("unreadable")

	res := f.handler().Recover(context.Background())

	assert.False(t, res.Success)
	require.Error(t, res.Error)
	assert.Contains(t, res.Error.Error(), "unreadable")
	assert.Zero(t, res.EntriesReplayed)
	assert.Empty(t, res.EntitiesAffected)
	assert.Empty(t, f.exec.Calls())
}

func TestRecover_SkippedEntriesDoNotFailEntity(t *testing.T) {
	f := newFixture(t)
	f.record(t, transition.OpUpdate, "bd-1", transition.Payload{"unknown": "x"})
	f.record(t, transition.OpDep, "bd-1", transition.Payload{"target": "not valid!"})
	f.record(t, transition.OpReopen, "bd-1", nil)

	res := f.handler(WithSkipSync(true)).Recover(context.Background())

	require.True(t, res.Success)
	assert.Equal(t, 1, res.EntriesReplayed)
	assert.Equal(t, 2, res.EntriesSkipped)
	assert.Equal(t, []string{"bd-1"}, res.EntitiesAffected)
	assert.Equal(t, []string{"br reopen bd-1"}, f.exec.Commands())
}

func TestRecover_InvalidEntityFromSource(t *testing.T) {
	src := staticSource{
		{ID: "r1", Operation: transition.OpReopen, EntityID: "bd-1", Payload: transition.Payload{}},
		{ID: "r2", Operation: transition.OpReopen, EntityID: "../x", Payload: transition.Payload{}},
	}
	b, err := command.NewBuilder("br")
	require.NoError(t, err)
	exec := testutil.NewRecordingExecutor()

	res := New(src, b, exec, WithSkipSync(true)).Recover(context.Background())

	assert.True(t, res.Success)
	assert.Equal(t, []string{"bd-1"}, res.EntitiesAffected)
	assert.Equal(t, []string{"../x"}, res.EntitiesFailed)
	assert.Equal(t, []string{"br reopen bd-1"}, exec.Commands())
}

func TestRecover_Concurrent(t *testing.T) {
	f := newFixture(t)
	entities := []string{"bd-1", "bd-2", "bd-3", "bd-4", "bd-5", "bd-6"}
	for _, id := range entities {
		f.record(t, transition.OpCreate, id, transition.Payload{"title": "T"})
		f.record(t, transition.OpClose, id, nil)
	}
	f.exec.Fail = testutil.FailWhen("close bd-4", errors.New("nope"))

	res := f.handler(WithConcurrency(3), WithSkipSync(true)).Recover(context.Background())

	require.True(t, res.Success)
	assert.Equal(t, []string{"bd-1", "bd-2", "bd-3", "bd-5", "bd-6"}, res.EntitiesAffected)
	assert.Equal(t, []string{"bd-4"}, res.EntitiesFailed)
	assert.Equal(t, 11, res.EntriesReplayed)

	// Each entity's create precedes its close regardless of interleaving.
	pos := make(map[string]int)
	for i, c := range f.exec.Commands() {
		pos[c] = i
	}
	for _, id := range entities {
		create := pos["br create --id "+id+" --type task --priority 2 -- T"]
		closeCmd, ok := pos["br close "+id]
		require.True(t, ok, id)
		assert.Less(t, create, closeCmd, id)
	}
}

func TestRecover_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t)
	f.record(t, transition.OpReopen, "bd-1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := f.handler().Recover(ctx)

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Error, context.Canceled)
	assert.Empty(t, f.exec.Calls())
}

func TestRecover_CancelAtGroupBoundary(t *testing.T) {
	f := newFixture(t)
	f.record(t, transition.OpReopen, "bd-1", nil)
	f.record(t, transition.OpComment, "bd-1", transition.Payload{"body": "x"})
	f.record(t, transition.OpReopen, "bd-2", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	f.exec.Fail = func(cmd command.Command) error {
		once.Do(cancel)
		return nil
	}

	res := f.handler().Recover(ctx)

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Error, context.Canceled)
	// bd-1's group was in flight and finished; bd-2 never started; no sync.
	assert.Equal(t, []string{"br reopen bd-1", "br comments add bd-1 -- x"}, f.exec.Commands())
	assert.Equal(t, []string{"bd-1"}, res.EntitiesAffected)
	assert.Equal(t, 2, res.EntriesReplayed)
}

func TestRecover_Duration(t *testing.T) {
	f := newFixture(t)
	clock := testutil.NewStepClock(time.Unix(0, 0), 250*time.Millisecond)

	res := f.handler(WithClock(clock.Now)).Recover(context.Background())

	assert.Equal(t, 250*time.Millisecond, res.Duration)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"duration":250000000`)
}

func TestGroupByEntity(t *testing.T) {
	recs := []transition.Record{
		{ID: "1", EntityID: "b"},
		{ID: "2", EntityID: "a"},
		{ID: "3", EntityID: "b"},
	}
	groups := groupByEntity(recs)
	require.Len(t, groups, 2)
	assert.Equal(t, "b", groups[0].entity)
	assert.Equal(t, "1", groups[0].records[0].ID)
	assert.Equal(t, "3", groups[0].records[1].ID)
	assert.Equal(t, "a", groups[1].entity)
}

type staticSource []transition.Record

func (s staticSource) Replay(context.Context) ([]transition.Record, error) {
	return s, nil
}
