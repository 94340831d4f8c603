package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/beadwal/internal/command"
	"github.com/roach88/beadwal/internal/wal"
)

func TestStepClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewStepClock(start, time.Second)

	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start.Add(time.Second), clock.Now())
	assert.Equal(t, int64(2), clock.Calls())

	clock.Reset()
	assert.Equal(t, start, clock.Now())
}

func TestStepClock_ThreadSafe(t *testing.T) {
	clock := NewStepClock(time.Unix(0, 0), time.Nanosecond)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				clock.Now()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1000), clock.Calls())
}

func TestFixedIDGenerator(t *testing.T) {
	gen := NewFixedIDGenerator("a", "b")
	assert.Equal(t, "a", gen.Generate())
	assert.Equal(t, "b", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}

func TestSequenceIDGenerator(t *testing.T) {
	gen := NewSequenceIDGenerator("")
	assert.Equal(t, "rec-0001", gen.Generate())
	assert.Equal(t, "rec-0002", gen.Generate())
}

func TestMemoryLog(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	seq, err := log.Append(ctx, wal.OpWrite, "a", []byte("1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, uint64(2), log.AppendRaw("bogus", "", nil))

	st, err := log.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.Seq)

	since, err := log.EntriesSince(ctx, 1)
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, wal.Op("bogus"), since[0].Op)

	log.SetData(1, []byte("2"))
	assert.Equal(t, "2", string(log.Entries()[0].Data))

	boom := errors.New("boom")
	log.ReplayErr = boom
	assert.ErrorIs(t, log.Replay(ctx, func(wal.Entry) error { return nil }), boom)

	require.NoError(t, log.Close())
	_, err = log.Append(ctx, wal.OpWrite, "a", nil)
	assert.ErrorIs(t, err, wal.ErrClosed)
}

func TestWithoutSince(t *testing.T) {
	var l wal.Log = WithoutSince(NewMemoryLog())
	_, ok := l.(wal.SinceReader)
	assert.False(t, ok)
}

func TestRecordingExecutor(t *testing.T) {
	exec := NewRecordingExecutor()
	exec.Fail = FailWhen("bd-2", errors.New("nope"))

	ctx := context.Background()
	_, err := exec.Execute(ctx, command.Command{Program: "br", Args: []string{"reopen", "bd-1"}}, command.ExecOptions{Dir: "/w"})
	require.NoError(t, err)
	_, err = exec.Execute(ctx, command.Command{Program: "br", Args: []string{"reopen", "bd-2"}}, command.ExecOptions{})
	assert.EqualError(t, err, "nope")

	assert.Equal(t, []string{"br reopen bd-1", "br reopen bd-2"}, exec.Commands())
	assert.Equal(t, "/w", exec.Calls()[0].Opts.Dir)
}

func TestRecordingExecutor_DelayHonoursContext(t *testing.T) {
	exec := &RecordingExecutor{Delay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := exec.Execute(ctx, command.Command{Program: "br"}, command.ExecOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
