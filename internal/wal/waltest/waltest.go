// Package waltest holds the behaviour every wal.Log backend must share.
package waltest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/beadwal/internal/wal"
)

// Backend opens a fresh log in dir. Reopening the same dir must see prior
// entries.
type Backend struct {
	Open func(t *testing.T, dir string) (wal.Log, func() error)
}

// Run executes the shared suite against b.
func Run(t *testing.T, b Backend) {
	t.Run("empty", func(t *testing.T) { testEmpty(t, b) })
	t.Run("append and replay", func(t *testing.T) { testAppendReplay(t, b) })
	t.Run("entries since", func(t *testing.T) { testEntriesSince(t, b) })
	t.Run("visitor error stops replay", func(t *testing.T) { testVisitorError(t, b) })
	t.Run("reopen keeps entries", func(t *testing.T) { testReopen(t, b) })
	t.Run("closed", func(t *testing.T) { testClosed(t, b) })
	t.Run("rejects invalid op", func(t *testing.T) { testInvalidOp(t, b) })
	t.Run("concurrent appends", func(t *testing.T) { testConcurrent(t, b) })
}

func testEmpty(t *testing.T, b Backend) {
	ctx := context.Background()
	l, closeFn := b.Open(t, t.TempDir())
	defer closeFn()

	st, err := l.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Seq)

	calls := 0
	require.NoError(t, l.Replay(ctx, func(wal.Entry) error { calls++; return nil }))
	assert.Zero(t, calls)
}

func testAppendReplay(t *testing.T, b Backend) {
	ctx := context.Background()
	l, closeFn := b.Open(t, t.TempDir())
	defer closeFn()

	var seqs []uint64
	for i := 0; i < 5; i++ {
		seq, err := l.Append(ctx, wal.OpWrite, fmt.Sprintf("ns/e%d/r", i), []byte(fmt.Sprintf(`{"i":%d}`, i)))
		require.NoError(t, err)
		seqs = append(seqs, seq)
	}
	seq, err := l.Append(ctx, wal.OpDelete, "ns/e0/r", nil)
	require.NoError(t, err)
	seqs = append(seqs, seq)

	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}
	assert.Equal(t, uint64(1), seqs[0])

	var got []wal.Entry
	require.NoError(t, l.Replay(ctx, func(e wal.Entry) error {
		got = append(got, e)
		return nil
	}))
	require.Len(t, got, 6)
	for i, e := range got {
		assert.Equal(t, seqs[i], e.Seq)
	}
	assert.Equal(t, wal.OpWrite, got[2].Op)
	assert.Equal(t, "ns/e2/r", got[2].Path)
	assert.Equal(t, `{"i":2}`, string(got[2].Data))
	assert.Equal(t, wal.OpDelete, got[5].Op)
	assert.Empty(t, got[5].Data)

	st, err := l.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, seqs[5], st.Seq)
}

func testEntriesSince(t *testing.T, b Backend) {
	ctx := context.Background()
	l, closeFn := b.Open(t, t.TempDir())
	defer closeFn()

	sr, ok := l.(wal.SinceReader)
	require.True(t, ok, "backend must implement wal.SinceReader")

	for i := 0; i < 4; i++ {
		_, err := l.Append(ctx, wal.OpWrite, fmt.Sprintf("p%d", i), []byte("x"))
		require.NoError(t, err)
	}

	all, err := sr.EntriesSince(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	tail, err := sr.EntriesSince(ctx, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, uint64(3), tail[0].Seq)
	assert.Equal(t, "p2", tail[0].Path)
	assert.Equal(t, uint64(4), tail[1].Seq)

	none, err := sr.EntriesSince(ctx, 4)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testVisitorError(t *testing.T, b Backend) {
	ctx := context.Background()
	l, closeFn := b.Open(t, t.TempDir())
	defer closeFn()

	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, wal.OpWrite, "p", []byte("x"))
		require.NoError(t, err)
	}

	stop := errors.New("stop")
	visited := 0
	err := l.Replay(ctx, func(wal.Entry) error {
		visited++
		if visited == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, visited)
}

func testReopen(t *testing.T, b Backend) {
	ctx := context.Background()
	dir := t.TempDir()

	l, closeFn := b.Open(t, dir)
	_, err := l.Append(ctx, wal.OpWrite, "a", []byte("1"))
	require.NoError(t, err)
	_, err = l.Append(ctx, wal.OpWrite, "b", []byte("2"))
	require.NoError(t, err)
	require.NoError(t, closeFn())

	l, closeFn = b.Open(t, dir)
	defer closeFn()

	st, err := l.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.Seq)

	seq, err := l.Append(ctx, wal.OpWrite, "c", []byte("3"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
}

func testClosed(t *testing.T, b Backend) {
	ctx := context.Background()
	l, closeFn := b.Open(t, t.TempDir())
	require.NoError(t, closeFn())

	_, err := l.Append(ctx, wal.OpWrite, "p", nil)
	assert.ErrorIs(t, err, wal.ErrClosed)
	assert.ErrorIs(t, l.Replay(ctx, func(wal.Entry) error { return nil }), wal.ErrClosed)
	_, err = l.Status(ctx)
	assert.ErrorIs(t, err, wal.ErrClosed)
}

func testInvalidOp(t *testing.T, b Backend) {
	ctx := context.Background()
	l, closeFn := b.Open(t, t.TempDir())
	defer closeFn()

	_, err := l.Append(ctx, "upsert", "p", nil)
	assert.ErrorIs(t, err, wal.ErrInvalidOp)

	st, err := l.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Seq)
}

func testConcurrent(t *testing.T, b Backend) {
	ctx := context.Background()
	l, closeFn := b.Open(t, t.TempDir())
	defer closeFn()

	const n = 20
	var wg sync.WaitGroup
	seqs := make(chan uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := l.Append(ctx, wal.OpWrite, "p", []byte("x"))
			assert.NoError(t, err)
			seqs <- seq
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[uint64]bool)
	for s := range seqs {
		assert.False(t, seen[s], "duplicate sequence %d", s)
		seen[s] = true
	}
	assert.Len(t, seen, n)

	st, err := l.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(n), st.Seq)
}
