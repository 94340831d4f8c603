package testutil

import (
	"context"
	"sync"

	"github.com/roach88/beadwal/internal/wal"
)

// MemoryLog is an in-memory wal.Log and wal.SinceReader.
//
// The exported error fields make the matching operation fail, for tests of
// error paths.
type MemoryLog struct {
	mu      sync.Mutex
	entries []wal.Entry
	closed  bool

	AppendErr error
	ReplayErr error
	StatusErr error
}

var (
	_ wal.Log         = (*MemoryLog)(nil)
	_ wal.SinceReader = (*MemoryLog)(nil)
)

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append implements wal.Log.
func (m *MemoryLog) Append(_ context.Context, op wal.Op, path string, data []byte) (uint64, error) {
	if err := wal.CheckAppend(op, path); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, wal.ErrClosed
	}
	if m.AppendErr != nil {
		return 0, m.AppendErr
	}
	return m.appendLocked(op, path, data), nil
}

// AppendRaw stores an entry without validation, for planting malformed data.
func (m *MemoryLog) AppendRaw(op wal.Op, path string, data []byte) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(op, path, data)
}

func (m *MemoryLog) appendLocked(op wal.Op, path string, data []byte) uint64 {
	seq := uint64(len(m.entries)) + 1
	m.entries = append(m.entries, wal.Entry{
		Seq:  seq,
		Op:   op,
		Path: path,
		Data: append([]byte(nil), data...),
	})
	return seq
}

// Replay implements wal.Log. The visitor runs without the lock held.
func (m *MemoryLog) Replay(ctx context.Context, fn func(wal.Entry) error) error {
	entries, err := m.EntriesSince(ctx, 0)
	if err != nil {
		return err
	}
	m.mu.Lock()
	replayErr := m.ReplayErr
	m.mu.Unlock()
	if replayErr != nil {
		return replayErr
	}
	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// EntriesSince implements wal.SinceReader.
func (m *MemoryLog) EntriesSince(_ context.Context, seq uint64) ([]wal.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, wal.ErrClosed
	}
	var out []wal.Entry
	for _, e := range m.entries {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out, nil
}

// Status implements wal.Log.
func (m *MemoryLog) Status(context.Context) (wal.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return wal.Status{}, wal.ErrClosed
	}
	if m.StatusErr != nil {
		return wal.Status{}, m.StatusErr
	}
	return wal.Status{Seq: uint64(len(m.entries))}, nil
}

// Entries returns a copy of everything appended so far.
func (m *MemoryLog) Entries() []wal.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]wal.Entry(nil), m.entries...)
}

// SetData overwrites the stored bytes of entry seq, for tamper tests.
func (m *MemoryLog) SetData(seq uint64, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[seq-1].Data = data
}

// Close marks the log closed.
func (m *MemoryLog) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// logOnly hides every method but those of wal.Log.
type logOnly struct {
	wal.Log
}

// WithoutSince returns l restricted to wal.Log, so a type assertion to
// wal.SinceReader fails.
func WithoutSince(l wal.Log) wal.Log {
	return logOnly{Log: l}
}
