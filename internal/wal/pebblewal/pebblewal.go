// Package pebblewal stores the write-ahead log in a Pebble database.
//
// It uses the same key layout as badgerwal; each append is a single batch
// holding the entry and the updated head, committed with pebble.Sync.
package pebblewal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/roach88/beadwal/internal/wal"
)

// Log is a Pebble-backed wal.Log.
type Log struct {
	mu     sync.RWMutex
	appMu  sync.Mutex
	db     *pebble.DB
	closed bool
}

var (
	_ wal.Log         = (*Log)(nil)
	_ wal.SinceReader = (*Log)(nil)
)

// Open opens or creates the database in dir.
func Open(dir string) (*Log, error) {
	if dir == "" {
		return nil, errors.New("pebblewal: directory is required")
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Log{db: db}, nil
}

// Close closes the database. Further operations return wal.ErrClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}

// Append stores an entry and returns its sequence number.
func (l *Log) Append(ctx context.Context, op wal.Op, path string, data []byte) (uint64, error) {
	if err := wal.CheckAppend(op, path); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	value, err := wal.EncodeValue(op, path, data)
	if err != nil {
		return 0, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, wal.ErrClosed
	}

	l.appMu.Lock()
	defer l.appMu.Unlock()

	last, err := l.head()
	if err != nil {
		return 0, fmt.Errorf("append entry: %w", err)
	}
	seq := last + 1

	b := l.db.NewBatch()
	defer b.Close()
	if err := b.Set(wal.EntryKey(seq), value, nil); err != nil {
		return 0, fmt.Errorf("append entry: %w", err)
	}
	if err := b.Set(wal.SeqKey(), wal.EncodeSeq(seq), nil); err != nil {
		return 0, fmt.Errorf("append entry: %w", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("append entry: %w", err)
	}
	return seq, nil
}

// Replay visits all entries in ascending sequence order.
func (l *Log) Replay(ctx context.Context, fn func(wal.Entry) error) error {
	entries, err := l.EntriesSince(ctx, 0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// EntriesSince returns entries with a sequence number greater than seq.
func (l *Log) EntriesSince(ctx context.Context, seq uint64) ([]wal.Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, wal.ErrClosed
	}

	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: wal.EntryKey(seq + 1),
		UpperBound: wal.EntryUpperBound(),
	})
	if err != nil {
		return nil, fmt.Errorf("entries since %d: %w", seq, err)
	}
	defer iter.Close()

	var out []wal.Entry
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := wal.ParseEntryKey(iter.Key())
		if err != nil {
			return nil, err
		}
		// DecodeValue unmarshals into fresh memory, so the iterator's
		// buffer may be reused afterwards.
		e, err := wal.DecodeValue(s, iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("entries since %d: %w", seq, err)
	}
	return out, nil
}

// Status reports the last assigned sequence number.
func (l *Log) Status(ctx context.Context) (wal.Status, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return wal.Status{}, wal.ErrClosed
	}
	seq, err := l.head()
	if err != nil {
		return wal.Status{}, fmt.Errorf("status: %w", err)
	}
	return wal.Status{Seq: seq}, nil
}

func (l *Log) head() (uint64, error) {
	val, closer, err := l.db.Get(wal.SeqKey())
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	return wal.DecodeSeq(val)
}
