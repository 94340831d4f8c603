// Package badgerwal stores the write-ahead log in BadgerDB.
//
// Key layout:
//
//	e/<20-digit seq>  JSON {op, path, data}
//	m/seq             last assigned sequence number
//
// Both keys are written in one transaction with SyncWrites enabled, so a
// sequence number is never handed out for an entry that was not persisted.
package badgerwal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/roach88/beadwal/internal/wal"
)

// Config holds BadgerDB settings.
type Config struct {
	// Path is the database directory.
	Path string

	// Compression enables Snappy compression of table blocks.
	Compression bool

	// ValueLogFileSize overrides the value log file size when positive.
	ValueLogFileSize int64
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Path == "" {
		return errors.New("badgerwal: path is required")
	}
	if c.ValueLogFileSize < 0 {
		return errors.New("badgerwal: value log file size must not be negative")
	}
	return nil
}

// Log is a BadgerDB-backed wal.Log.
type Log struct {
	mu     sync.RWMutex
	appMu  sync.Mutex
	db     *badger.DB
	closed bool
}

var (
	_ wal.Log         = (*Log)(nil)
	_ wal.SinceReader = (*Log)(nil)
)

// Open opens or creates the database at cfg.Path.
func Open(cfg Config) (*Log, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid badger config: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = true
	if cfg.Compression {
		opts.Compression = options.Snappy
	}
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	// Badger logs through its own logger; silence it.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
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

	// Sequence allocation is read-modify-write on m/seq.
	l.appMu.Lock()
	defer l.appMu.Unlock()

	var seq uint64
	err = l.db.Update(func(txn *badger.Txn) error {
		last, err := readSeq(txn)
		if err != nil {
			return err
		}
		seq = last + 1
		if err := txn.SetEntry(badger.NewEntry(wal.EntryKey(seq), value)); err != nil {
			return err
		}
		return txn.Set(wal.SeqKey(), wal.EncodeSeq(seq))
	})
	if err != nil {
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

	var out []wal.Entry
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Prefix = wal.EntryPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(wal.EntryKey(seq + 1)); it.ValidForPrefix(wal.EntryPrefix()); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()
			s, err := wal.ParseEntryKey(item.Key())
			if err != nil {
				return err
			}
			var e wal.Entry
			err = item.Value(func(val []byte) error {
				var derr error
				e, derr = wal.DecodeValue(s, val)
				return derr
			})
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
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

	var seq uint64
	err := l.db.View(func(txn *badger.Txn) error {
		var err error
		seq, err = readSeq(txn)
		return err
	})
	if err != nil {
		return wal.Status{}, fmt.Errorf("status: %w", err)
	}
	return wal.Status{Seq: seq}, nil
}

func readSeq(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(wal.SeqKey())
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = item.Value(func(val []byte) error {
		var derr error
		seq, derr = wal.DecodeSeq(val)
		return derr
	})
	return seq, err
}
