package wal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Op tags what an entry does to its path.
type Op string

const (
	OpWrite  Op = "write"
	OpDelete Op = "delete"
)

// Entry is one record in the log.
type Entry struct {
	Seq  uint64
	Op   Op
	Path string
	Data []byte
}

// Status describes the log head.
type Status struct {
	// Seq is the sequence number of the last appended entry, 0 when empty.
	Seq uint64
}

// Log is the append-only log every backend implements.
type Log interface {
	// Append durably stores an entry and returns its sequence number.
	Append(ctx context.Context, op Op, path string, data []byte) (uint64, error)

	// Replay visits every entry in ascending sequence order.
	// A non-nil error from fn stops replay and is returned.
	Replay(ctx context.Context, fn func(Entry) error) error

	// Status reports the current head of the log.
	Status(ctx context.Context) (Status, error)
}

// SinceReader is the optional incremental-read capability.
type SinceReader interface {
	// EntriesSince returns entries with Seq > seq in ascending order.
	EntriesSince(ctx context.Context, seq uint64) ([]Entry, error)
}

// ErrClosed is returned by operations on a closed log.
var ErrClosed = errors.New("wal: log is closed")

// ErrInvalidOp is returned when Append receives an unknown op.
var ErrInvalidOp = errors.New("wal: invalid op")

// Valid reports whether op is a known op tag.
func (op Op) Valid() bool {
	return op == OpWrite || op == OpDelete
}

// CheckAppend validates the arguments shared by every backend's Append.
func CheckAppend(op Op, path string) error {
	if !op.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOp, op)
	}
	if path == "" {
		return errors.New("wal: empty path")
	}
	return nil
}

// Key layout shared by the key-value backends.
const (
	entryPrefix = "e/"
	seqKey      = "m/seq"
	seqWidth    = 20
)

// EntryKey returns the ordered key for sequence seq.
// Zero padding to the width of MaxUint64 keeps byte order equal to numeric order.
func EntryKey(seq uint64) []byte {
	s := strconv.FormatUint(seq, 10)
	key := make([]byte, 0, len(entryPrefix)+seqWidth)
	key = append(key, entryPrefix...)
	for i := len(s); i < seqWidth; i++ {
		key = append(key, '0')
	}
	return append(key, s...)
}

// EntryPrefix is the common prefix of all entry keys.
func EntryPrefix() []byte {
	return []byte(entryPrefix)
}

// EntryUpperBound is the first key past every entry key.
func EntryUpperBound() []byte {
	return []byte("e0")
}

// SeqKey is the metadata key holding the last sequence number.
func SeqKey() []byte {
	return []byte(seqKey)
}

// ParseEntryKey extracts the sequence number from an entry key.
func ParseEntryKey(key []byte) (uint64, error) {
	if len(key) != len(entryPrefix)+seqWidth || string(key[:len(entryPrefix)]) != entryPrefix {
		return 0, fmt.Errorf("wal: malformed entry key %q", key)
	}
	seq, err := strconv.ParseUint(string(key[len(entryPrefix):]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("wal: malformed entry key %q: %w", key, err)
	}
	return seq, nil
}

// EncodeSeq renders a sequence number for the metadata key.
func EncodeSeq(seq uint64) []byte {
	return []byte(strconv.FormatUint(seq, 10))
}

// DecodeSeq parses a value written by EncodeSeq. Empty means zero.
func DecodeSeq(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, nil
	}
	seq, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("wal: malformed sequence %q: %w", b, err)
	}
	return seq, nil
}
