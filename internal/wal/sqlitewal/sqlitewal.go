// Package sqlitewal stores the write-ahead log in a SQLite database.
//
// The database is configured with:
//   - WAL journal mode for concurrent reads during writes
//   - FULL synchronous mode, so Append is durable when it returns
//   - 5-second busy timeout for lock contention
//
// Schema changes are tracked with PRAGMA user_version.
package sqlitewal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/beadwal/internal/wal"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added path index on wal_entries
const currentSchemaVersion = 1

// Log is a SQLite-backed wal.Log.
type Log struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
	now    func() time.Time
}

var (
	_ wal.Log         = (*Log)(nil)
	_ wal.SinceReader = (*Log)(nil)
)

// Open creates or opens a SQLite log at path.
// Applies pragmas and migrations; safe to call on an existing file.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Log{db: db, now: time.Now}, nil
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

// Append inserts an entry and returns its sequence number.
func (l *Log) Append(ctx context.Context, op wal.Op, path string, data []byte) (uint64, error) {
	if err := wal.CheckAppend(op, path); err != nil {
		return 0, err
	}
	if data == nil {
		data = []byte{}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, wal.ErrClosed
	}

	res, err := l.db.ExecContext(ctx,
		`INSERT INTO wal_entries (op, path, data, created_at) VALUES (?, ?, ?, ?)`,
		string(op), path, data, l.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("append entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append entry: %w", err)
	}
	return uint64(seq), nil
}

// Replay visits all entries in ascending sequence order.
// Rows are read before fn runs so the single connection is free for fn.
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

	rows, err := l.db.QueryContext(ctx, `
		SELECT seq, op, path, data
		FROM wal_entries
		WHERE seq > ?
		ORDER BY seq ASC
	`, int64(seq))
	if err != nil {
		return nil, fmt.Errorf("entries since %d: %w", seq, err)
	}
	defer rows.Close()

	var out []wal.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("entries since %d: %w", seq, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("entries since %d: %w", seq, err)
	}
	return out, nil
}

// Status reports the highest sequence number, 0 for an empty log.
func (l *Log) Status(ctx context.Context) (wal.Status, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return wal.Status{}, wal.ErrClosed
	}

	var seq sql.NullInt64
	err := l.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM wal_entries`).Scan(&seq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return wal.Status{}, fmt.Errorf("status: %w", err)
	}
	return wal.Status{Seq: uint64(seq.Int64)}, nil
}

func scanEntry(rows *sql.Rows) (wal.Entry, error) {
	var (
		seq  int64
		op   string
		e    wal.Entry
		data []byte
	)
	if err := rows.Scan(&seq, &op, &e.Path, &data); err != nil {
		return wal.Entry{}, err
	}
	e.Seq = uint64(seq)
	e.Op = wal.Op(op)
	e.Data = data
	return e, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the path index for databases created before it existed.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_wal_entries_path ON wal_entries(path)`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// pragma returns the current value of a pragma. Used by tests.
func (l *Log) pragma(name string) (string, error) {
	var value string
	if err := l.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return "", fmt.Errorf("failed to query %s: %w", name, err)
	}
	return value, nil
}
