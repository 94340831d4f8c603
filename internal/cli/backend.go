package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/beadwal/internal/adapter"
	"github.com/roach88/beadwal/internal/config"
	"github.com/roach88/beadwal/internal/wal"
	"github.com/roach88/beadwal/internal/wal/badgerwal"
	"github.com/roach88/beadwal/internal/wal/pebblewal"
	"github.com/roach88/beadwal/internal/wal/sqlitewal"
)

// closableLog is what every backend's Open returns.
type closableLog interface {
	wal.Log
	Close() error
}

// openLog opens the configured backend, creating its parent directory.
func openLog(cfg config.WALConfig) (closableLog, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	switch cfg.Backend {
	case config.BackendSQLite:
		l, err := sqlitewal.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return l, nil
	case config.BackendBadger:
		l, err := badgerwal.Open(badgerwal.Config{Path: cfg.Path})
		if err != nil {
			return nil, err
		}
		return l, nil
	case config.BackendPebble:
		l, err := pebblewal.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// openAdapter opens the log and wraps it in an adapter. The returned
// function closes the log.
func (o *RootOptions) openAdapter() (*adapter.Adapter, func(), error) {
	l, err := openLog(o.Config.WAL)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open log", err)
	}
	closeLog := func() {
		if err := l.Close(); err != nil {
			o.Logger.Warn().Err(err).Msg("failed to close log")
		}
	}

	a, err := adapter.New(l,
		adapter.WithNamespace(o.Config.WAL.Namespace),
		adapter.WithLogger(o.Logger),
		adapter.WithVerbose(o.Verbose),
	)
	if err != nil {
		closeLog()
		return nil, nil, WrapExitError(ExitCommandError, "invalid namespace", err)
	}
	return a, closeLog, nil
}
