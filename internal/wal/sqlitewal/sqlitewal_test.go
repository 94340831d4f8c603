package sqlitewal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/beadwal/internal/wal"
	"github.com/roach88/beadwal/internal/wal/waltest"
)

func TestConformance(t *testing.T) {
	waltest.Run(t, waltest.Backend{
		Open: func(t *testing.T, dir string) (wal.Log, func() error) {
			l, err := Open(filepath.Join(dir, "wal.db"))
			require.NoError(t, err)
			return l, l.Close
		},
	})
}

func TestOpen_CreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.db")

	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen_Pragmas(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "wal.db"))
	require.NoError(t, err)
	defer l.Close()

	tests := map[string]string{
		"journal_mode": "wal",
		"synchronous":  "2",
		"busy_timeout": "5000",
		"user_version": "1",
	}
	for name, want := range tests {
		got, err := l.pragma(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.db")
	for i := 0; i < 3; i++ {
		l, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, l.Close())
	}
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "wal.db"))
	assert.Error(t, err)
}

func TestClose_Twice(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "wal.db"))
	require.NoError(t, err)
	require.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}

func TestReplay_VisitorCanQuery(t *testing.T) {
	ctx := context.Background()
	l, err := Open(filepath.Join(t.TempDir(), "wal.db"))
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Append(ctx, wal.OpWrite, "p", []byte("x"))
	require.NoError(t, err)

	err = l.Replay(ctx, func(wal.Entry) error {
		_, err := l.Status(ctx)
		return err
	})
	assert.NoError(t, err)
}
