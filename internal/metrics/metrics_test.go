package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTextfile(t *testing.T) {
	TransitionsRecorded.WithLabelValues("create").Inc()
	path := filepath.Join(t.TempDir(), "beadwal.prom")

	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `beadwal_transitions_recorded_total{operation="create"}`)
}

func TestWriteTextfile_BadPath(t *testing.T) {
	err := WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom"))
	assert.Error(t, err)
}

func TestWriteTextfile_CustomGatherer(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "only_this", Help: "h"})
	reg.MustRegister(c)
	c.Add(3)

	path := filepath.Join(t.TempDir(), "x.prom")
	require.NoError(t, writeTextfile(path, reg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "only_this 3"))
	assert.NotContains(t, string(data), "beadwal_")
}

func TestCounters_Increment(t *testing.T) {
	before := promtest.ToFloat64(EntriesDiscarded.WithLabelValues("checksum"))
	EntriesDiscarded.WithLabelValues("checksum").Inc()
	assert.Equal(t, before+1, promtest.ToFloat64(EntriesDiscarded.WithLabelValues("checksum")))
}
