// Package metrics holds the Prometheus collectors for beadwal.
//
// The CLI is short-lived, so there is no scrape endpoint; WriteTextfile
// dumps the default registry for the node-exporter textfile collector.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransitionsRecorded counts records appended, by operation.
	TransitionsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beadwal_transitions_recorded_total",
		Help: "Total number of transition records appended to the WAL",
	}, []string{"operation"})

	// EntriesDiscarded counts WAL entries skipped during replay, by reason.
	EntriesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beadwal_entries_discarded_total",
		Help: "Total number of WAL entries discarded during replay",
	}, []string{"reason"})

	// EntriesReplayed counts entries whose command ran successfully.
	EntriesReplayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beadwal_entries_replayed_total",
		Help: "Total number of transition records replayed during recovery",
	})

	// EntriesSkipped counts entries with nothing to apply.
	EntriesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beadwal_entries_skipped_total",
		Help: "Total number of transition records skipped during recovery",
	})

	// EntityFailures counts entity groups aborted during recovery.
	EntityFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beadwal_entity_failures_total",
		Help: "Total number of entities whose recovery failed",
	})

	// RecoveryDuration measures whole recovery runs.
	RecoveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "beadwal_recovery_duration_seconds",
		Help:    "Recovery run duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// CommandDuration measures external command latency, by outcome.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "beadwal_command_duration_seconds",
		Help:    "External command latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
)

// Command outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// WriteTextfile writes the default registry to path in the text exposition
// format. The file is written atomically.
func WriteTextfile(path string) error {
	return writeTextfile(path, prometheus.DefaultGatherer)
}

func writeTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
