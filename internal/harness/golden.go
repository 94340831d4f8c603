package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/beadwal/internal/transition"
)

// Snapshot renders the parts of a result that are compared against golden
// files, as canonical JSON.
func Snapshot(name string, r *Result) ([]byte, error) {
	discarded := make(map[string]any, len(r.Discarded))
	for reason, n := range r.Discarded {
		discarded[reason] = n
	}
	failures := make(map[string]any, len(r.Recovery.Failures))
	for entity, msg := range r.Recovery.Failures {
		failures[entity] = msg
	}
	return transition.MarshalCanonical(map[string]any{
		"scenario":          name,
		"success":           r.Recovery.Success,
		"replayed":          r.Recovery.EntriesReplayed,
		"skipped":           r.Recovery.EntriesSkipped,
		"entities_affected": r.Recovery.EntitiesAffected,
		"entities_failed":   r.Recovery.EntitiesFailed,
		"failures":          failures,
		"discarded":         discarded,
		"commands":          r.Commands,
	})
}

// RunWithGolden runs s, fails the test on unmet expectations, and compares
// the snapshot with testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func (h *Harness) RunWithGolden(t *testing.T, s *Scenario) *Result {
	t.Helper()

	result, err := h.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("run scenario %s: %v", s.Name, err)
	}
	for _, e := range result.Errors {
		t.Errorf("scenario %s: %s", s.Name, e)
	}

	snap, err := Snapshot(s.Name, result)
	if err != nil {
		t.Fatalf("snapshot %s: %v", s.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, s.Name, snap)
	return result
}
