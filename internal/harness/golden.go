package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/logagg/internal/event"
)

// Snapshot renders the deterministic part of a result as canonical JSON
// followed by a newline. Uptime is excluded.
func (r *Result) Snapshot() ([]byte, error) {
	outcomes := make(map[string]any, len(r.Outcomes))
	for k, n := range r.Outcomes {
		outcomes[k] = int64(n)
	}

	doc := map[string]any{
		"scenario_name": r.Name,
		"outcomes":      outcomes,
		"stats": map[string]any{
			"received":          r.Stats.Received,
			"unique_processed":  r.Stats.UniqueProcessed,
			"duplicate_dropped": r.Stats.DuplicateDropped,
			"dead_lettered":     r.Stats.DeadLettered,
			"topics":            r.Stats.Topics,
		},
	}

	if r.recordTrace {
		trace := make([]any, 0, len(r.Trace))
		for _, e := range r.Trace {
			entry := map[string]any{
				"seq":      int64(e.Seq),
				"topic":    e.Topic,
				"event_id": e.EventID,
				"state":    e.State,
			}
			if e.Reason != "" {
				entry["reason"] = e.Reason
			}
			trace = append(trace, entry)
		}
		doc["trace"] = trace
	}

	b, err := event.MarshalPayload(doc)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// RunWithGolden runs the scenario, fails the test on any unmet expectation
// and compares the snapshot with testdata/golden/<name>.golden.
//
// Run with -update to regenerate golden files.
func RunWithGolden(t *testing.T, s *Scenario) *Result {
	t.Helper()

	res, err := Run(context.Background(), s)
	if err != nil {
		t.Fatalf("scenario %q failed to run: %v", s.Name, err)
	}
	for _, msg := range res.Errors {
		t.Errorf("scenario %q: %s", s.Name, msg)
	}
	AssertGolden(t, s.Name, res)
	return res
}

// AssertGolden compares a result snapshot with its golden file.
func AssertGolden(t *testing.T, name string, res *Result) {
	t.Helper()

	snap, err := res.Snapshot()
	if err != nil {
		t.Fatalf("failed to render snapshot: %v", err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, snap)
}
