package harness

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/logagg/internal/app"
)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type     string
	Expected any
	Actual   any
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s assertion failed: expected %v, got %v", e.Type, e.Expected, e.Actual)
}

func evaluate(ctx context.Context, a *app.App, res *Result, as Assertion) error {
	switch as.Type {
	case AssertStats:
		return assertStats(res.Stats, as.Expect)
	case AssertEvents:
		return assertEvents(ctx, a, as)
	case AssertOutcomes:
		return assertOutcomes(res, as)
	case AssertCounterIdentity:
		return assertCounterIdentity(res.Stats)
	default:
		return fmt.Errorf("unknown assertion type %q", as.Type)
	}
}

func statsField(s app.Stats, name string) int64 {
	switch name {
	case "received":
		return s.Received
	case "unique_processed":
		return s.UniqueProcessed
	case "duplicate_dropped":
		return s.DuplicateDropped
	case "dead_lettered":
		return s.DeadLettered
	case "topics":
		return s.Topics
	}
	return -1
}

func assertStats(s app.Stats, expect map[string]int64) error {
	names := make([]string, 0, len(expect))
	for k := range expect {
		names = append(names, k)
	}
	slices.Sort(names)

	for _, name := range names {
		if got := statsField(s, name); got != expect[name] {
			return &AssertionError{Type: AssertStats + "." + name, Expected: expect[name], Actual: got}
		}
	}
	return nil
}

func assertEvents(ctx context.Context, a *app.App, as Assertion) error {
	q, err := a.Query(ctx, as.Topic)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	if as.Count != nil && q.Total != *as.Count {
		return &AssertionError{Type: AssertEvents + ".count", Expected: *as.Count, Actual: q.Total}
	}
	if len(as.Order) > 0 {
		ids := make([]string, 0, len(q.Records))
		for _, r := range q.Records {
			ids = append(ids, r.EventID)
		}
		if !slices.Equal(ids, as.Order) {
			return &AssertionError{Type: AssertEvents + ".order", Expected: as.Order, Actual: ids}
		}
	}
	return nil
}

func assertOutcomes(res *Result, as Assertion) error {
	got := 0
	for _, e := range res.Trace {
		if e.State == as.State && (as.Reason == "" || e.Reason == as.Reason) {
			got++
		}
	}
	if got != *as.Count {
		return &AssertionError{
			Type:     AssertOutcomes + "." + OutcomeKey(as.State, as.Reason),
			Expected: *as.Count,
			Actual:   got,
		}
	}
	return nil
}

func assertCounterIdentity(s app.Stats) error {
	sum := s.UniqueProcessed + s.DuplicateDropped + s.DeadLettered
	if s.Received != sum {
		return &AssertionError{Type: AssertCounterIdentity, Expected: s.Received, Actual: sum}
	}
	return nil
}
