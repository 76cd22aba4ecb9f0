package harness

import (
	"fmt"

	"github.com/roach88/logagg/internal/app"
)

// TraceEntry is one consumer outcome, numbered in the order it was observed.
type TraceEntry struct {
	Seq     int
	Topic   string
	EventID string
	State   string
	Reason  string
}

// OutcomeKey is the tally key for an outcome: "STATE" or "STATE/reason".
func OutcomeKey(state, reason string) string {
	if reason == "" {
		return state
	}
	return state + "/" + reason
}

// Result is the observable effect of running a scenario.
type Result struct {
	Name     string
	Trace    []TraceEntry
	Stats    app.Stats
	Outcomes map[string]int
	Errors   []string

	// recordTrace controls whether Snapshot includes Trace.
	recordTrace bool
}

// Pass reports whether every step expectation and assertion held.
func (r *Result) Pass() bool {
	return len(r.Errors) == 0
}

// addError records a failed expectation.
func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}
