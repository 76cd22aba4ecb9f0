package engine

import (
	"fmt"

	"github.com/roach88/logagg/internal/event"
)

// State is the consumer's position in its per-event state machine:
//
//	WAITING -> CHECKING -> PROCESSING -> COMMITTED -> WAITING
//	                    \             \-> DROPPED (race) -> WAITING
//	                     \-> DROPPED (duplicate) -> WAITING
//
// DEAD_LETTERED is reached when the decision step exhausts its retries.
type State int32

const (
	StateWaiting State = iota
	StateChecking
	StateProcessing
	StateCommitted
	StateDropped
	StateDeadLettered
)

// String returns the upper-case state name.
func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateChecking:
		return "CHECKING"
	case StateProcessing:
		return "PROCESSING"
	case StateCommitted:
		return "COMMITTED"
	case StateDropped:
		return "DROPPED"
	case StateDeadLettered:
		return "DEAD_LETTERED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Terminal reports whether s ends the handling of an event.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateDropped || s == StateDeadLettered
}

// Duplicate reasons reported in Outcome.Reason and metrics.
const (
	ReasonPrecheck = "precheck"
	ReasonCache    = "cache"
	ReasonRace     = "race"
)

// Outcome is the terminal result of handling one event.
type Outcome struct {
	Key   event.Key
	State State

	// Reason is the duplicate reason for DROPPED, or the failure for
	// DEAD_LETTERED. Empty for COMMITTED.
	Reason string
}
