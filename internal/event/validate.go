package event

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyBatch is returned when a submission contains no events.
var ErrEmptyBatch = errors.New("event list must not be empty")

// ValidationError reports a single field that violates the event schema.
// Validation errors are raised at the gateway and never reach the queue.
type ValidationError struct {
	// Index is the position of the offending event in its batch, or -1.
	Index int

	// Field is the wire name of the offending field (e.g. "event_id").
	Field string

	// Reason is a human-readable description.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("events[%d].%s: %s", e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is (or wraps) a ValidationError or ErrEmptyBatch.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrEmptyBatch)
}

// timestampLayouts are the ISO-8601 shapes accepted for Event.Timestamp.
// RFC 3339 covers offsets and "Z"; the naive forms carry no zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04Z0700",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04Z07:00",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 date-time string.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q is not ISO-8601", s)
}

// Validate checks the schema constraints of a single event.
func Validate(e Event) error {
	return validateAt(-1, e)
}

// ValidateBatch validates every event of a submission. The first violation wins.
func ValidateBatch(events []Event) error {
	if len(events) == 0 {
		return ErrEmptyBatch
	}
	for i, e := range events {
		if err := validateAt(i, e); err != nil {
			return err
		}
	}
	return nil
}

func validateAt(index int, e Event) error {
	if strings.TrimSpace(e.Topic) == "" {
		return &ValidationError{Index: index, Field: "topic", Reason: "must not be empty"}
	}
	if strings.TrimSpace(e.EventID) == "" {
		return &ValidationError{Index: index, Field: "event_id", Reason: "must not be empty"}
	}
	if _, err := ParseTimestamp(e.Timestamp); err != nil {
		return &ValidationError{Index: index, Field: "timestamp", Reason: "must be an ISO-8601 date-time"}
	}
	return nil
}
