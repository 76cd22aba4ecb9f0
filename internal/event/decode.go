package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// wireEvent uses pointers so a missing field is distinguishable from an
// empty one. Payload may be absent or null.
type wireEvent struct {
	Topic     *string        `json:"topic"`
	EventID   *string        `json:"event_id"`
	Timestamp *string        `json:"timestamp"`
	Source    *string        `json:"source"`
	Payload   map[string]any `json:"payload"`
}

// Decode parses one JSON event. Missing required fields and wrongly typed
// values are reported as *ValidationError with Index -1. Payload numbers are
// kept as json.Number. Decode does not run Validate.
func Decode(data []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var w wireEvent
	if err := dec.Decode(&w); err != nil {
		return Event{}, decodeError(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Event{}, &ValidationError{Index: -1, Field: "event", Reason: "unexpected data after JSON object"}
	}

	required := []struct {
		name string
		val  *string
	}{
		{"topic", w.Topic},
		{"event_id", w.EventID},
		{"timestamp", w.Timestamp},
		{"source", w.Source},
	}
	for _, f := range required {
		if f.val == nil {
			return Event{}, &ValidationError{Index: -1, Field: f.name, Reason: "field required"}
		}
	}

	return Event{
		Topic:     *w.Topic,
		EventID:   *w.EventID,
		Timestamp: *w.Timestamp,
		Source:    *w.Source,
		Payload:   w.Payload,
	}, nil
}

func decodeError(err error) *ValidationError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			field = "event"
		}
		return &ValidationError{
			Index:  -1,
			Field:  field,
			Reason: fmt.Sprintf("must be %s, got %s", expectedKind(typeErr), typeErr.Value),
		}
	}
	return &ValidationError{Index: -1, Field: "event", Reason: "invalid JSON: " + err.Error()}
}

func expectedKind(e *json.UnmarshalTypeError) string {
	if e.Type == nil {
		return "a valid value"
	}
	switch e.Type.Kind().String() {
	case "map", "struct":
		return "an object"
	case "string", "ptr":
		return "a string"
	default:
		return e.Type.String()
	}
}

// WithIndex returns err with its ValidationError positioned at index i.
// Errors of other types are returned unchanged.
func WithIndex(err error, i int) error {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	out := *ve
	out.Index = i
	return &out
}
