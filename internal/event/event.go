package event

import (
	"golang.org/x/text/unicode/norm"
)

// Event is a single producer-supplied log event.
//
// Events are transient: the gateway builds one, the queue owns it until it is
// dequeued, and the consumer drops its reference after the idempotency decision.
type Event struct {
	Topic     string         `json:"topic"`
	EventID   string         `json:"event_id"`
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload"`
}

// Key identifies a logical event. Two deliveries with equal keys are the same event.
type Key struct {
	Topic   string
	EventID string
}

// Key returns the NFC-normalised identity of the event.
func (e Event) Key() Key {
	return Key{
		Topic:   norm.NFC.String(e.Topic),
		EventID: norm.NFC.String(e.EventID),
	}
}

// String renders the key for logs.
func (k Key) String() string {
	return k.Topic + "/" + k.EventID
}

// Normalize returns a copy of the event with topic and event_id in NFC form and
// a non-nil payload. Validate does not mutate; callers normalise after validating.
func (e Event) Normalize() Event {
	k := e.Key()
	e.Topic = k.Topic
	e.EventID = k.EventID
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	return e
}
