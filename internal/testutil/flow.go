package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/logagg/internal/event"
)

// SequentialIDGenerator produces event ids "<prefix>-0001", "<prefix>-0002", ...
//
// This keeps generated scenarios reproducible where production code would use
// UUIDv7 ids.
//
// Thread-safety: Generate is safe for concurrent use.
type SequentialIDGenerator struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSequentialIDGenerator creates a generator. An empty prefix becomes "evt".
func NewSequentialIDGenerator(prefix string) *SequentialIDGenerator {
	if prefix == "" {
		prefix = "evt"
	}
	return &SequentialIDGenerator{prefix: prefix, next: 1}
}

// Generate returns the next id.
func (g *SequentialIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := fmt.Sprintf("%s-%04d", g.prefix, g.next)
	g.next++
	return id
}

// Event builds a valid event with a fixed timestamp and source.
func Event(topic, eventID string) event.Event {
	return event.Event{
		Topic:     topic,
		EventID:   eventID,
		Timestamp: "2025-01-01T00:00:00Z",
		Source:    "testutil",
		Payload:   map[string]any{"message": "test"},
	}
}

// Events builds n distinct events on topic with ids from gen.
func Events(topic string, n int, gen *SequentialIDGenerator) []event.Event {
	out := make([]event.Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Event(topic, gen.Generate()))
	}
	return out
}

// WithDuplicates returns events followed by the first dup of them again, in
// order. Used to build at-least-once delivery streams.
func WithDuplicates(events []event.Event, dup int) []event.Event {
	if dup > len(events) {
		dup = len(events)
	}
	out := make([]event.Event, 0, len(events)+dup)
	out = append(out, events...)
	out = append(out, events[:dup]...)
	return out
}
