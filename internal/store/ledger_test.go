package store

import (
	"encoding/json"
	"testing"

	"github.com/roach88/logagg/internal/event"
)

func TestRecordFromEvent_NormalisesKeyAndPayload(t *testing.T) {
	ev := event.Event{
		Topic:     "cafe\u0301",
		EventID:   "id-1",
		Timestamp: "2025-01-01T00:00:00Z",
		Source:    "svc",
		Payload:   map[string]any{"b": json.Number("2"), "a": "x"},
	}

	rec, err := RecordFromEvent(ev)
	if err != nil {
		t.Fatalf("RecordFromEvent() failed: %v", err)
	}
	if rec.Topic != "caf\u00e9" {
		t.Errorf("Topic = %q, want NFC form", rec.Topic)
	}
	if rec.Payload != `{"a":"x","b":2}` {
		t.Errorf("Payload = %s", rec.Payload)
	}
}

func TestRecordFromEvent_NilPayload(t *testing.T) {
	rec, err := RecordFromEvent(event.Event{Topic: "t", EventID: "e", Timestamp: "2025-01-01"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Payload != "{}" {
		t.Errorf("Payload = %q, want {}", rec.Payload)
	}
}

func TestInsertOutcome_String(t *testing.T) {
	if Inserted.String() != "inserted" || AlreadyExists.String() != "already_exists" {
		t.Error("unexpected outcome names")
	}
	if InsertOutcome(0).String() != "InsertOutcome(0)" {
		t.Errorf("zero outcome = %q", InsertOutcome(0).String())
	}
}
