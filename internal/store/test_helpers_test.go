package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/logagg/internal/testutil"
)

// createTestStore opens a fresh store in a temp dir with a deterministic clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(testutil.NewDeterministicClock().Now))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord creates a record with minimal required fields.
func createTestRecord(topic, eventID string) NewRecord {
	return NewRecord{
		Topic:     topic,
		EventID:   eventID,
		Timestamp: "2025-01-01T00:00:00Z",
		Source:    "test",
		Payload:   `{"message":"hello"}`,
	}
}

// mustInsert inserts rec and fails the test unless the outcome matches want.
func mustInsert(t *testing.T, s *Store, rec NewRecord, want InsertOutcome) {
	t.Helper()
	got, err := s.Insert(t.Context(), rec)
	if err != nil {
		t.Fatalf("Insert(%s/%s) failed: %v", rec.Topic, rec.EventID, err)
	}
	if got != want {
		t.Fatalf("Insert(%s/%s) = %v, want %v", rec.Topic, rec.EventID, got, want)
	}
}
