package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/logagg/internal/testutil"
)

func TestExists_Missing(t *testing.T) {
	s := createTestStore(t)

	exists, err := s.Exists(t.Context(), "nope", "nope")
	if err != nil {
		t.Fatalf("Exists() failed: %v", err)
	}
	if exists {
		t.Error("Exists() = true on empty ledger")
	}
}

func TestList_Empty(t *testing.T) {
	s := createTestStore(t)

	records, err := s.List(t.Context(), "")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if records == nil {
		t.Error("List() returned nil, want empty slice")
	}
	if len(records) != 0 {
		t.Errorf("List() returned %d records, want 0", len(records))
	}
}

func TestList_NewestFirst(t *testing.T) {
	s := createTestStore(t)

	for _, id := range []string{"1", "2", "3"} {
		mustInsert(t, s, createTestRecord("orders", id), Inserted)
	}

	records, err := s.List(t.Context(), "orders")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}

	want := []string{"3", "2", "1"}
	if len(records) != len(want) {
		t.Fatalf("List() returned %d records, want %d", len(records), len(want))
	}
	for i, id := range want {
		if records[i].EventID != id {
			t.Errorf("records[%d].EventID = %q, want %q", i, records[i].EventID, id)
		}
	}
	for i := 1; i < len(records); i++ {
		if !records[i-1].ProcessedAt.After(records[i].ProcessedAt) {
			t.Errorf("records not strictly ordered by processed_at DESC at %d", i)
		}
	}
}

func TestList_TieBrokenByInsertionOrder(t *testing.T) {
	frozen := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(func() time.Time { return frozen }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	for _, id := range []string{"a", "b", "c"} {
		mustInsert(t, s, createTestRecord("t", id), Inserted)
	}

	records, err := s.List(t.Context(), "")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	got := []string{records[0].EventID, records[1].EventID, records[2].EventID}
	want := []string{"c", "b", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if !records[0].ProcessedAt.Equal(frozen) {
		t.Errorf("ProcessedAt = %v, want %v", records[0].ProcessedAt, frozen)
	}
}

func TestList_FilterByTopic(t *testing.T) {
	s := createTestStore(t)

	mustInsert(t, s, createTestRecord("orders", "1"), Inserted)
	mustInsert(t, s, createTestRecord("payments", "1"), Inserted)
	mustInsert(t, s, createTestRecord("orders", "2"), Inserted)

	orders, err := s.List(t.Context(), "orders")
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 2 {
		t.Errorf("orders = %d, want 2", len(orders))
	}
	for _, r := range orders {
		if r.Topic != "orders" {
			t.Errorf("unexpected topic %q in filtered list", r.Topic)
		}
	}

	all, err := s.List(t.Context(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("all = %d, want 3", len(all))
	}

	none, err := s.List(t.Context(), "unknown")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("unknown topic returned %d records", len(none))
	}
}

func TestList_ProcessedAtFromClock(t *testing.T) {
	clock := testutil.NewDeterministicClock()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	mustInsert(t, s, createTestRecord("t", "1"), Inserted)

	records, err := s.List(t.Context(), "t")
	if err != nil {
		t.Fatal(err)
	}
	if !records[0].ProcessedAt.Equal(testutil.DefaultEpoch) {
		t.Errorf("ProcessedAt = %v, want %v", records[0].ProcessedAt, testutil.DefaultEpoch)
	}
}

func TestCountDistinctTopics_Empty(t *testing.T) {
	s := createTestStore(t)
	n, err := s.CountDistinctTopics(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("CountDistinctTopics() = %d, want 0", n)
	}
}

func TestSnapshot_FreshStoreIsZero(t *testing.T) {
	s := createTestStore(t)
	c, err := s.Snapshot(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if c != (Counters{}) {
		t.Errorf("Snapshot() = %+v, want zero", c)
	}
}
