package store

import (
	"sync"
	"testing"
)

func TestInsert_Basic(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	mustInsert(t, s, createTestRecord("app.logs", "evt-1"), Inserted)

	exists, err := s.Exists(ctx, "app.logs", "evt-1")
	if err != nil {
		t.Fatalf("Exists() failed: %v", err)
	}
	if !exists {
		t.Error("Exists() = false after Insert")
	}
}

func TestInsert_IdempotentKeepsFirstContent(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	first := createTestRecord("app.logs", "evt-1")
	first.Payload = `{"v":1}`
	second := createTestRecord("app.logs", "evt-1")
	second.Payload = `{"v":2}`
	second.Source = "other"

	mustInsert(t, s, first, Inserted)
	mustInsert(t, s, second, AlreadyExists)

	records, err := s.List(ctx, "app.logs")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("List() returned %d records, want 1", len(records))
	}
	if records[0].Payload != `{"v":1}` || records[0].Source != "test" {
		t.Errorf("stored record = %+v, want first insert's content", records[0])
	}
}

func TestInsert_TopicIsolation(t *testing.T) {
	s := createTestStore(t)

	mustInsert(t, s, createTestRecord("topic_a", "same"), Inserted)
	mustInsert(t, s, createTestRecord("topic_b", "same"), Inserted)
	mustInsert(t, s, createTestRecord("topic_a", "same"), AlreadyExists)

	n, err := s.CountDistinctTopics(t.Context())
	if err != nil {
		t.Fatalf("CountDistinctTopics() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("CountDistinctTopics() = %d, want 2", n)
	}
}

func TestInsert_EmptyPayloadStoredAsObject(t *testing.T) {
	s := createTestStore(t)

	rec := createTestRecord("t", "e")
	rec.Payload = ""
	mustInsert(t, s, rec, Inserted)

	records, err := s.List(t.Context(), "t")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if records[0].Payload != "{}" {
		t.Errorf("payload = %q, want {}", records[0].Payload)
	}
}

func TestInsert_ConcurrentRaceCollapses(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	const attempts = 10
	outcomes := make(chan InsertOutcome, attempts)
	errs := make(chan error, attempts)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			out, err := s.Insert(ctx, createTestRecord("race", "same-id"))
			if err != nil {
				errs <- err
				return
			}
			outcomes <- out
		}()
	}
	close(start)
	wg.Wait()
	close(outcomes)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent Insert() failed: %v", err)
	}

	var inserted, existing int
	for out := range outcomes {
		switch out {
		case Inserted:
			inserted++
		case AlreadyExists:
			existing++
		}
	}
	if inserted != 1 || existing != attempts-1 {
		t.Errorf("outcomes: inserted=%d already_exists=%d, want 1 and %d", inserted, existing, attempts-1)
	}

	records, err := s.List(ctx, "race")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("List() returned %d records, want 1", len(records))
	}
}

func TestCounters_Increment(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	if err := s.IncrementReceived(ctx, 5); err != nil {
		t.Fatalf("IncrementReceived() failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.IncrementUnique(ctx); err != nil {
			t.Fatalf("IncrementUnique() failed: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := s.IncrementDuplicate(ctx); err != nil {
			t.Fatalf("IncrementDuplicate() failed: %v", err)
		}
	}

	c, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	want := Counters{Received: 5, UniqueProcessed: 3, DuplicateDropped: 2}
	if c != want {
		t.Errorf("Snapshot() = %+v, want %+v", c, want)
	}
}

func TestCounters_RejectNegative(t *testing.T) {
	s := createTestStore(t)
	if err := s.IncrementReceived(t.Context(), -1); err == nil {
		t.Error("IncrementReceived(-1) should fail")
	}
}

func TestCounters_ConcurrentIncrements(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.IncrementReceived(ctx, 2); err != nil {
				t.Errorf("IncrementReceived() failed: %v", err)
			}
		}()
	}
	wg.Wait()

	c, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	if c.Received != workers*2 {
		t.Errorf("Received = %d, want %d", c.Received, workers*2)
	}
}

func TestDeadLetter_AppendsAndCounts(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	rec := createTestRecord("t", "e")
	if err := s.DeadLetter(ctx, rec, "disk full"); err != nil {
		t.Fatalf("DeadLetter() failed: %v", err)
	}
	// No uniqueness on dead letters.
	if err := s.DeadLetter(ctx, rec, "disk still full"); err != nil {
		t.Fatalf("second DeadLetter() failed: %v", err)
	}

	dls, err := s.ListDeadLetters(ctx)
	if err != nil {
		t.Fatalf("ListDeadLetters() failed: %v", err)
	}
	if len(dls) != 2 {
		t.Fatalf("ListDeadLetters() returned %d, want 2", len(dls))
	}
	if dls[0].Reason != "disk full" || dls[1].Reason != "disk still full" {
		t.Errorf("dead letters out of order: %+v", dls)
	}
	if dls[0].FailedAt.IsZero() {
		t.Error("FailedAt not set")
	}

	c, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	if c.DeadLettered != 2 {
		t.Errorf("DeadLettered = %d, want 2", c.DeadLettered)
	}

	exists, err := s.Exists(ctx, "t", "e")
	if err != nil {
		t.Fatalf("Exists() failed: %v", err)
	}
	if exists {
		t.Error("dead-lettered event must not appear in the ledger")
	}
}

func TestClearAll_ResetsEverything(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	mustInsert(t, s, createTestRecord("a", "1"), Inserted)
	mustInsert(t, s, createTestRecord("b", "2"), Inserted)
	if err := s.IncrementReceived(ctx, 3); err != nil {
		t.Fatal(err)
	}
	if err := s.IncrementUnique(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.DeadLetter(ctx, createTestRecord("c", "3"), "boom"); err != nil {
		t.Fatal(err)
	}

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() failed: %v", err)
	}

	c, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c != (Counters{}) {
		t.Errorf("counters after ClearAll = %+v, want zero", c)
	}

	records, err := s.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("List() after ClearAll returned %d records", len(records))
	}

	dls, err := s.ListDeadLetters(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dls) != 0 {
		t.Errorf("dead letters after ClearAll = %d", len(dls))
	}

	// A cleared key can be recorded again.
	mustInsert(t, s, createTestRecord("a", "1"), Inserted)
}
