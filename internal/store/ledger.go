package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/logagg/internal/event"
)

// InsertOutcome is the authoritative result of Ledger.Insert.
type InsertOutcome int

const (
	// Inserted means this call created the record.
	Inserted InsertOutcome = iota + 1

	// AlreadyExists means a record for (topic, event_id) was already present;
	// the stored content is unchanged.
	AlreadyExists
)

// String returns the outcome name used in logs and traces.
func (o InsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case AlreadyExists:
		return "already_exists"
	default:
		return fmt.Sprintf("InsertOutcome(%d)", int(o))
	}
}

// NewRecord is what the consumer hands to Insert. Payload is canonical JSON.
type NewRecord struct {
	Topic     string
	EventID   string
	Timestamp string
	Source    string
	Payload   string
}

// Record is a persisted processed event.
type Record struct {
	ID          int64
	Topic       string
	EventID     string
	Timestamp   string
	Source      string
	Payload     string
	ProcessedAt time.Time
}

// Counters is a point-in-time copy of the processing counters.
type Counters struct {
	Received         int64
	UniqueProcessed  int64
	DuplicateDropped int64
	DeadLettered     int64
}

// DeadLetterRecord is an event whose storage step failed after every retry.
type DeadLetterRecord struct {
	ID        int64
	Topic     string
	EventID   string
	Timestamp string
	Source    string
	Payload   string
	Reason    string
	FailedAt  time.Time
}

// Ledger is the persistent set of processed event keys.
type Ledger interface {
	Exists(ctx context.Context, topic, eventID string) (bool, error)
	Insert(ctx context.Context, rec NewRecord) (InsertOutcome, error)

	// List returns records for topic ("" = all topics), newest processed first.
	List(ctx context.Context, topic string) ([]Record, error)
	CountDistinctTopics(ctx context.Context) (int64, error)

	// ClearAll removes every record and resets every counter.
	ClearAll(ctx context.Context) error
}

// CounterStore holds the monotonically increasing processing counters.
// Each increment is its own operation, never combined with a record insert.
type CounterStore interface {
	IncrementReceived(ctx context.Context, n int64) error
	IncrementUnique(ctx context.Context) error
	IncrementDuplicate(ctx context.Context) error
	Snapshot(ctx context.Context) (Counters, error)
}

// DeadLetterStore keeps events the consumer gave up on.
type DeadLetterStore interface {
	DeadLetter(ctx context.Context, rec NewRecord, reason string) error
	ListDeadLetters(ctx context.Context) ([]DeadLetterRecord, error)
}

// Backend is everything the application needs from a storage implementation.
type Backend interface {
	Ledger
	CounterStore
	DeadLetterStore
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*Store)(nil)
)

// RecordFromEvent builds the insert form of ev: NFC-normalised key and
// canonical JSON payload.
func RecordFromEvent(ev event.Event) (NewRecord, error) {
	k := ev.Key()
	payload, err := event.MarshalPayload(ev.Payload)
	if err != nil {
		return NewRecord{}, fmt.Errorf("encode payload: %w", err)
	}
	return NewRecord{
		Topic:     k.Topic,
		EventID:   k.EventID,
		Timestamp: ev.Timestamp,
		Source:    ev.Source,
		Payload:   string(payload),
	}, nil
}

// timeLayout is fixed width so lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}
