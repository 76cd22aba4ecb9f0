// Package pgstore implements the ledger, counters and dead letters on
// PostgreSQL. It is selected instead of the SQLite store when DATABASE_URL is
// set and honours the same contract: ON CONFLICT DO NOTHING decides the insert
// outcome and every operation is serialised by one process-wide mutex.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/logagg/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Store is the PostgreSQL implementation of store.Backend.
type Store struct {
	pool *pgxpool.Pool
	mu   sync.Mutex
	now  func() time.Time
}

var _ store.Backend = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the source of processed_at / failed_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open connects to databaseURL, verifies the connection and applies the schema.
func Open(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{pool: pool, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Exists reports whether a record for (topic, eventID) is present.
func (s *Store) Exists(ctx context.Context, topic, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		SELECT EXISTS (
			SELECT 1 FROM processed_events WHERE topic = $1 AND event_id = $2
		)
	`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, topic, eventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check record exists: %w", err)
	}
	return exists, nil
}

// Insert records a processed event; RowsAffected decides the outcome.
func (s *Store) Insert(ctx context.Context, rec store.NewRecord) (store.InsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		INSERT INTO processed_events (topic, event_id, timestamp, source, payload, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (topic, event_id) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, query,
		rec.Topic, rec.EventID, rec.Timestamp, rec.Source, payloadOrEmpty(rec.Payload), s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return store.Inserted, nil
	}
	return store.AlreadyExists, nil
}

// List returns records for topic ("" = all), newest processed first.
func (s *Store) List(ctx context.Context, topic string) ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		SELECT id, topic, event_id, timestamp, source, payload, processed_at
		FROM processed_events
		WHERE $1 = '' OR topic = $1
		ORDER BY processed_at DESC, id DESC
	`
	rows, err := s.pool.Query(ctx, query, topic)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []store.Record{}
	for rows.Next() {
		var r store.Record
		if err := rows.Scan(&r.ID, &r.Topic, &r.EventID, &r.Timestamp, &r.Source, &r.Payload, &r.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.ProcessedAt = r.ProcessedAt.UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// CountDistinctTopics returns the number of topics with at least one record.
func (s *Store) CountDistinctTopics(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT topic) FROM processed_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count topics: %w", err)
	}
	return n, nil
}

// ClearAll removes records and dead letters and zeroes every counter.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "clear all", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `TRUNCATE processed_events, dead_letters RESTART IDENTITY`); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE stats SET received = 0, unique_processed = 0,
				duplicate_dropped = 0, dead_lettered = 0
			WHERE id = 1
		`)
		return err
	})
}

// IncrementReceived adds n to the received counter.
func (s *Store) IncrementReceived(ctx context.Context, n int64) error {
	if n < 0 {
		return fmt.Errorf("increment received: negative amount %d", n)
	}
	return s.exec(ctx, "increment received", `UPDATE stats SET received = received + $1 WHERE id = 1`, n)
}

// IncrementUnique adds one to unique_processed.
func (s *Store) IncrementUnique(ctx context.Context) error {
	return s.exec(ctx, "increment unique_processed",
		`UPDATE stats SET unique_processed = unique_processed + 1 WHERE id = 1`)
}

// IncrementDuplicate adds one to duplicate_dropped.
func (s *Store) IncrementDuplicate(ctx context.Context) error {
	return s.exec(ctx, "increment duplicate_dropped",
		`UPDATE stats SET duplicate_dropped = duplicate_dropped + 1 WHERE id = 1`)
}

// Snapshot reads the counter row.
func (s *Store) Snapshot(ctx context.Context) (store.Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c store.Counters
	err := s.pool.QueryRow(ctx, `
		SELECT received, unique_processed, duplicate_dropped, dead_lettered
		FROM stats WHERE id = 1
	`).Scan(&c.Received, &c.UniqueProcessed, &c.DuplicateDropped, &c.DeadLettered)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Counters{}, nil
	}
	if err != nil {
		return store.Counters{}, fmt.Errorf("read counters: %w", err)
	}
	return c, nil
}

// DeadLetter appends rec to dead_letters and increments dead_lettered.
func (s *Store) DeadLetter(ctx context.Context, rec store.NewRecord, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "dead letter", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO dead_letters (topic, event_id, timestamp, source, payload, reason, failed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, rec.Topic, rec.EventID, rec.Timestamp, rec.Source, payloadOrEmpty(rec.Payload), reason, s.now().UTC()); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE stats SET dead_lettered = dead_lettered + 1 WHERE id = 1`)
		return err
	})
}

// ListDeadLetters returns dead letters, oldest first.
func (s *Store) ListDeadLetters(ctx context.Context) ([]store.DeadLetterRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.pool.Query(ctx, `
		SELECT id, topic, event_id, timestamp, source, payload, reason, failed_at
		FROM dead_letters
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	out := []store.DeadLetterRecord{}
	for rows.Next() {
		var d store.DeadLetterRecord
		if err := rows.Scan(&d.ID, &d.Topic, &d.EventID, &d.Timestamp, &d.Source, &d.Payload, &d.Reason, &d.FailedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		d.FailedAt = d.FailedAt.UTC()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return out, nil
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// withTx runs fn in a transaction. Callers hold s.mu.
func (s *Store) withTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

func payloadOrEmpty(p string) string {
	if p == "" {
		return "{}"
	}
	return p
}
