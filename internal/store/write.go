package store

import (
	"context"
	"fmt"
)

// Insert records a processed event.
// Uses ON CONFLICT(topic, event_id) DO NOTHING; the number of affected rows is
// the authoritative outcome. When a record already exists its content is left
// exactly as the first insert wrote it.
func (s *Store) Insert(ctx context.Context, rec NewRecord) (InsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_events
		(topic, event_id, timestamp, source, payload, processed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(topic, event_id) DO NOTHING
	`,
		rec.Topic,
		rec.EventID,
		rec.Timestamp,
		rec.Source,
		payloadOrEmpty(rec.Payload),
		s.stamp(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert record: rows affected: %w", err)
	}
	if rows == 0 {
		return AlreadyExists, nil
	}
	return Inserted, nil
}

// IncrementReceived adds n to the received counter.
func (s *Store) IncrementReceived(ctx context.Context, n int64) error {
	return s.bump(ctx, "received", n)
}

// IncrementUnique adds one to unique_processed.
func (s *Store) IncrementUnique(ctx context.Context) error {
	return s.bump(ctx, "unique_processed", 1)
}

// IncrementDuplicate adds one to duplicate_dropped.
func (s *Store) IncrementDuplicate(ctx context.Context) error {
	return s.bump(ctx, "duplicate_dropped", 1)
}

// bump increments one counter column. column is always a constant from this file.
func (s *Store) bump(ctx context.Context, column string, n int64) error {
	if n < 0 {
		return fmt.Errorf("increment %s: negative amount %d", column, n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf("UPDATE stats SET %s = %s + ? WHERE id = 1", column, column)
	if _, err := s.db.ExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	return nil
}

// DeadLetter appends rec to dead_letters and increments dead_lettered in one
// transaction. Dead letters carry no uniqueness constraint.
func (s *Store) DeadLetter(ctx context.Context, rec NewRecord, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dead letter: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dead_letters
		(topic, event_id, timestamp, source, payload, reason, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Topic,
		rec.EventID,
		rec.Timestamp,
		rec.Source,
		payloadOrEmpty(rec.Payload),
		reason,
		s.stamp(),
	); err != nil {
		return fmt.Errorf("dead letter: insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE stats SET dead_lettered = dead_lettered + 1 WHERE id = 1",
	); err != nil {
		return fmt.Errorf("dead letter: increment counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dead letter: commit: %w", err)
	}
	return nil
}

// ClearAll deletes every record and dead letter and zeroes the counters.
// The AUTOINCREMENT sequence is reset too.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear all: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		"DELETE FROM processed_events",
		"DELETE FROM dead_letters",
		"DELETE FROM sqlite_sequence WHERE name IN ('processed_events', 'dead_letters')",
		`UPDATE stats SET received = 0, unique_processed = 0,
			duplicate_dropped = 0, dead_lettered = 0 WHERE id = 1`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear all: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clear all: commit: %w", err)
	}
	return nil
}

func payloadOrEmpty(p string) string {
	if p == "" {
		return "{}"
	}
	return p
}
