package store

import (
	"context"
	"database/sql"
	"fmt"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Exists reports whether a record for (topic, eventID) is present.
func (s *Store) Exists(ctx context.Context, topic, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM processed_events
		WHERE topic = ? AND event_id = ?
	`, topic, eventID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check record exists: %w", err)
	}
	return count > 0, nil
}

// List returns processed records, newest first (processed_at DESC, id DESC).
// An empty topic lists every topic.
//
// Returns an empty slice (not nil) if no records match.
func (s *Store) List(ctx context.Context, topic string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const cols = `SELECT id, topic, event_id, timestamp, source, payload, processed_at
		FROM processed_events`

	var (
		rows *sql.Rows
		err  error
	)
	if topic == "" {
		rows, err = s.db.QueryContext(ctx, cols+`
			ORDER BY processed_at DESC, id DESC`)
	} else {
		rows, err = s.db.QueryContext(ctx, cols+`
			WHERE topic = ?
			ORDER BY processed_at DESC, id DESC`, topic)
	}
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
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
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT topic) FROM processed_events",
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count topics: %w", err)
	}
	return n, nil
}

// Snapshot reads the counter row.
func (s *Store) Snapshot(ctx context.Context) (Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c Counters
	err := s.db.QueryRowContext(ctx, `
		SELECT received, unique_processed, duplicate_dropped, dead_lettered
		FROM stats WHERE id = 1
	`).Scan(&c.Received, &c.UniqueProcessed, &c.DuplicateDropped, &c.DeadLettered)
	if err == sql.ErrNoRows {
		return Counters{}, nil
	}
	if err != nil {
		return Counters{}, fmt.Errorf("read counters: %w", err)
	}
	return c, nil
}

// ListDeadLetters returns dead letters, oldest first.
func (s *Store) ListDeadLetters(ctx context.Context) ([]DeadLetterRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, event_id, timestamp, source, payload, reason, failed_at
		FROM dead_letters
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	out := []DeadLetterRecord{}
	for rows.Next() {
		var (
			dl       DeadLetterRecord
			failedAt string
		)
		if err := rows.Scan(&dl.ID, &dl.Topic, &dl.EventID, &dl.Timestamp,
			&dl.Source, &dl.Payload, &dl.Reason, &failedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if dl.FailedAt, err = parseTime(failedAt); err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return out, nil
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec         Record
		processedAt string
	)
	if err := row.Scan(&rec.ID, &rec.Topic, &rec.EventID, &rec.Timestamp,
		&rec.Source, &rec.Payload, &processedAt); err != nil {
		return Record{}, fmt.Errorf("scan record: %w", err)
	}
	t, err := parseTime(processedAt)
	if err != nil {
		return Record{}, err
	}
	rec.ProcessedAt = t
	return rec, nil
}
