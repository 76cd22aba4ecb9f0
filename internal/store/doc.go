// Package store provides SQLite-backed durable storage for the idempotency
// ledger, the processing counters and the dead-letter table.
//
// The ledger is an append-only set of processed events with:
//   - processed_events: one row per (topic, event_id), never updated
//   - stats: a singleton counter row (id = 1)
//   - dead_letters: events whose storage step failed after every retry
//
// # Critical Patterns
//
// Insert-Outcome Idempotency
//   - UNIQUE(topic, event_id) constraint
//   - INSERT ... ON CONFLICT DO NOTHING; RowsAffected decides Inserted vs
//     AlreadyExists, so a lost race is an outcome and never an error
//
// Serialised Access
//   - Every operation (reads included) holds one mutex for its duration
//   - Each operation is a single statement or transaction, committed before
//     the mutex is released
//
// Deterministic Listing
//   - List orders by processed_at DESC, id DESC
//   - processed_at is written in a fixed-width UTC layout so text order equals
//     time order
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// The PostgreSQL implementation of the same contract lives in store/pgstore.
package store
