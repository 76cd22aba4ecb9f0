// Package engine implements the ingestion pipeline core: a bounded FIFO queue
// and the single consumer that makes the idempotency decision.
//
// ARCHITECTURE:
//
// Single-Consumer Loop:
// Any number of submitters enqueue; exactly one Consumer.Run goroutine
// dequeues. This ensures:
// - Events are decided in the order they were accepted
// - Every ledger write for an event happens on one goroutine
// - The check-then-insert race is dormant (the insert outcome still decides)
//
// Event Processing Flow:
// 1. Submit validates and enqueues a batch (all-or-nothing, never blocks)
// 2. Consumer.Run dequeues events one at a time
// 3. Pre-check: hot-key cache (optional), then Ledger.Exists
// 4. Insert with ON CONFLICT DO NOTHING; the outcome is authoritative
// 5. Counter update (unique or duplicate) as a separate step
// 6. Queue.Done, so Join can observe quiescence
//
// Storage failures are retried in place per step. A decision step that keeps
// failing dead-letters the event; a counter step that keeps failing leaves the
// record committed and logs the drift.
package engine
