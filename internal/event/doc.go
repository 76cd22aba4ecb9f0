// Package event defines the producer-supplied Event, its validation rules and
// the canonical encoding used to persist payloads.
//
// This package imports nothing internal. Every other package that touches
// events depends on it, so the identity rules live in exactly one place:
//
//   - An event is identified by (topic, event_id); both are compared in
//     Unicode NFC form.
//   - Timestamps are kept as the producer sent them, but must parse as an
//     ISO-8601 date-time.
//   - Payloads are persisted as canonical JSON so that two deliveries of the
//     same payload serialise byte-identically.
package event
