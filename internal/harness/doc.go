// Package harness runs YAML scenarios against a real application context and
// compares the outcome with golden snapshots.
//
// # Scenario Format
//
//	name: scenario_a
//	description: "Same event three times, draining between sends"
//	record_trace: true
//	steps:
//	  - publish:
//	      - { topic: auth, event_id: evt-1, source: svc }
//	    repeat: 3
//	  - generate: { topic: orders, count: 800, prefix: b }
//	assertions:
//	  - type: stats
//	    expect: { received: 3, unique_processed: 1, duplicate_dropped: 2 }
//	  - type: events
//	    topic: auth
//	    count: 1
//	    order: [evt-1]
//
// Each scenario gets a fresh in-memory ledger, a deterministic clock and a
// running consumer (unless paused). After every submission the harness waits
// for quiescence, so the consumer's outcomes are recorded in submission order.
//
// # Golden Files
//
// A snapshot holds the counters, the outcome tally and, with record_trace,
// every outcome in order. It is canonical JSON so two runs of the same
// scenario produce identical bytes.
package harness
