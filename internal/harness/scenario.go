package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a sequence of submissions followed by assertions.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// QueueCapacity overrides the default queue size when positive.
	QueueCapacity int `yaml:"queue_capacity,omitempty"`

	// Paused leaves the consumer stopped until a step with start: true.
	Paused bool `yaml:"paused,omitempty"`

	// RecordTrace includes every outcome in the golden snapshot.
	RecordTrace bool `yaml:"record_trace,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step submits one batch, possibly several times.
type Step struct {
	// Publish lists explicit events.
	Publish []EventSpec `yaml:"publish,omitempty"`

	// Generate builds count events with sequential ids "<prefix>-0001"...
	Generate *Generate `yaml:"generate,omitempty"`

	// Repeat submits the batch this many times (default 1), waiting for
	// quiescence between submissions when the consumer runs.
	Repeat int `yaml:"repeat,omitempty"`

	// Expect is the submission result: accepted (default), validation or
	// backpressure.
	Expect string `yaml:"expect,omitempty"`

	// Start starts a paused consumer before the step's batch, if any.
	Start bool `yaml:"start,omitempty"`
}

// EventSpec is an event as written in a scenario. Empty timestamp and
// source take fixed defaults.
type EventSpec struct {
	Topic     string         `yaml:"topic"`
	EventID   string         `yaml:"event_id"`
	Timestamp string         `yaml:"timestamp,omitempty"`
	Source    string         `yaml:"source,omitempty"`
	Payload   map[string]any `yaml:"payload,omitempty"`
}

// Generate describes a block of generated events.
type Generate struct {
	Topic  string `yaml:"topic"`
	Count  int    `yaml:"count"`
	Prefix string `yaml:"prefix,omitempty"`
}

// Assertion checks the final state.
type Assertion struct {
	// Type is one of stats, events, outcomes, counter_identity.
	Type string `yaml:"type"`

	// Expect holds counter values (stats).
	Expect map[string]int64 `yaml:"expect,omitempty"`

	// Topic filters events; empty means every topic.
	Topic string `yaml:"topic,omitempty"`

	// Count is the expected number of records (events) or outcomes (outcomes).
	Count *int `yaml:"count,omitempty"`

	// Order is the exact event id list, newest processed first (events).
	Order []string `yaml:"order,omitempty"`

	// State and Reason select outcomes (outcomes).
	State  string `yaml:"state,omitempty"`
	Reason string `yaml:"reason,omitempty"`
}

// Assertion types.
const (
	AssertStats           = "stats"
	AssertEvents          = "events"
	AssertOutcomes        = "outcomes"
	AssertCounterIdentity = "counter_identity"
)

// Step expectations.
const (
	ExpectAccepted     = "accepted"
	ExpectValidation   = "validation"
	ExpectBackpressure = "backpressure"
)

var statsFields = map[string]bool{
	"received":          true,
	"unique_processed":  true,
	"duplicate_dropped": true,
	"dead_lettered":     true,
	"topics":            true,
}

// LoadScenario reads a scenario file. Unknown fields are rejected so typos
// fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.QueueCapacity < 0 {
		return fmt.Errorf("queue_capacity must be non-negative")
	}

	for i, st := range s.Steps {
		if err := validateStep(i, st); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, st Step) error {
	hasBatch := len(st.Publish) > 0 || st.Generate != nil
	if len(st.Publish) > 0 && st.Generate != nil {
		return fmt.Errorf("steps[%d]: publish and generate are mutually exclusive", i)
	}
	if !hasBatch && !st.Start {
		return fmt.Errorf("steps[%d]: one of publish, generate or start is required", i)
	}
	if st.Generate != nil {
		if st.Generate.Topic == "" {
			return fmt.Errorf("steps[%d].generate: topic is required", i)
		}
		if st.Generate.Count < 1 {
			return fmt.Errorf("steps[%d].generate: count must be positive", i)
		}
	}
	if st.Repeat < 0 {
		return fmt.Errorf("steps[%d]: repeat must be non-negative", i)
	}
	switch st.Expect {
	case "", ExpectAccepted, ExpectValidation, ExpectBackpressure:
	default:
		return fmt.Errorf("steps[%d]: unknown expect %q", i, st.Expect)
	}
	return nil
}

func validateAssertion(i int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	case AssertStats:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for stats", i)
		}
		for k := range a.Expect {
			if !statsFields[k] {
				return fmt.Errorf("assertions[%d]: unknown stats field %q", i, k)
			}
		}
	case AssertEvents:
		if a.Count == nil && len(a.Order) == 0 {
			return fmt.Errorf("assertions[%d]: count or order is required for events", i)
		}
	case AssertOutcomes:
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for outcomes", i)
		}
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for outcomes", i)
		}
	case AssertCounterIdentity:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}
