package event

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_FullEvent(t *testing.T) {
	ev, err := Decode([]byte(`{"topic":"t","event_id":"1","timestamp":"2025-01-01T00:00:00Z","source":"s","payload":{"n":1.50}}`))
	require.NoError(t, err)

	assert.Equal(t, "t", ev.Topic)
	assert.Equal(t, "1", ev.EventID)
	assert.Equal(t, "s", ev.Source)
	assert.Equal(t, json.Number("1.50"), ev.Payload["n"])
}

func TestDecode_PayloadOptional(t *testing.T) {
	for _, in := range []string{
		`{"topic":"t","event_id":"1","timestamp":"2025-01-01","source":""}`,
		`{"topic":"t","event_id":"1","timestamp":"2025-01-01","source":"","payload":null}`,
	} {
		ev, err := Decode([]byte(in))
		require.NoError(t, err, in)
		assert.Nil(t, ev.Payload)
		assert.Equal(t, map[string]any{}, ev.Normalize().Payload)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		field string
	}{
		{"missing topic", `{"event_id":"1","timestamp":"2025-01-01","source":"s"}`, "topic"},
		{"missing event_id", `{"topic":"t","timestamp":"2025-01-01","source":"s"}`, "event_id"},
		{"missing timestamp", `{"topic":"t","event_id":"1","source":"s"}`, "timestamp"},
		{"missing source", `{"topic":"t","event_id":"1","timestamp":"2025-01-01"}`, "source"},
		{"payload array", `{"topic":"t","event_id":"1","timestamp":"2025-01-01","source":"s","payload":[]}`, "payload"},
		{"topic number", `{"topic":7,"event_id":"1","timestamp":"2025-01-01","source":"s"}`, "topic"},
		{"not an object", `[1,2]`, "event"},
		{"truncated", `{"topic":`, "event"},
		{"trailing data", `{"topic":"t","event_id":"1","timestamp":"2025-01-01","source":"s"} {}`, "event"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.in))
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)
			assert.Equal(t, -1, ve.Index)
		})
	}
}

func TestWithIndex(t *testing.T) {
	orig := &ValidationError{Index: -1, Field: "topic", Reason: "field required"}
	err := WithIndex(orig, 3)

	assert.EqualError(t, err, "events[3].topic: field required")
	assert.Equal(t, -1, orig.Index, "original is not modified")

	plain := errors.New("boom")
	assert.Same(t, plain, WithIndex(plain, 1))
}
