package event

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent() Event {
	return Event{
		Topic:     "app.logs",
		EventID:   "evt-001",
		Timestamp: "2025-01-01T10:00:00Z",
		Source:    "svc-a",
		Payload:   map[string]any{"level": "info"},
	}
}

func TestValidate_AcceptsWellFormedEvent(t *testing.T) {
	require.NoError(t, Validate(validEvent()))
}

func TestValidate_RejectsEmptyFields(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Event)
		field string
	}{
		{"empty topic", func(e *Event) { e.Topic = "" }, "topic"},
		{"whitespace topic", func(e *Event) { e.Topic = "   " }, "topic"},
		{"empty event_id", func(e *Event) { e.EventID = "" }, "event_id"},
		{"whitespace event_id", func(e *Event) { e.EventID = "\t" }, "event_id"},
		{"empty timestamp", func(e *Event) { e.Timestamp = "" }, "timestamp"},
		{"garbage timestamp", func(e *Event) { e.Timestamp = "yesterday" }, "timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validEvent()
			tt.mut(&ev)

			err := Validate(ev)
			require.Error(t, err)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
			assert.Equal(t, -1, ve.Index)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestValidate_EmptySourceAndPayloadAllowed(t *testing.T) {
	ev := validEvent()
	ev.Source = ""
	ev.Payload = nil
	assert.NoError(t, Validate(ev))
}

func TestValidateBatch_Empty(t *testing.T) {
	err := ValidateBatch(nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
	assert.True(t, IsValidationError(err))
}

func TestValidateBatch_ReportsIndex(t *testing.T) {
	bad := validEvent()
	bad.EventID = ""

	err := ValidateBatch([]Event{validEvent(), bad})

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, 1, ve.Index)
	assert.Equal(t, "events[1].event_id: must not be empty", ve.Error())
}

func TestParseTimestamp_Formats(t *testing.T) {
	accepted := []string{
		"2025-01-01T10:00:00Z",
		"2025-01-01T10:00:00.123456Z",
		"2025-01-01T10:00:00+07:00",
		"2025-01-01T10:00:00.5-03:30",
		"2025-01-01T10:00:00",
		"2025-01-01T10:00:00.123",
		"2025-01-01T10:00",
		"2025-10-24T10:30:00+0000",
		"2025-10-24T10:30:00.25-0130",
		"2025-10-24T10:30Z",
		"2025-10-24T10:30+02:00",
		"2025-10-24T10:30+0200",
		"2025-01-01 10:00:00",
		"2025-01-01 10:00:00+0000",
		"2025-01-01 10:00",
		"2025-01-01",
	}
	for _, s := range accepted {
		_, err := ParseTimestamp(s)
		assert.NoError(t, err, s)
	}

	rejected := []string{"", "2025-13-01", "01/02/2025", "2025-01-01T25:00:00Z", "now"}
	for _, s := range rejected {
		_, err := ParseTimestamp(s)
		assert.Error(t, err, s)
	}
}

func TestParseTimestamp_CompactOffsetMatchesColonForm(t *testing.T) {
	compact, err := ParseTimestamp("2025-10-24T10:30:00+0530")
	require.NoError(t, err)
	colon, err := ParseTimestamp("2025-10-24T10:30:00+05:30")
	require.NoError(t, err)
	assert.True(t, compact.Equal(colon))

	minutes, err := ParseTimestamp("2025-10-24T10:30Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 10, 24, 10, 30, 0, 0, time.UTC), minutes.UTC())
}

func TestKey_NFCNormalisation(t *testing.T) {
	composed := Event{Topic: "caf\u00e9", EventID: "\u00e9-1"}
	decomposed := Event{Topic: "cafe\u0301", EventID: "e\u0301-1"}

	assert.Equal(t, composed.Key(), decomposed.Key())
	assert.Equal(t, "caf\u00e9/\u00e9-1", decomposed.Key().String())
}

func TestNormalize_FillsPayload(t *testing.T) {
	ev := Event{Topic: "cafe\u0301", EventID: "x", Timestamp: "2025-01-01"}
	n := ev.Normalize()

	assert.Equal(t, "caf\u00e9", n.Topic)
	assert.NotNil(t, n.Payload)
	assert.Empty(t, n.Payload)
	assert.Nil(t, ev.Payload, "original must not be mutated")
}
