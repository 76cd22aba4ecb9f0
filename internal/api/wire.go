package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/logagg/internal/app"
	"github.com/roach88/logagg/internal/event"
	"github.com/roach88/logagg/internal/store"
)

type publishRequest struct {
	Events *[]json.RawMessage `json:"events"`
}

// decodePublish parses a publish body. Every error is a *event.ValidationError
// so the handler maps it to 422.
func decodePublish(body []byte) ([]event.Event, error) {
	var req publishRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &event.ValidationError{Index: -1, Field: "body", Reason: "invalid JSON: " + err.Error()}
	}
	if req.Events == nil {
		return nil, &event.ValidationError{Index: -1, Field: "events", Reason: "field required"}
	}

	out := make([]event.Event, 0, len(*req.Events))
	for i, raw := range *req.Events {
		ev, err := event.Decode(raw)
		if err != nil {
			return nil, event.WithIndex(err, i)
		}
		out = append(out, ev)
	}
	return out, nil
}

// EventJSON is an event as it appears on the wire.
type EventJSON struct {
	Topic     string         `json:"topic"`
	EventID   string         `json:"event_id"`
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload"`
}

func recordJSON(r store.Record) (EventJSON, error) {
	payload, err := event.UnmarshalPayload([]byte(r.Payload))
	if err != nil {
		return EventJSON{}, fmt.Errorf("decode stored payload for %s/%s: %w", r.Topic, r.EventID, err)
	}
	return EventJSON{
		Topic:     r.Topic,
		EventID:   r.EventID,
		Timestamp: r.Timestamp,
		Source:    r.Source,
		Payload:   payload,
	}, nil
}

// PublishResponse is the body of a successful POST /publish.
type PublishResponse struct {
	Status   string `json:"status"`
	Received int    `json:"received"`
	Message  string `json:"message"`
}

// EventsResponse is the body of GET /events. Topic is null when unfiltered.
type EventsResponse struct {
	Topic  *string     `json:"topic"`
	Total  int         `json:"total"`
	Events []EventJSON `json:"events"`
}

// StatsResponse is the body of GET /stats. Uptime is in seconds.
type StatsResponse struct {
	Received         int64   `json:"received"`
	UniqueProcessed  int64   `json:"unique_processed"`
	DuplicateDropped int64   `json:"duplicate_dropped"`
	DeadLettered     int64   `json:"dead_lettered"`
	Topics           int64   `json:"topics"`
	Uptime           float64 `json:"uptime"`
}

func statsJSON(s app.Stats) StatsResponse {
	return StatsResponse{
		Received:         s.Received,
		UniqueProcessed:  s.UniqueProcessed,
		DuplicateDropped: s.DuplicateDropped,
		DeadLettered:     s.DeadLettered,
		Topics:           s.Topics,
		Uptime:           s.Uptime.Seconds(),
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	QueueSize     int     `json:"queue_size"`
	Timestamp     string  `json:"timestamp"`
	Error         string  `json:"error,omitempty"`
}

func healthJSON(h app.Health, err error) HealthResponse {
	resp := HealthResponse{
		Status:        h.Status,
		UptimeSeconds: h.Uptime.Seconds(),
		QueueSize:     h.QueueSize,
		Timestamp:     h.Timestamp.Format(time.RFC3339Nano),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

type deadLetterJSON struct {
	ID        int64  `json:"id"`
	Topic     string `json:"topic"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
	Payload   string `json:"payload"`
	Reason    string `json:"reason"`
	FailedAt  string `json:"failed_at"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
