package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/roach88/logagg/internal/app"
	"github.com/roach88/logagg/internal/engine"
	"github.com/roach88/logagg/internal/event"
)

// Root describes the service.
func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	endpoints := map[string]string{
		"publish":      "POST /publish",
		"events":       "GET /events",
		"stats":        "GET /stats",
		"health":       "GET /health",
		"dead_letters": "GET /dead-letters",
	}
	if h.app.Metrics() != nil {
		endpoints["metrics"] = "GET /metrics"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   app.ServiceName,
		"version":   app.Version,
		"status":    "running",
		"endpoints": endpoints,
	})
}

// Health reports liveness. The body is the same on failure; only the status
// code and the error field change.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	hs, err := h.app.Health(r.Context())
	status := http.StatusOK
	if err != nil {
		h.logger.Error("health check failed", "error", err)
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthJSON(hs, err))
}

// Publish accepts a batch of events.
func (h *Handlers) Publish(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	events, err := decodePublish(body)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	n, err := h.app.Submit(r.Context(), events)
	switch {
	case err == nil:
	case errors.Is(err, event.ErrEmptyBatch):
		h.writeError(w, http.StatusBadRequest, "event list must not be empty")
		return
	case event.IsValidationError(err):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case engine.IsBackpressure(err):
		h.logger.Error("event queue is full", "batch_size", len(events))
		h.writeError(w, http.StatusServiceUnavailable, "event queue is full, please try again later")
		return
	case errors.Is(err, engine.ErrQueueClosed):
		h.writeError(w, http.StatusServiceUnavailable, "service is shutting down")
		return
	default:
		h.logger.Error("publish failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error: "+err.Error())
		return
	}

	h.logger.Info("events received", "count", n)
	writeJSON(w, http.StatusOK, PublishResponse{
		Status:   "accepted",
		Received: n,
		Message:  fmt.Sprintf("Successfully received %d event(s) for processing", n),
	})
}

// Events lists processed events, optionally for one topic.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	var topic *string
	if q := r.URL.Query(); q.Has("topic") {
		t := q.Get("topic")
		topic = &t
	}

	filter := ""
	if topic != nil {
		filter = *topic
	}
	res, err := h.app.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("retrieving events failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "error retrieving events: "+err.Error())
		return
	}

	out := make([]EventJSON, 0, len(res.Records))
	for _, rec := range res.Records {
		ej, err := recordJSON(rec)
		if err != nil {
			h.logger.Error("retrieving events failed", "error", err)
			h.writeError(w, http.StatusInternalServerError, "error retrieving events: "+err.Error())
			return
		}
		out = append(out, ej)
	}

	if topic != nil && *topic == "" {
		topic = nil
	}
	h.logger.Info("events retrieved", "count", len(out), "topic", filter)
	writeJSON(w, http.StatusOK, EventsResponse{Topic: topic, Total: res.Total, Events: out})
}

// Stats returns the counters.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.app.Statistics(r.Context())
	if err != nil {
		h.logger.Error("retrieving stats failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "error retrieving stats: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statsJSON(st))
}

// DeadLetters lists events whose storage step failed on every attempt.
func (h *Handlers) DeadLetters(w http.ResponseWriter, r *http.Request) {
	dls, err := h.app.DeadLetters(r.Context())
	if err != nil {
		h.logger.Error("retrieving dead letters failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "error retrieving dead letters: "+err.Error())
		return
	}
	out := make([]deadLetterJSON, 0, len(dls))
	for _, dl := range dls {
		out = append(out, deadLetterJSON{
			ID:        dl.ID,
			Topic:     dl.Topic,
			EventID:   dl.EventID,
			Timestamp: dl.Timestamp,
			Source:    dl.Source,
			Payload:   dl.Payload,
			Reason:    dl.Reason,
			FailedAt:  dl.FailedAt.Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(out), "dead_letters": out})
}

func (h *Handlers) rateLimited(w http.ResponseWriter, r *http.Request) {
	if m := h.app.Metrics(); m != nil {
		m.Reject("rate_limited")
	}
	h.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
