package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/logagg/internal/event"
)

// DefaultClientTimeout bounds each request made by a Client.
const DefaultClientTimeout = 30 * time.Second

// StatusError is a non-2xx reply from the aggregator.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("aggregator returned %d: %s", e.StatusCode, e.Detail)
}

// Client talks to a running aggregator over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL (e.g. "http://localhost:8080").
// A nil hc gets a client with DefaultClientTimeout.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: DefaultClientTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// Publish posts one batch.
func (c *Client) Publish(ctx context.Context, evs ...event.Event) (PublishResponse, error) {
	body := struct {
		Events []event.Event `json:"events"`
	}{Events: evs}
	if body.Events == nil {
		body.Events = []event.Event{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return PublishResponse{}, fmt.Errorf("encode publish request: %w", err)
	}

	var out PublishResponse
	err = c.do(ctx, http.MethodPost, "/publish", bytes.NewReader(payload), &out)
	return out, err
}

// Stats fetches GET /stats.
func (c *Client) Stats(ctx context.Context) (StatsResponse, error) {
	var out StatsResponse
	err := c.do(ctx, http.MethodGet, "/stats", nil, &out)
	return out, err
}

// Events fetches GET /events, filtered by topic when non-empty.
func (c *Client) Events(ctx context.Context, topic string) (EventsResponse, error) {
	path := "/events"
	if topic != "" {
		path += "?topic=" + url.QueryEscape(topic)
	}
	var out EventsResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Health fetches GET /health. An unhealthy service is returned as a
// *StatusError with code 503.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &e) != nil || e.Detail == "" {
			e.Detail = strings.TrimSpace(string(data))
		}
		return &StatusError{StatusCode: resp.StatusCode, Detail: e.Detail}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
