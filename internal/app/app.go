// Package app holds the application context: one value that owns the queue,
// the consumer, the ledger handle, the optional cache and metrics, and the
// start time. The HTTP gateway, the Kafka source and the CLI all go through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/logagg/internal/config"
	"github.com/roach88/logagg/internal/engine"
	"github.com/roach88/logagg/internal/event"
	"github.com/roach88/logagg/internal/metrics"
	"github.com/roach88/logagg/internal/store"
)

const (
	// ServiceName is reported by the root endpoint.
	ServiceName = "Pub-Sub Log Aggregator"

	// Version is the service version.
	Version = "1.0.0"
)

// Rejection reasons reported to metrics.
const (
	RejectValidation   = "validation"
	RejectEmpty        = "empty"
	RejectBackpressure = "backpressure"
	RejectClosed       = "closed"
)

// ErrAlreadyStarted is returned by Start when the consumer is running.
var ErrAlreadyStarted = errors.New("consumer already started")

// Cache is the optional hot-key cache. It extends the consumer's view with
// Flush so ClearAll can reset it together with the ledger.
type Cache interface {
	engine.ExistenceCache
	Flush(ctx context.Context) error
}

// App is the explicit application context.
//
// Thread-safety: Submit, Query, Statistics and Health are safe from any
// goroutine. Start and Stop must not race with each other.
type App struct {
	cfg      *config.Config
	backend  store.Backend
	queue    *engine.Queue
	consumer *engine.Consumer
	cache    Cache
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	started  time.Time

	hook func(engine.Outcome)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

// Option configures an App.
type Option func(*App)

// WithCache installs the hot-key cache.
func WithCache(c Cache) Option {
	return func(a *App) {
		a.cache = c
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock replaces the wall clock used for uptime and health timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		if now != nil {
			a.now = now
		}
	}
}

// WithOutcomeHook observes every terminal consumer outcome.
func WithOutcomeHook(fn func(engine.Outcome)) Option {
	return func(a *App) {
		a.hook = fn
	}
}

// New builds the application context around backend. The consumer is not
// running until Start is called. A nil cfg means config.Default().
func New(cfg *config.Config, backend store.Backend, opts ...Option) *App {
	if cfg == nil {
		cfg = config.Default()
	}
	a := &App{
		cfg:     cfg,
		backend: backend,
		queue:   engine.NewQueue(cfg.Queue.MaxSize),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.started = a.now()

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(a.queue.Len)
	}

	copts := []engine.ConsumerOption{
		engine.WithLogger(a.logger),
		engine.WithErrorBackoff(cfg.Consumer.ErrorBackoff),
		engine.WithMaxAttempts(cfg.Consumer.MaxAttempts),
		engine.WithDrainOnShutdown(cfg.Consumer.DrainOnShutdown, cfg.Consumer.DrainTimeout),
		engine.WithDetailedLogging(cfg.Log.Detailed),
		engine.WithOutcomeHook(a.hook),
	}
	if a.cache != nil {
		copts = append(copts, engine.WithCache(a.cache))
	}
	if a.metrics != nil {
		copts = append(copts, engine.WithRecorder(a.metrics))
	}
	a.consumer = engine.NewConsumer(a.queue, backend, copts...)
	return a
}

// Config returns the configuration the App was built with.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Metrics returns the metric set, or nil when metrics are disabled.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// Backend returns the storage backend.
func (a *App) Backend() store.Backend {
	return a.backend
}

// ConsumerState reports the consumer's current state.
func (a *App) ConsumerState() engine.State {
	return a.consumer.State()
}

// QueueLen returns the number of buffered events.
func (a *App) QueueLen() int {
	return a.queue.Len()
}

// Uptime returns the time since New.
func (a *App) Uptime() time.Duration {
	return a.now().Sub(a.started)
}

// Start runs the consumer on its own goroutine until Stop or ctx is done.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	a.cancel = cancel
	a.done = done

	go func() {
		done <- a.consumer.Run(runCtx)
	}()
	a.logger.Info("application started",
		"queue_capacity", a.queue.Cap(),
		"metrics", a.metrics != nil,
		"cache", a.cache != nil,
	)
	return nil
}

// Stop cancels the consumer and waits for it to return. With drain on
// shutdown enabled this includes processing what is still queued.
// Stop on an App that was never started is a no-op.
func (a *App) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("consumer stopped with error", "error", err)
	}
	a.logger.Info("application stopped", "abandoned", a.queue.Len())
}

// WaitIdle blocks until every accepted event has been handled.
func (a *App) WaitIdle(ctx context.Context) error {
	return a.queue.Join(ctx)
}

// Submit validates and enqueues a batch. Validation happens for every event
// before anything is enqueued, and the batch is enqueued all-or-nothing.
//
// Errors: event.ErrEmptyBatch, *event.ValidationError, engine.ErrQueueFull,
// engine.ErrQueueClosed.
func (a *App) Submit(ctx context.Context, events []event.Event) (int, error) {
	if len(events) == 0 {
		a.reject(RejectEmpty)
		return 0, event.ErrEmptyBatch
	}
	if err := event.ValidateBatch(events); err != nil {
		a.reject(RejectValidation)
		return 0, err
	}

	batch := make([]event.Event, len(events))
	for i, ev := range events {
		batch[i] = ev.Normalize()
	}

	if err := a.queue.EnqueueBatch(batch); err != nil {
		switch {
		case errors.Is(err, engine.ErrQueueFull):
			a.reject(RejectBackpressure)
			a.logger.Warn("queue full, batch rejected",
				"batch_size", len(batch),
				"queue_size", a.queue.Len(),
				"capacity", a.queue.Cap(),
			)
		case errors.Is(err, engine.ErrQueueClosed):
			a.reject(RejectClosed)
		}
		return 0, err
	}

	n := len(batch)
	if err := a.backend.IncrementReceived(ctx, int64(n)); err != nil {
		// The events are already queued; the counter lags behind them.
		a.logger.Error("increment received failed, counters will drift",
			"count", n, "error", err)
	}
	if a.metrics != nil {
		a.metrics.Accepted(n)
	}
	if a.cfg.Log.Detailed {
		for _, ev := range batch {
			a.logger.Debug("event received",
				"topic", ev.Topic, "event_id", ev.EventID, "source", ev.Source)
		}
	}
	return n, nil
}

func (a *App) reject(reason string) {
	if a.metrics != nil {
		a.metrics.Reject(reason)
	}
}

// QueryResult is the answer to Query.
type QueryResult struct {
	// Topic is the filter; empty means every topic.
	Topic   string
	Total   int
	Records []store.Record
}

// Query lists processed records for topic (empty for all), newest first.
func (a *App) Query(ctx context.Context, topic string) (QueryResult, error) {
	if topic != "" {
		topic = event.Event{Topic: topic}.Key().Topic
	}
	recs, err := a.backend.List(ctx, topic)
	if err != nil {
		return QueryResult{}, fmt.Errorf("query events: %w", err)
	}
	return QueryResult{Topic: topic, Total: len(recs), Records: recs}, nil
}

// Stats is a statistics snapshot.
type Stats struct {
	Received         int64
	UniqueProcessed  int64
	DuplicateDropped int64
	DeadLettered     int64
	Topics           int64
	Uptime           time.Duration
}

// Statistics reads the counters, the distinct topic count and the uptime.
func (a *App) Statistics(ctx context.Context) (Stats, error) {
	c, err := a.backend.Snapshot(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("statistics: %w", err)
	}
	topics, err := a.backend.CountDistinctTopics(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("statistics: %w", err)
	}
	return Stats{
		Received:         c.Received,
		UniqueProcessed:  c.UniqueProcessed,
		DuplicateDropped: c.DuplicateDropped,
		DeadLettered:     c.DeadLettered,
		Topics:           topics,
		Uptime:           a.Uptime(),
	}, nil
}

// DeadLetters lists events the consumer gave up on.
func (a *App) DeadLetters(ctx context.Context) ([]store.DeadLetterRecord, error) {
	return a.backend.ListDeadLetters(ctx)
}

// ClearAll resets the cache, then the ledger, counters and dead letters.
// A failed flush leaves the ledger untouched. Events still queued are not
// removed.
func (a *App) ClearAll(ctx context.Context) error {
	if a.cache != nil {
		if err := a.cache.Flush(ctx); err != nil {
			return fmt.Errorf("flush cache: %w", err)
		}
	}
	if err := a.backend.ClearAll(ctx); err != nil {
		return err
	}
	a.logger.Info("all data cleared")
	return nil
}

// Health is the liveness report.
type Health struct {
	Status    string
	Uptime    time.Duration
	QueueSize int
	Timestamp time.Time
}

// Health pings the ledger. The returned Health is filled in either way;
// Status is "unhealthy" when err is non-nil.
func (a *App) Health(ctx context.Context) (Health, error) {
	h := Health{
		Status:    "healthy",
		Uptime:    a.Uptime(),
		QueueSize: a.queue.Len(),
		Timestamp: a.now().UTC(),
	}
	if err := a.backend.Ping(ctx); err != nil {
		h.Status = "unhealthy"
		return h, fmt.Errorf("ledger unreachable: %w", err)
	}
	return h, nil
}

// Close stops the consumer and refuses further submissions. It does not
// close the backend or the cache; the caller that opened them does.
func (a *App) Close() {
	a.Stop()
	a.queue.Close()
}
