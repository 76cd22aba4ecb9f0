package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/logagg/internal/event"
	"github.com/roach88/logagg/internal/store"
)

const (
	// DefaultErrorBackoff is the pause after a failed storage attempt.
	DefaultErrorBackoff = 100 * time.Millisecond

	// DefaultMaxAttempts is how many times a storage step is tried.
	DefaultMaxAttempts = 3

	// DefaultDrainTimeout bounds drain-on-shutdown.
	DefaultDrainTimeout = 5 * time.Second
)

// Storage is what the consumer needs from a ledger implementation.
type Storage interface {
	store.Ledger
	store.CounterStore
	store.DeadLetterStore
}

// ExistenceCache is an optional hint in front of Storage.Exists.
// A hit is only a duplicate once the ledger confirms it; a stale hit falls
// through to the insert. A miss or error goes to the ledger as usual.
type ExistenceCache interface {
	Seen(ctx context.Context, topic, eventID string) (bool, error)
	Remember(ctx context.Context, topic, eventID string) error
}

// Recorder receives per-event measurements. Implemented by internal/metrics.
type Recorder interface {
	Unique()
	Duplicate(reason string)
	DeadLettered()
	StorageError(op string)
	Processed(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) Unique()                 {}
func (nopRecorder) Duplicate(string)        {}
func (nopRecorder) DeadLettered()           {}
func (nopRecorder) StorageError(string)     {}
func (nopRecorder) Processed(time.Duration) {}

// Consumer is the single worker that drains the queue and makes the
// idempotency decision for each event.
//
// CRITICAL: Run must be called from exactly ONE goroutine. Every ledger write
// for a given event happens on that goroutine, in dequeue order.
//
// Per event: existence pre-check (cache, then ledger), then insert; the insert
// outcome is authoritative. Counters are updated in a separate step after the
// decision, each step retried in place up to maxAttempts.
type Consumer struct {
	queue   *Queue
	storage Storage
	cache   ExistenceCache
	rec     Recorder
	logger  *slog.Logger
	onDone  func(Outcome)

	backoff      time.Duration
	maxAttempts  int
	drain        bool
	drainTimeout time.Duration
	detailed     bool

	state atomic.Int32
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithCache installs a hot-key existence cache.
func WithCache(c ExistenceCache) ConsumerOption {
	return func(cn *Consumer) {
		cn.cache = c
	}
}

// WithRecorder installs a metrics recorder.
func WithRecorder(r Recorder) ConsumerOption {
	return func(cn *Consumer) {
		if r != nil {
			cn.rec = r
		}
	}
}

// WithLogger sets the consumer's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) ConsumerOption {
	return func(cn *Consumer) {
		if l != nil {
			cn.logger = l
		}
	}
}

// WithErrorBackoff sets the pause after each failed storage attempt.
func WithErrorBackoff(d time.Duration) ConsumerOption {
	return func(cn *Consumer) {
		cn.backoff = d
	}
}

// WithMaxAttempts sets how many times each storage step is tried.
// Values below 1 are coerced to 1.
func WithMaxAttempts(n int) ConsumerOption {
	return func(cn *Consumer) {
		cn.maxAttempts = max(n, 1)
	}
}

// WithDrainOnShutdown makes Run process still-queued events after
// cancellation, for at most timeout.
func WithDrainOnShutdown(enabled bool, timeout time.Duration) ConsumerOption {
	return func(cn *Consumer) {
		cn.drain = enabled
		if timeout > 0 {
			cn.drainTimeout = timeout
		}
	}
}

// WithDetailedLogging toggles per-event debug/info logs.
func WithDetailedLogging(enabled bool) ConsumerOption {
	return func(cn *Consumer) {
		cn.detailed = enabled
	}
}

// WithOutcomeHook registers fn to be called with every terminal outcome, on
// the consumer goroutine, before the event is marked Done.
func WithOutcomeHook(fn func(Outcome)) ConsumerOption {
	return func(cn *Consumer) {
		cn.onDone = fn
	}
}

// NewConsumer creates a consumer for q backed by s.
func NewConsumer(q *Queue, s Storage, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		queue:        q,
		storage:      s,
		rec:          nopRecorder{},
		logger:       slog.Default(),
		backoff:      DefaultErrorBackoff,
		maxAttempts:  DefaultMaxAttempts,
		drainTimeout: DefaultDrainTimeout,
		detailed:     true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Store(int32(StateWaiting))
	return c
}

// State returns the consumer's current state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
}

// Run drains the queue until ctx is cancelled or the queue is closed and empty.
//
// The event being handled when ctx is cancelled is finished on a context
// detached from cancellation; nothing further is dequeued unless drain on
// shutdown is enabled.
//
// ERROR HANDLING: storage failures never stop the loop. They are retried,
// then dead-lettered or logged (see handle).
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer starting",
		"queue_capacity", c.queue.Cap(),
		"max_attempts", c.maxAttempts,
		"drain_on_shutdown", c.drain,
	)
	work := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			return c.shutdown(ctx)
		}

		if ev, ok := c.queue.TryDequeue(); ok {
			c.handle(work, ev)
			continue
		}

		select {
		case <-ctx.Done():
			return c.shutdown(ctx)
		case <-c.queue.Wait():
			if c.queue.closedAndEmpty() {
				c.logger.Info("consumer stopping: queue closed")
				return nil
			}
		}
	}
}

func (c *Consumer) shutdown(ctx context.Context) error {
	pending := c.queue.Len()
	c.logger.Info("consumer stopping: context cancelled", "pending", pending)

	if c.drain && pending > 0 {
		c.drainQueue(context.WithoutCancel(ctx))
	} else if pending > 0 {
		c.logger.Warn("abandoning queued events", "count", pending)
	}
	c.setState(StateWaiting)
	return ctx.Err()
}

func (c *Consumer) drainQueue(work context.Context) {
	deadline := time.Now().Add(c.drainTimeout)
	drained := 0
	for time.Now().Before(deadline) {
		ev, ok := c.queue.TryDequeue()
		if !ok {
			break
		}
		c.handle(work, ev)
		drained++
	}
	c.logger.Info("drain finished", "drained", drained, "abandoned", c.queue.Len())
}

// handle runs one event through the state machine and acknowledges it.
func (c *Consumer) handle(ctx context.Context, ev event.Event) {
	start := time.Now()
	key := ev.Key()

	if c.detailed {
		c.logger.Debug("processing event",
			"topic", key.Topic,
			"event_id", key.EventID,
			"source", ev.Source,
		)
	}

	out := c.process(ctx, ev)
	c.rec.Processed(time.Since(start))

	if c.onDone != nil {
		c.onDone(out)
	}
	c.setState(StateWaiting)
	c.queue.Done()
}

func (c *Consumer) process(ctx context.Context, ev event.Event) Outcome {
	key := ev.Key()

	rec, err := store.RecordFromEvent(ev)
	if err != nil {
		perr := &ProcessingError{Code: ErrCodeEncode, Op: "encode", Key: key, Err: err}
		rec = store.NewRecord{Topic: key.Topic, EventID: key.EventID, Timestamp: ev.Timestamp, Source: ev.Source, Payload: "{}"}
		return c.deadLetter(ctx, ev, rec, perr)
	}

	var reason string
	var inserted bool
	err = c.retry(ctx, "decide", key, func() error {
		var derr error
		inserted, reason, derr = c.decide(ctx, rec)
		return derr
	})
	if err != nil {
		return c.deadLetter(ctx, ev, rec, err)
	}

	if inserted {
		c.setState(StateCommitted)
		if err := c.retry(ctx, "increment unique", key, func() error {
			return c.storage.IncrementUnique(ctx)
		}); err != nil {
			c.logCounterDrift(key, err)
		}
		c.remember(ctx, key)
		c.rec.Unique()
		if c.detailed {
			c.logger.Info("event committed", "topic", key.Topic, "event_id", key.EventID)
		}
		return Outcome{Key: key, State: StateCommitted}
	}

	c.setState(StateDropped)
	if err := c.retry(ctx, "increment duplicate", key, func() error {
		return c.storage.IncrementDuplicate(ctx)
	}); err != nil {
		c.logCounterDrift(key, err)
	}
	if reason != ReasonCache {
		c.remember(ctx, key)
	}
	c.rec.Duplicate(reason)
	c.logger.Warn("duplicate event dropped",
		"topic", key.Topic,
		"event_id", key.EventID,
		"reason", reason,
	)
	return Outcome{Key: key, State: StateDropped, Reason: reason}
}

// decide performs the check-then-insert. It returns whether this call created
// the record and, if not, why the event is a duplicate.
func (c *Consumer) decide(ctx context.Context, rec store.NewRecord) (bool, string, error) {
	c.setState(StateChecking)

	hinted := false
	if c.cache != nil {
		seen, err := c.cache.Seen(ctx, rec.Topic, rec.EventID)
		if err != nil {
			c.logger.Debug("cache lookup failed, using ledger",
				"topic", rec.Topic, "event_id", rec.EventID, "error", err)
		}
		hinted = err == nil && seen
	}

	exists, err := c.storage.Exists(ctx, rec.Topic, rec.EventID)
	if err != nil {
		return false, "", err
	}
	if exists {
		if hinted {
			return false, ReasonCache, nil
		}
		return false, ReasonPrecheck, nil
	}
	if hinted {
		c.logger.Warn("stale cache entry, ledger has no record",
			"topic", rec.Topic, "event_id", rec.EventID)
	}

	c.setState(StateProcessing)
	outcome, err := c.storage.Insert(ctx, rec)
	if err != nil {
		return false, "", err
	}
	switch outcome {
	case store.Inserted:
		return true, "", nil
	case store.AlreadyExists:
		return false, ReasonRace, nil
	default:
		return false, "", fmt.Errorf("unexpected insert outcome %v", outcome)
	}
}

// retry runs fn up to maxAttempts times, pausing backoff after each failure.
func (c *Consumer) retry(ctx context.Context, op string, key event.Key, fn func() error) error {
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		c.rec.StorageError(op)
		c.logger.Error("storage operation failed",
			"op", op,
			"topic", key.Topic,
			"event_id", key.EventID,
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"error", err,
		)
		c.pause(ctx)
	}
	return &ProcessingError{Code: ErrCodeStorage, Op: op, Key: key, Attempts: c.maxAttempts, Err: err}
}

func (c *Consumer) pause(ctx context.Context) {
	if c.backoff <= 0 {
		return
	}
	t := time.NewTimer(c.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (c *Consumer) deadLetter(ctx context.Context, ev event.Event, rec store.NewRecord, cause error) Outcome {
	key := ev.Key()
	reason := cause.Error()

	if err := c.storage.DeadLetter(ctx, rec, reason); err != nil {
		c.rec.StorageError("dead letter")
		// Last resort: the full event goes to the log so an operator can replay it.
		c.logger.Error("dead letter failed, event dropped",
			"topic", key.Topic,
			"event_id", key.EventID,
			"timestamp", ev.Timestamp,
			"source", ev.Source,
			"payload", rec.Payload,
			"cause", cause,
			"error", err,
		)
		c.setState(StateDropped)
		return Outcome{Key: key, State: StateDropped, Reason: errors.Join(cause, err).Error()}
	}

	c.setState(StateDeadLettered)
	c.rec.DeadLettered()
	c.logger.Error("event dead-lettered",
		"topic", key.Topic,
		"event_id", key.EventID,
		"timestamp", ev.Timestamp,
		"source", ev.Source,
		"payload", rec.Payload,
		"reason", reason,
	)
	return Outcome{Key: key, State: StateDeadLettered, Reason: reason}
}

func (c *Consumer) remember(ctx context.Context, key event.Key) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Remember(ctx, key.Topic, key.EventID); err != nil {
		c.logger.Debug("cache remember failed", "topic", key.Topic, "event_id", key.EventID, "error", err)
	}
}

func (c *Consumer) logCounterDrift(key event.Key, err error) {
	c.logger.Error("counter update failed, counters will drift",
		"topic", key.Topic,
		"event_id", key.EventID,
		"error", err,
	)
}
