// Package kafkasource feeds events from a Kafka topic into the application.
//
// Delivery into the core is at-least-once: offsets are committed only after
// the batch carrying them has been accepted by Submit, so a crash between the
// two replays messages the ledger then drops as duplicates.
package kafkasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/roach88/logagg/internal/engine"
	"github.com/roach88/logagg/internal/event"
)

const (
	// DefaultBatchSize is the number of messages submitted together.
	DefaultBatchSize = 100

	// DefaultFlushInterval bounds how long a partial batch waits.
	DefaultFlushInterval = 100 * time.Millisecond
)

// Submitter accepts a batch of events. Implemented by *app.App.
type Submitter interface {
	Submit(ctx context.Context, events []event.Event) (int, error)
}

// Reader is the subset of *kafka.Reader the source uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures the consumer-group reader.
type Config struct {
	Brokers       []string
	Topic         string
	GroupID       string
	BatchSize     int
	FlushInterval time.Duration
}

// Source reads event messages and submits them in batches.
type Source struct {
	reader    Reader
	sub       Submitter
	batchSize int
	interval  time.Duration
	logger    *slog.Logger

	msgs   []kafka.Message
	events []event.Event
	due    time.Time
}

// New creates a Source backed by a kafka-go consumer-group reader.
func New(cfg Config, sub Submitter, logger *slog.Logger) (*Source, error) {
	brokers := normalizeBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka source requires at least one broker")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, errors.New("kafka source requires topic")
	}
	groupID := strings.TrimSpace(cfg.GroupID)
	if groupID == "" {
		return nil, errors.New("kafka source requires group_id")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10 << 20,
		MaxWait:  cfg.FlushInterval,
	})
	return NewWithReader(reader, sub, cfg.BatchSize, cfg.FlushInterval, logger)
}

// NewWithReader builds a Source over an existing reader.
// Non-positive batchSize and interval take the defaults.
func NewWithReader(r Reader, sub Submitter, batchSize int, interval time.Duration, logger *slog.Logger) (*Source, error) {
	if r == nil {
		return nil, errors.New("reader is required")
	}
	if sub == nil {
		return nil, errors.New("submitter is required")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		reader:    r,
		sub:       sub,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger,
	}, nil
}

// Run consumes until ctx is cancelled or the reader is closed. A partial
// batch pending at shutdown is not committed and will be redelivered.
func (s *Source) Run(ctx context.Context) error {
	s.logger.Info("kafka source starting", "batch_size", s.batchSize, "flush_interval", s.interval)

	for {
		if len(s.msgs) > 0 && (len(s.msgs) >= s.batchSize || !time.Now().Before(s.due)) {
			if err := s.flush(ctx); err != nil {
				return s.stopped(ctx, err)
			}
			continue
		}

		msg, err := s.fetch(ctx)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && len(s.msgs) > 0 {
				continue // flush interval reached
			}
			return s.stopped(ctx, err)
		}
		s.add(msg)
	}
}

// fetch waits for the next message, but no longer than the pending batch's
// flush deadline.
func (s *Source) fetch(ctx context.Context) (kafka.Message, error) {
	if len(s.msgs) == 0 {
		return s.reader.FetchMessage(ctx)
	}
	fctx, cancel := context.WithDeadline(ctx, s.due)
	defer cancel()
	return s.reader.FetchMessage(fctx)
}

func (s *Source) add(msg kafka.Message) {
	if len(s.msgs) == 0 {
		s.due = time.Now().Add(s.interval)
	}
	s.msgs = append(s.msgs, msg)

	ev, err := event.Decode(msg.Value)
	if err == nil {
		err = event.Validate(ev)
	}
	if err != nil {
		// Invalid messages are committed with the batch and never retried.
		s.logger.Warn("dropping invalid event message",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return
	}
	s.events = append(s.events, ev)
}

// flush submits the pending events, retrying while the queue is full, then
// commits every pending offset.
func (s *Source) flush(ctx context.Context) error {
	if len(s.events) > 0 {
		for {
			n, err := s.sub.Submit(ctx, s.events)
			if err == nil {
				s.logger.Debug("kafka batch submitted", "events", n, "messages", len(s.msgs))
				break
			}
			if !engine.IsBackpressure(err) {
				return fmt.Errorf("submit kafka batch: %w", err)
			}
			s.logger.Warn("queue full, retrying kafka batch", "events", len(s.events), "wait", s.interval)
			if err := sleep(ctx, s.interval); err != nil {
				return err
			}
		}
	}

	if err := s.reader.CommitMessages(ctx, s.msgs...); err != nil {
		return fmt.Errorf("commit kafka offsets: %w", err)
	}
	s.msgs = nil
	s.events = nil
	return nil
}

func (s *Source) stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil || isReaderClosed(err) {
		if len(s.msgs) > 0 {
			s.logger.Info("kafka source stopping, uncommitted messages will be redelivered", "count", len(s.msgs))
		}
		return nil
	}
	return err
}

// Close closes the underlying reader.
func (s *Source) Close() error {
	if s == nil || s.reader == nil {
		return nil
	}
	return s.reader.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isReaderClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "reader closed") || strings.Contains(msg, "use of closed network connection")
}

func normalizeBrokers(brokers []string) []string {
	out := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
