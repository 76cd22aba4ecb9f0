package kafkasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/roach88/logagg/internal/event"
)

// Writer is the subset of *kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes events to a Kafka topic, one message per event keyed by
// "topic:event_id" so redeliveries of an event land on one partition.
type Publisher struct {
	writer Writer
	topic  string
}

// NewPublisher creates a synchronous publisher.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	brokers = normalizeBrokers(brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("kafka publisher requires topic")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            5,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return NewPublisherWithWriter(w, topic), nil
}

// NewPublisherWithWriter wraps an existing writer.
func NewPublisherWithWriter(w Writer, topic string) *Publisher {
	return &Publisher{writer: w, topic: topic}
}

// Publish writes evs in one call.
func (p *Publisher) Publish(ctx context.Context, evs ...event.Event) error {
	if len(evs) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(evs))
	for _, ev := range evs {
		msg, err := message(ev)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("writing kafka messages to topic %q: %w", p.topic, err)
	}
	return nil
}

func message(ev event.Event) (kafka.Message, error) {
	value, err := json.Marshal(ev.Normalize())
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshaling event %s/%s: %w", ev.Topic, ev.EventID, err)
	}
	k := ev.Key()
	return kafka.Message{
		Key:   []byte(fmt.Sprintf("%s:%s", k.Topic, k.EventID)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(ev.Source)},
		},
	}, nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
