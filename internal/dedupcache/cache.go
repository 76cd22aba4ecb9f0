// Package dedupcache is a Redis-backed hot-key cache of event keys the ledger
// has already confirmed. It only ever short-circuits the existence pre-check;
// the ledger stays authoritative, so a stale or unavailable cache can cost
// speed but never correctness.
package dedupcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// DefaultTTL is how long a remembered key is kept.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "logagg:seen:"

// Config describes the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Cache implements engine.ExistenceCache on Redis.
// All calls pass through a circuit breaker so a dead Redis costs one fast
// failure per call instead of a network timeout.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewWithClient(client, cfg.TTL, logger), nil
}

// NewWithClient wraps an existing client. A non-positive ttl means DefaultTTL.
func NewWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{client: client, ttl: ttl, logger: logger}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dedupcache",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return c
}

// Key returns the Redis key for (topic, eventID). The topic length prefix
// keeps "a:b"/"c" and "a"/"b:c" distinct.
func Key(topic, eventID string) string {
	return keyPrefix + strconv.Itoa(len(topic)) + ":" + topic + ":" + eventID
}

// Seen reports whether the key has been remembered.
func (c *Cache) Seen(ctx context.Context, topic, eventID string) (bool, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		n, err := c.client.Exists(ctx, Key(topic, eventID)).Result()
		if err != nil {
			return false, err
		}
		return n > 0, nil
	})
	if err != nil {
		return false, fmt.Errorf("cache seen: %w", err)
	}
	return res.(bool), nil
}

// Remember records a key the ledger has confirmed.
func (c *Cache) Remember(ctx context.Context, topic, eventID string) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.client.Set(ctx, Key(topic, eventID), 1, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("cache remember: %w", err)
	}
	return nil
}

// Flush deletes every key this cache owns. Used when the ledger is cleared.
func (c *Cache) Flush(ctx context.Context) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		iter := c.client.Scan(ctx, 0, keyPrefix+"*", 500).Iterator()
		batch := make([]string, 0, 500)
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == cap(batch) {
				if err := c.client.Del(ctx, batch...).Err(); err != nil {
					return nil, err
				}
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		if len(batch) > 0 {
			return nil, c.client.Del(ctx, batch...).Err()
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("cache flush: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable, bypassing the breaker.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// IsOpen reports whether err came from an open breaker rather than Redis.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
