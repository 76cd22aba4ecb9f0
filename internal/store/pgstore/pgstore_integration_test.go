//go:build integration
// +build integration

package pgstore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/roach88/logagg/internal/store"
	"github.com/roach88/logagg/internal/testutil"
)

func setupTestDB(ctx context.Context) (string, func(), error) {
	if url := os.Getenv("TEST_DB_URL"); url != "" {
		return url, func() {}, nil
	}
	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15"),
		postgres.WithDatabase("logagg"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("securepassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dbURL, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", nil, fmt.Errorf("failed to get connection string for postgres: %w", err)
	}

	return dbURL, func() { pgContainer.Terminate(ctx) }, nil
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	url, cleanup, err := setupTestDB(ctx)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	s, err := Open(ctx, url, WithClock(testutil.NewDeterministicClock().Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.ClearAll(ctx))
	return s
}

func record(topic, id string) store.NewRecord {
	return store.NewRecord{
		Topic:     topic,
		EventID:   id,
		Timestamp: "2025-01-01T00:00:00Z",
		Source:    "it",
		Payload:   `{"n":1}`,
	}
}

func TestPGStore_LedgerContract(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	out, err := s.Insert(ctx, record("orders", "1"))
	require.NoError(t, err)
	assert.Equal(t, store.Inserted, out)

	dup := record("orders", "1")
	dup.Payload = `{"n":2}`
	out, err = s.Insert(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, store.AlreadyExists, out)

	_, err = s.Insert(ctx, record("orders", "2"))
	require.NoError(t, err)
	_, err = s.Insert(ctx, record("payments", "1"))
	require.NoError(t, err)

	exists, err := s.Exists(ctx, "orders", "1")
	require.NoError(t, err)
	assert.True(t, exists)

	orders, err := s.List(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "2", orders[0].EventID)
	assert.Equal(t, `{"n":1}`, orders[1].Payload)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	topics, err := s.CountDistinctTopics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), topics)
}

func TestPGStore_ConcurrentRace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.Insert(ctx, record("race", "same"))
			assert.NoError(t, err)
			if out == store.Inserted {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, inserted)
}

func TestPGStore_CountersAndDeadLetters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.IncrementReceived(ctx, 4))
	require.NoError(t, s.IncrementUnique(ctx))
	require.NoError(t, s.IncrementDuplicate(ctx))
	require.NoError(t, s.DeadLetter(ctx, record("t", "x"), "boom"))

	c, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Counters{Received: 4, UniqueProcessed: 1, DuplicateDropped: 1, DeadLettered: 1}, c)

	dls, err := s.ListDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal(t, "boom", dls[0].Reason)

	require.NoError(t, s.ClearAll(ctx))
	c, err = s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Counters{}, c)
}
