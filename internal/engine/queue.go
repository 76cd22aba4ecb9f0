package engine

import (
	"context"
	"sync"

	"github.com/roach88/logagg/internal/event"
)

// DefaultQueueCapacity is the default maximum number of buffered events.
const DefaultQueueCapacity = 10000

// Queue is a bounded, thread-safe FIFO buffer between the gateway and the
// consumer.
//
// Enqueue never blocks: a full queue rejects with ErrQueueFull so producers
// see backpressure immediately. Dequeue suspends until an item arrives, the
// context is done, or the queue is closed and empty.
//
// Every dequeued item must be acknowledged with Done; Join waits until every
// enqueued item has been acknowledged (quiescence).
//
// The queue uses a channel for signaling to enable context-aware waiting in
// the consumer loop. It is designed for a single dequeuing goroutine.
type Queue struct {
	mu         sync.Mutex
	events     []event.Event
	capacity   int
	closed     bool
	signal     chan struct{} // Signals event availability (buffered, size 1)
	unfinished int
	idle       chan struct{} // Closed whenever unfinished == 0
}

// NewQueue creates an empty queue. Capacity < 1 is coerced to 1.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		events:   make([]event.Event, 0, min(capacity, 1024)),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
		idle:     idle,
	}
}

// Enqueue appends ev without blocking.
// Returns ErrQueueFull at capacity and ErrQueueClosed after Close.
func (q *Queue) Enqueue(ev event.Event) error {
	return q.EnqueueBatch([]event.Event{ev})
}

// EnqueueBatch appends every event in order, or none of them.
// Returns ErrQueueFull if the whole batch does not fit.
func (q *Queue) EnqueueBatch(evs []event.Event) error {
	if len(evs) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if len(q.events)+len(evs) > q.capacity {
		return ErrQueueFull
	}

	q.events = append(q.events, evs...)
	if q.unfinished == 0 {
		q.idle = make(chan struct{})
	}
	q.unfinished += len(evs)

	// Non-blocking - buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return nil
}

// TryDequeue removes the front event without blocking.
// Returns (event.Event{}, false) if the queue is empty.
func (q *Queue) TryDequeue() (event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event.Event{}, false
	}

	ev := q.events[0]

	// Nil out the slot so the payload map can be collected.
	q.events[0] = event.Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return ev, true
}

// Dequeue removes the front event, waiting until one is available.
// Returns ctx.Err() if ctx is done first, or ErrQueueClosed once the queue is
// closed and drained.
func (q *Queue) Dequeue(ctx context.Context) (event.Event, error) {
	for {
		if ev, ok := q.TryDequeue(); ok {
			return ev, nil
		}
		if q.closedAndEmpty() {
			return event.Event{}, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return event.Event{}, ctx.Err()
		case <-q.Wait():
		}
	}
}

// Wait returns a channel that signals when events may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *Queue) Wait() <-chan struct{} {
	return q.signal
}

// Done marks one dequeued event as fully handled.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.unfinished == 0 {
		return
	}
	q.unfinished--
	if q.unfinished == 0 {
		close(q.idle)
	}
}

// Join blocks until every enqueued event has been marked Done, or ctx is done.
func (q *Queue) Join(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return q.capacity
}

// Close stops accepting events and wakes any waiter.
// Buffered events can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

func (q *Queue) closedAndEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.events) == 0
}
