package testutil

import (
	"sync"
	"time"
)

// DefaultEpoch is the first instant returned by a NewDeterministicClock.
var DefaultEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a wall clock that advances by a fixed step on every
// read. Injected into the store it makes processed_at strictly increasing and
// reproducible, so List ordering and golden snapshots are stable.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	base  time.Time
	step  time.Duration
	ticks int64
}

// NewDeterministicClock creates a clock starting at DefaultEpoch with a 1ms step.
//
// The first call to Now() returns DefaultEpoch.
func NewDeterministicClock() *DeterministicClock {
	return NewDeterministicClockAt(DefaultEpoch, time.Millisecond)
}

// NewDeterministicClockAt creates a clock starting at base. A non-positive step
// is coerced to 1ns so the clock never stands still.
func NewDeterministicClockAt(base time.Time, step time.Duration) *DeterministicClock {
	if step <= 0 {
		step = time.Nanosecond
	}
	return &DeterministicClock{base: base, step: step}
}

// Now returns the current instant and advances the clock by one step.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.base.Add(time.Duration(c.ticks) * c.step)
	c.ticks++
	return t
}

// Ticks returns how many times Now has been called.
func (c *DeterministicClock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Reset rewinds the clock so the next Now() returns base again.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}
