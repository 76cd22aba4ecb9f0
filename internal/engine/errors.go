package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/logagg/internal/event"
)

// ErrQueueFull is returned by Enqueue when the queue is at capacity.
// The gateway maps it to backpressure (HTTP 503).
var ErrQueueFull = errors.New("event queue is full")

// ErrQueueClosed is returned after the queue has been closed.
var ErrQueueClosed = errors.New("event queue is closed")

// ProcessingError is a storage failure the consumer could not recover from
// within its retry budget.
type ProcessingError struct {
	// Code identifies the error category.
	Code ProcessingErrorCode

	// Op is the storage step that failed (e.g. "decide", "increment unique").
	Op string

	// Key identifies the affected event.
	Key event.Key

	// Attempts is how many times Op was tried.
	Attempts int

	// Err is the last underlying error.
	Err error
}

// ProcessingErrorCode categorizes processing errors.
type ProcessingErrorCode string

const (
	// ErrCodeStorage indicates the ledger or counter store kept failing.
	ErrCodeStorage ProcessingErrorCode = "STORAGE_FAILED"

	// ErrCodeEncode indicates the payload could not be canonicalised.
	ErrCodeEncode ProcessingErrorCode = "ENCODE_FAILED"
)

// Error implements the error interface.
func (e *ProcessingError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%s: %s %s failed after %d attempt(s): %v", e.Code, e.Op, e.Key, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: %s %s: %v", e.Code, e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is a ProcessingError caused by storage.
// Uses errors.As to handle wrapped errors.
func IsStorageError(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeStorage
	}
	return false
}

// IsBackpressure reports whether err means the queue rejected the events.
func IsBackpressure(err error) bool {
	return errors.Is(err, ErrQueueFull)
}
