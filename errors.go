package optistore

import (
	"errors"
	"fmt"

	"github.com/optistore/optistore/cache"
	"github.com/optistore/optistore/quantization"
	"github.com/optistore/optistore/worker"
)

var (
	// ErrNotInitialized is returned when an operation is called before Open.
	ErrNotInitialized = errors.New("optimizer not initialized")

	// ErrClosed is returned when an operation is called after Close.
	ErrClosed = errors.New("optimizer closed")

	// ErrCapacityExceeded is returned when the task queue or the memory
	// budget is at its limit. Retrying with backoff is the usual recovery.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrNotFound is returned when a policy is absent from both the cache
	// and the backing store.
	ErrNotFound = errors.New("policy not found")
)

// TaskError wraps the failure of a background sub-step. The failure is
// isolated to its own task; it surfaces through StorageResult.Err, never as
// an error return of the optimize entry points.
//
// The underlying task error can be accessed via errors.Unwrap.
type TaskError struct {
	TaskID string
	Kind   string
	cause  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s (%s) failed: %v", e.TaskID, e.Kind, e.cause)
}

func (e *TaskError) Unwrap() error { return e.cause }

// AccuracyError re-exports the quantization quality-bound violation so
// callers can match it without importing the sub-package.
type AccuracyError = quantization.AccuracyError

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, worker.ErrQueueFull) {
		return fmt.Errorf("%w: %w", ErrCapacityExceeded, err)
	}
	if errors.Is(err, cache.ErrMemoryLimit) {
		return fmt.Errorf("%w: %w", ErrCapacityExceeded, err)
	}
	if errors.Is(err, worker.ErrPoolClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	return err
}
