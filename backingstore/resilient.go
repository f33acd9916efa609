package backingstore

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/optistore/optistore/resource"
)

// ResilientOptions configures retry and circuit-breaking behavior.
type ResilientOptions struct {
	// MaxRetries bounds the retry attempts per operation. Defaults to 3.
	MaxRetries uint64

	// InitialInterval seeds the exponential backoff. Defaults to 50ms.
	InitialInterval time.Duration

	// BreakerName labels the circuit breaker in its state-change callback.
	BreakerName string

	// Resources, if set, throttles operation bytes through the shared IO
	// limiter.
	Resources *resource.Controller
}

// Resilient wraps a Store with exponential-backoff retries and a circuit
// breaker. ErrNotFound is never retried; it is a normal outcome.
type Resilient struct {
	inner   Store
	opts    ResilientOptions
	breaker *gobreaker.CircuitBreaker
}

// NewResilient wraps inner.
func NewResilient(inner Store, optFns ...func(o *ResilientOptions)) *Resilient {
	opts := ResilientOptions{
		MaxRetries:      3,
		InitialInterval: 50 * time.Millisecond,
		BreakerName:     "backingstore",
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Resilient{
		inner: inner,
		opts:  opts,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: opts.BreakerName,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Get retrieves key with retries.
func (r *Resilient) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.do(ctx, func() error {
		var err error
		value, err = r.inner.Get(ctx, key)
		return err
	})
	return value, err
}

// Put stores key with retries, throttled by the shared IO limiter.
func (r *Resilient) Put(ctx context.Context, key string, value []byte) error {
	if err := r.opts.Resources.AcquireIO(ctx, len(value)); err != nil {
		return err
	}
	return r.do(ctx, func() error {
		return r.inner.Put(ctx, key, value)
	})
}

// Delete removes key with retries.
func (r *Resilient) Delete(ctx context.Context, key string) error {
	return r.do(ctx, func() error {
		return r.inner.Delete(ctx, key)
	})
}

// List lists keys with retries.
func (r *Resilient) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := r.do(ctx, func() error {
		var err error
		keys, err = r.inner.List(ctx, prefix)
		return err
	})
	return keys, err
}

func (r *Resilient) do(ctx context.Context, op func() error) error {
	wrapped := func() error {
		_, err := r.breaker.Execute(func() (any, error) {
			return nil, op()
		})
		if errors.Is(err, ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.opts.InitialInterval

	err := backoff.Retry(wrapped, backoff.WithContext(
		backoff.WithMaxRetries(bo, r.opts.MaxRetries), ctx))

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	return err
}
