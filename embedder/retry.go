package embedder

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/baldanca/embedgen/encoder"
	"github.com/baldanca/embedgen/location"
	"github.com/baldanca/embedgen/source"
)

// RetryPolicy wraps an operation with retries.
type RetryPolicy interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

type nopRetry struct{}

func (nopRetry) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// IsTransient reports whether err may succeed on a later attempt. Missing
// inputs, bad locations, bad encoder options and cancellation are permanent.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, source.ErrNotFound), errors.Is(err, source.ErrNotRegular):
		return false
	case errors.Is(err, location.ErrInvalid), errors.Is(err, encoder.ErrInvalidOption):
		return false
	}
	return true
}

// SimpleRetry retries an operation using exponential backoff.
type SimpleRetry struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    bool

	// Retryable decides whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
}

// DefaultRetryPolicy is used by the queue worker for remote reads and writes.
var DefaultRetryPolicy = SimpleRetry{
	Attempts:  4,
	BaseDelay: 200 * time.Millisecond,
	MaxDelay:  5 * time.Second,
	Jitter:    true,
	Retryable: IsTransient,
}

func (r SimpleRetry) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	base := r.BaseDelay
	max := r.MaxDelay
	if base > 0 || max > 0 {
		if base <= 0 {
			base = 50 * time.Millisecond
		}
		if max <= 0 {
			max = 2 * time.Second
		}
		if max < base {
			max = base
		}
	}

	var last error
	delay := base

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		if r.Retryable != nil && !r.Retryable(last) {
			return last
		}
		if i == attempts-1 || delay <= 0 {
			continue
		}

		d := delay
		if r.Jitter {
			d = time.Duration(float64(d) * (0.8 + rand.Float64()*0.4))
		}
		if d > max {
			d = max
		}

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > max {
			delay = max
		}
	}

	return last
}
