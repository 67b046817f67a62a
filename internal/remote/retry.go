package remote

import (
	"context"
	"log"
	"time"
)

// Policy configures WithRetry.
type Policy struct {
	// Retries is the number of additional attempts after the first.
	Retries int
	// MinDelay is the delay before the first retry.
	MinDelay time.Duration
	// MaxDelay caps the growing delay.
	MaxDelay time.Duration
	// Factor is the geometric growth factor between retries.
	Factor float64
}

// DefaultPolicy matches the remote API's published rate-limit guidance:
// five retries, 500ms initial delay, doubling, capped at 8s.
func DefaultPolicy() Policy {
	return Policy{Retries: 5, MinDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second, Factor: 2}
}

// WithRetry runs fn, retrying on retryable errors (see IsRetryable) with
// geometric backoff. No jitter is applied; at the call volumes of a
// single-process CLI the thundering-herd risk is negligible.
//
// On budget exhaustion, on any non-retryable error, or on ctx cancellation
// during a backoff wait, the original error from fn propagates unchanged.
//
// name labels log lines only; if logger is nil retries are silent.
func WithRetry[T any](ctx context.Context, logger *log.Logger, name string, pol Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	delay := pol.MinDelay
	var zero T

	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) || attempt == pol.Retries {
			return zero, err
		}

		if logger != nil {
			logger.Printf("retrying %s after error (attempt %d/%d, waiting %v): %v",
				name, attempt+1, pol.Retries, delay, err)
		}

		select {
		case <-ctx.Done():
			return zero, err
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * pol.Factor)
		if delay > pol.MaxDelay {
			delay = pol.MaxDelay
		}
	}
}
