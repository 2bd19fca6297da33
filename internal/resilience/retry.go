// Package resilience provides the retry and circuit-breaker primitives that
// guard every call to the AI service.
package resilience

import (
	"context"
	"log/slog"
	"time"
)

// RetryOptions configures Retry.
type RetryOptions struct {
	MaxRetries int                          // additional attempts after the first (default 3)
	BaseDelay  time.Duration                // backoff base (default 1s)
	MaxDelay   time.Duration                // backoff cap (default 10s)
	OnRetry    func(attempt int, err error) // invoked before each retry wait
}

func (o *RetryOptions) withDefaults() RetryOptions {
	out := *o
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = time.Second
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = 10 * time.Second
	}
	return out
}

// Retry runs fn with exponential backoff: after a failed attempt n (0-based)
// it waits min(base * 2^n, maxDelay) before trying again. The last error is
// returned once retries are exhausted. Waits respect ctx cancellation.
func Retry[T any](ctx context.Context, fn func() (T, error), opts RetryOptions) (T, error) {
	o := opts.withDefaults()

	var zero T
	var lastErr error
	for attempt := 0; attempt <= o.MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == o.MaxRetries {
			break
		}

		delay := o.BaseDelay << attempt
		if delay > o.MaxDelay {
			delay = o.MaxDelay
		}
		slog.Warn("Retry attempt failed, backing off", "attempt", attempt+1, "max", o.MaxRetries+1, "delay", delay, "error", err)
		if o.OnRetry != nil {
			o.OnRetry(attempt+1, err)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}
