package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/RisarcimentoMiteni/intakebot/internal/models"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	// BreakerClosed lets calls through and counts consecutive failures.
	BreakerClosed BreakerState = "CLOSED"
	// BreakerOpen fails fast until the open timeout elapses.
	BreakerOpen BreakerState = "OPEN"
	// BreakerHalfOpen lets a single probe call through.
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// Default breaker configuration.
const (
	DefaultBreakerThreshold = 5
	DefaultBreakerTimeout   = 60 * time.Second
)

// CircuitBreaker protects the AI service from sustained load while it is
// failing. It is shared process-wide across all sessions: one persistent
// failure streak degrades every session at once, as global backpressure.
//
// The breaker sits outside the retry loop, so its failure count reflects
// exhausted retry sequences, not individual attempts.
type CircuitBreaker struct {
	mu          sync.Mutex
	threshold   int
	timeout     time.Duration
	failures    int
	lastFailure time.Time
	state       BreakerState
	now         func() time.Time
}

// NewCircuitBreaker creates a breaker that opens after threshold consecutive
// failures and allows a half-open probe once timeout has elapsed.
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if timeout <= 0 {
		timeout = DefaultBreakerTimeout
	}
	return &CircuitBreaker{
		threshold: threshold,
		timeout:   timeout,
		state:     BreakerClosed,
		now:       time.Now,
	}
}

// Execute runs fn under the breaker's gate. While OPEN it fails fast with
// models.ErrBreakerOpen without invoking fn.
func (cb *CircuitBreaker) Execute(fn func() (string, error)) (string, error) {
	if err := cb.allow(); err != nil {
		return "", err
	}

	result, err := fn()
	cb.record(err)
	if err != nil {
		return "", err
	}
	return result, nil
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen {
		if cb.now().Sub(cb.lastFailure) > cb.timeout {
			cb.state = BreakerHalfOpen
			slog.Info("Circuit breaker half-open, probing AI service")
		} else {
			return models.ErrBreakerOpen
		}
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state == BreakerHalfOpen {
			slog.Info("Circuit breaker closed after successful probe")
		}
		cb.state = BreakerClosed
		cb.failures = 0
		return
	}

	cb.failures++
	cb.lastFailure = cb.now()
	if cb.state == BreakerHalfOpen || cb.failures >= cb.threshold {
		cb.state = BreakerOpen
		slog.Error("Circuit breaker open", "failures", cb.failures)
	}
}

// State returns the current breaker state and consecutive failure count.
func (cb *CircuitBreaker) State() (BreakerState, int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state, cb.failures
}

// Reset forces the breaker back to CLOSED with zero failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failures = 0
	cb.lastFailure = time.Time{}
}
