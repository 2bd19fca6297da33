package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/RisarcimentoMiteni/intakebot/internal/models"
)

func fail() (string, error)    { return "", errors.New("service down") }
func succeed() (string, error) { return "ok", nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(5, time.Minute)

	for i := 0; i < 5; i++ {
		if _, err := cb.Execute(fail); err == nil {
			t.Fatalf("expected failure on call %d", i)
		}
	}
	state, failures := cb.State()
	if state != BreakerOpen {
		t.Fatalf("expected OPEN after 5 failures, got %s", state)
	}
	if failures != 5 {
		t.Errorf("expected 5 failures, got %d", failures)
	}

	// While open the function must not be invoked.
	invoked := false
	_, err := cb.Execute(func() (string, error) {
		invoked = true
		return "ok", nil
	})
	if !errors.Is(err, models.ErrBreakerOpen) {
		t.Errorf("expected ErrBreakerOpen, got %v", err)
	}
	if invoked {
		t.Error("expected fast fail without invoking fn")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(5, time.Minute)
	for i := 0; i < 4; i++ {
		cb.Execute(fail)
	}
	if _, err := cb.Execute(succeed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state, failures := cb.State()
	if state != BreakerClosed || failures != 0 {
		t.Errorf("expected CLOSED with 0 failures, got %s with %d", state, failures)
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	current := time.Now()
	cb.now = func() time.Time { return current }

	cb.Execute(fail)
	cb.Execute(fail)
	if state, _ := cb.State(); state != BreakerOpen {
		t.Fatalf("expected OPEN, got %s", state)
	}

	// Before the timeout the breaker still fails fast.
	if _, err := cb.Execute(succeed); !errors.Is(err, models.ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen before timeout, got %v", err)
	}

	// After the timeout a probe goes through and closes the breaker.
	current = current.Add(61 * time.Second)
	result, err := cb.Execute(succeed)
	if err != nil {
		t.Fatalf("expected probe to pass, got %v", err)
	}
	if result != "ok" {
		t.Errorf("expected ok, got %q", result)
	}
	if state, _ := cb.State(); state != BreakerClosed {
		t.Errorf("expected CLOSED after successful probe, got %s", state)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(2, 30*time.Second)
	current := time.Now()
	cb.now = func() time.Time { return current }

	cb.Execute(fail)
	cb.Execute(fail)
	current = current.Add(31 * time.Second)

	if _, err := cb.Execute(fail); err == nil {
		t.Fatal("expected the probe to fail")
	}
	if state, _ := cb.State(); state != BreakerOpen {
		t.Errorf("expected OPEN after failed probe, got %s", state)
	}
}

func TestBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	cb.Execute(fail)
	if state, _ := cb.State(); state != BreakerOpen {
		t.Fatalf("expected OPEN, got %s", state)
	}
	cb.Reset()
	state, failures := cb.State()
	if state != BreakerClosed || failures != 0 {
		t.Errorf("expected CLOSED with 0 failures after reset, got %s with %d", state, failures)
	}
	if _, err := cb.Execute(succeed); err != nil {
		t.Errorf("expected call to pass after reset, got %v", err)
	}
}
