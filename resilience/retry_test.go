package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deepauras/auroraflow/core"
)

func TestRetryBasicSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetryConfig(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}

func TestRetryEventualSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), &RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2}, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), &RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2}, func() error {
		calls++
		return errors.New("always fails")
	})
	if !errors.Is(err, core.ErrMaxRetriesExceeded) {
		t.Fatalf("expected ErrMaxRetriesExceeded, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, &RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2}, func() error {
		calls++
		return errors.New("fails")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetryNilConfig(t *testing.T) {
	err := Retry(context.Background(), nil, func() error { return nil })
	if err != nil {
		t.Fatalf("expected nil config to fall back to DefaultRetryConfig, got %v", err)
	}
}

func TestRetryWithCircuitBreakerIntegration(t *testing.T) {
	cb := NewCircuitBreakerLegacy(2, time.Hour)
	cb.ForceOpen()

	err := RetryWithCircuitBreaker(context.Background(), &RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}, cb, func() error {
		return nil
	})
	if !errors.Is(err, core.ErrMaxRetriesExceeded) {
		t.Fatalf("expected retries to exhaust against an open breaker, got %v", err)
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxAttempts != 3 || cfg.BackoffFactor != 2.0 || !cfg.JitterEnabled {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
