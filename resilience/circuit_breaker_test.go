package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deepauras/auroraflow/core"
)

func TestCircuitBreakerStateTransitions(t *testing.T) {
	config := &CircuitBreakerConfig{
		Name:             "test",
		ErrorThreshold:   0.5,
		VolumeThreshold:  5,
		SleepWindow:      100 * time.Millisecond,
		HalfOpenRequests: 2,
		SuccessThreshold: 0.5,
		WindowSize:       1 * time.Second,
		BucketCount:      10,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &core.NoOpLogger{},
		Metrics:          &noopMetrics{},
	}

	cb := NewCircuitBreakerWithConfig(config)

	if cb.GetState() != "closed" {
		t.Errorf("expected initial state to be closed, got %s", cb.GetState())
	}

	for i := 0; i < 6; i++ {
		if err := cb.Execute(context.Background(), func() error {
			return errors.New("test error")
		}); err == nil {
			t.Error("expected error from Execute")
		}
	}

	if cb.GetState() != "open" {
		t.Errorf("expected state to be open after failures, got %s", cb.GetState())
	}

	if err := cb.Execute(context.Background(), func() error { return nil }); !errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Errorf("expected ErrCircuitBreakerOpen, got %v", err)
	}

	time.Sleep(250 * time.Millisecond)

	for i := 0; i < config.HalfOpenRequests; i++ {
		if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
			t.Errorf("expected success in half-open state, got %v", err)
		}
	}

	if cb.GetState() != "closed" {
		t.Errorf("expected state to be closed after recovery, got %s", cb.GetState())
	}
}

func TestCircuitBreakerErrorClassification(t *testing.T) {
	config := &CircuitBreakerConfig{
		Name:             "test",
		ErrorThreshold:   0.5,
		VolumeThreshold:  3,
		SleepWindow:      100 * time.Millisecond,
		HalfOpenRequests: 3,
		SuccessThreshold: 0.6,
		WindowSize:       1 * time.Second,
		BucketCount:      10,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &core.NoOpLogger{},
		Metrics:          &noopMetrics{},
	}

	cb := NewCircuitBreakerWithConfig(config)

	for i := 0; i < 5; i++ {
		if err := cb.Execute(context.Background(), func() error { return core.ErrAgentNotFound }); err == nil {
			t.Error("expected error from Execute")
		}
	}
	if cb.GetState() != "closed" {
		t.Errorf("expected state to remain closed with user errors, got %s", cb.GetState())
	}

	for i := 0; i < 4; i++ {
		if err := cb.Execute(context.Background(), func() error { return core.ErrConnectionFailed }); err == nil {
			t.Error("expected error from Execute")
		}
	}
	if cb.GetState() != "open" {
		t.Errorf("expected state to be open with infrastructure errors, got %s", cb.GetState())
	}
}

func TestCircuitBreakerSlidingWindow(t *testing.T) {
	window := NewSlidingWindow(1*time.Second, 10, true)

	for i := 0; i < 3; i++ {
		window.RecordSuccess()
	}
	for i := 0; i < 2; i++ {
		window.RecordFailure()
	}

	success, failure := window.GetCounts()
	if success != 3 || failure != 2 {
		t.Errorf("expected 3 successes / 2 failures, got %d/%d", success, failure)
	}
	if rate := window.GetErrorRate(); rate != 2.0/5.0 {
		t.Errorf("expected error rate 0.4, got %f", rate)
	}
	if total := window.GetTotal(); total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
}

func TestCircuitBreakerHalfOpenState(t *testing.T) {
	config := &CircuitBreakerConfig{
		Name:             "test",
		ErrorThreshold:   0.5,
		VolumeThreshold:  2,
		SleepWindow:      100 * time.Millisecond,
		HalfOpenRequests: 3,
		SuccessThreshold: 0.6,
		WindowSize:       1 * time.Second,
		BucketCount:      10,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &core.NoOpLogger{},
		Metrics:          &noopMetrics{},
	}

	cb := NewCircuitBreakerWithConfig(config)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error { return errors.New("test error") })
	}
	if cb.GetState() != "open" {
		t.Fatal("circuit should be open")
	}

	time.Sleep(250 * time.Millisecond)

	for i := 0; i < config.HalfOpenRequests; i++ {
		if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
			t.Errorf("expected success, got %v", err)
		}
	}

	if cb.GetState() != "closed" {
		t.Errorf("expected closed state after successful recovery, got %s", cb.GetState())
	}
}

func TestCircuitBreakerManualControl(t *testing.T) {
	cb := NewCircuitBreakerLegacy(5, 100*time.Millisecond)

	cb.ForceOpen()
	if cb.GetState() != "open" {
		t.Errorf("expected open state after ForceOpen, got %s", cb.GetState())
	}
	if err := cb.Execute(context.Background(), func() error { return nil }); !errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Errorf("expected ErrCircuitBreakerOpen when forced open, got %v", err)
	}

	cb.ForceClosed()
	if cb.GetState() != "closed" {
		t.Errorf("expected closed state after ForceClosed, got %s", cb.GetState())
	}
	for i := 0; i < 10; i++ {
		if err := cb.Execute(context.Background(), func() error { return errors.New("test error") }); err == nil || errors.Is(err, core.ErrCircuitBreakerOpen) {
			t.Error("expected to execute with forced closed")
		}
	}
	if cb.GetState() != "closed" {
		t.Errorf("expected to remain closed when forced, got %s", cb.GetState())
	}

	cb.ClearForce()
	cb.RecordFailure()
}

func TestCircuitBreakerConcurrentAccess(t *testing.T) {
	config := &CircuitBreakerConfig{
		Name:             "test",
		ErrorThreshold:   0.5,
		VolumeThreshold:  10,
		SleepWindow:      100 * time.Millisecond,
		HalfOpenRequests: 5,
		SuccessThreshold: 0.6,
		WindowSize:       1 * time.Second,
		BucketCount:      10,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &core.NoOpLogger{},
		Metrics:          &noopMetrics{},
	}

	cb := NewCircuitBreakerWithConfig(config)

	var wg sync.WaitGroup
	var successCount, failureCount int32

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := cb.Execute(context.Background(), func() error {
					if (id+j)%2 == 0 {
						return nil
					}
					return errors.New("test error")
				})
				if err == nil {
					atomic.AddInt32(&successCount, 1)
				} else if !errors.Is(err, core.ErrCircuitBreakerOpen) {
					atomic.AddInt32(&failureCount, 1)
				}
			}
		}(i)
	}
	wg.Wait()

	if successCount+failureCount == 0 {
		t.Error("no operations completed")
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreakerLegacy(3, 100*time.Millisecond)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error { return errors.New("test error") })
	}
	if cb.GetState() != "open" {
		t.Fatal("circuit should be open before reset")
	}

	cb.Reset()
	if cb.GetState() != "closed" {
		t.Errorf("expected closed state after reset, got %s", cb.GetState())
	}
}

func TestErrorClassifierCustom(t *testing.T) {
	classifier := func(err error) bool {
		return errors.Is(err, core.ErrConnectionFailed)
	}

	config := DefaultConfig()
	config.Name = "custom-classifier"
	config.ErrorClassifier = classifier
	config.VolumeThreshold = 2
	config.ErrorThreshold = 0.5

	cb := NewCircuitBreakerWithConfig(config)

	_ = cb.Execute(context.Background(), func() error { return core.ErrAgentNotFound })
	_ = cb.Execute(context.Background(), func() error { return core.ErrAgentNotFound })
	if cb.GetState() != "closed" {
		t.Errorf("expected classifier to ignore ErrAgentNotFound, got %s", cb.GetState())
	}

	_ = cb.Execute(context.Background(), func() error { return core.ErrConnectionFailed })
	_ = cb.Execute(context.Background(), func() error { return core.ErrConnectionFailed })
	if cb.GetState() != "open" {
		t.Errorf("expected classifier to count ErrConnectionFailed, got %s", cb.GetState())
	}
}
