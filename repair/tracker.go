package repair

import (
	"sync"
	"time"

	"github.com/deepauras/auroraflow/resilience"
)

// Limits tunes the Repair Tracker's three caps, per spec §4.7.
type Limits struct {
	MaxRepairsPerTask         int
	MaxTokensPerTemplatePerDay int
	Cooldown                  time.Duration
}

// DefaultLimits returns the spec's stated defaults: 3 repairs/task,
// 1,000,000 tokens/template/day, ~6 minute cooldown.
func DefaultLimits() Limits {
	return Limits{
		MaxRepairsPerTask:         3,
		MaxTokensPerTemplatePerDay: 1_000_000,
		Cooldown:                  6 * time.Minute,
	}
}

// CanRepairResult is the outcome of Tracker.CanRepair.
type CanRepairResult struct {
	Allowed bool
	Reason  string
}

// Stats reports one template's current usage, per Tracker.GetStats.
type Stats struct {
	TemplateID      string
	TokensUsedToday int
	DayStartedAt    time.Time
}

type taskRecord struct {
	attempts     int
	lastRepairAt time.Time
	createdAt    time.Time
}

type templateRecord struct {
	dayStart        time.Time
	tokensUsedToday int
}

// Tracker is the Repair Tracker (RT): a fixed-policy rate limiter over the
// three spec-§4.7 caps, plus a genuine per-template circuit breaker. The
// rate-limiter caps bound a single task's or template's repair spend; the
// circuit breaker bounds the template itself, tripping when repairs on it
// keep failing validation across many different tasks, not just one. It
// wraps resilience.CircuitBreaker (same sliding-window bucket state
// resilience/circuit_breaker.go uses for infrastructure calls) rather than
// reimplementing the open/half-open/closed state machine a second time.
type Tracker struct {
	limits Limits

	mu        sync.Mutex
	tasks     map[string]*taskRecord
	templates map[string]*templateRecord
	breakers  map[string]*resilience.CircuitBreaker
}

// NewTracker constructs a Tracker. A nil limits pointer uses DefaultLimits.
func NewTracker(limits *Limits) *Tracker {
	l := DefaultLimits()
	if limits != nil {
		l = *limits
	}
	return &Tracker{
		limits:    l,
		tasks:     map[string]*taskRecord{},
		templates: map[string]*templateRecord{},
		breakers:  map[string]*resilience.CircuitBreaker{},
	}
}

// breakerFor returns templateID's circuit breaker, creating it with a
// sleep window pinned to the tracker's cooldown on first use. Caller must
// hold t.mu.
func (t *Tracker) breakerFor(templateID string) *resilience.CircuitBreaker {
	if cb, ok := t.breakers[templateID]; ok {
		return cb
	}
	cfg := resilience.DefaultConfig()
	cfg.Name = "repair-tracker:" + templateID
	cfg.SleepWindow = t.limits.Cooldown
	cfg.VolumeThreshold = 4
	cfg.ErrorThreshold = 0.75
	cfg.HalfOpenRequests = 1
	cfg.SuccessThreshold = 1.0
	cb := resilience.NewCircuitBreakerWithConfig(cfg)
	t.breakers[templateID] = cb
	return cb
}

// CanRepair checks all three rate-limiter caps in order (per-task attempt
// cap, cooldown since the task's last repair, per-template daily token
// cap), then the template's circuit breaker.
func (t *Tracker) CanRepair(taskID, templateID string) CanRepairResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()

	task := t.tasks[taskID] // zero value (attempts=0, zero lastRepairAt) when absent
	if task != nil {
		if task.attempts >= t.limits.MaxRepairsPerTask {
			return CanRepairResult{Allowed: false, Reason: "max repairs per task reached"}
		}
		if !task.lastRepairAt.IsZero() && now.Sub(task.lastRepairAt) < t.limits.Cooldown {
			return CanRepairResult{Allowed: false, Reason: "cooldown active"}
		}
	} else if t.limits.MaxRepairsPerTask <= 0 {
		return CanRepairResult{Allowed: false, Reason: "max repairs per task reached"}
	}

	if tpl := t.templateRecordLocked(templateID, now); tpl.tokensUsedToday >= t.limits.MaxTokensPerTemplatePerDay {
		return CanRepairResult{Allowed: false, Reason: "per-template daily token budget exceeded"}
	}

	if !t.breakerFor(templateID).CanExecute() {
		return CanRepairResult{Allowed: false, Reason: "template repair circuit breaker open"}
	}

	return CanRepairResult{Allowed: true}
}

// RecordRepair registers a completed repair attempt: the task's attempt
// count, the template's daily token spend, and the template circuit
// breaker's success/failure tally.
func (t *Tracker) RecordRepair(taskID, templateID string, tokenCost int, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()

	task, ok := t.tasks[taskID]
	if !ok {
		task = &taskRecord{createdAt: now}
		t.tasks[taskID] = task
	}
	task.attempts++
	task.lastRepairAt = now

	tpl := t.templateRecordLocked(templateID, now)
	tpl.tokensUsedToday += tokenCost

	breaker := t.breakerFor(templateID)
	if success {
		breaker.RecordSuccess()
	} else {
		breaker.RecordFailure()
	}
}

// BreakerState reports templateID's circuit breaker state ("closed",
// "open", or "half-open"), for status/diagnostics surfaces.
func (t *Tracker) BreakerState(templateID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.breakerFor(templateID).GetState()
}

// GetStats returns the current daily token usage for templateID.
func (t *Tracker) GetStats(templateID string) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	tpl := t.templateRecordLocked(templateID, time.Now())
	return Stats{TemplateID: templateID, TokensUsedToday: tpl.tokensUsedToday, DayStartedAt: tpl.dayStart}
}

// templateRecordLocked returns templateID's record, resetting its daily
// counter if the calendar day has rolled over. Caller must hold t.mu.
func (t *Tracker) templateRecordLocked(templateID string, now time.Time) *templateRecord {
	tpl, ok := t.templates[templateID]
	if !ok {
		tpl = &templateRecord{dayStart: startOfDay(now)}
		t.templates[templateID] = tpl
		return tpl
	}
	if now.Sub(tpl.dayStart) >= 24*time.Hour {
		tpl.dayStart = startOfDay(now)
		tpl.tokensUsedToday = 0
	}
	return tpl
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Cleanup drops task entries whose createdAt is older than 24h, so a
// long-running process doesn't leak memory across tasks that never repair
// again. Intended to be called periodically from a background goroutine
// (see StartCleanup).
func (t *Tracker) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-24 * time.Hour)
	for id, rec := range t.tasks {
		if rec.createdAt.Before(cutoff) {
			delete(t.tasks, id)
		}
	}
}

// StartCleanup runs Cleanup on interval until stop is closed.
func (t *Tracker) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Cleanup()
			case <-stop:
				return
			}
		}
	}()
}
