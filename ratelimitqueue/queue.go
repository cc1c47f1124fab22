// Package ratelimitqueue implements the Rate-Limited API Queue (RLQ): one
// instance serializes and rate-limits all outbound calls to one external
// provider, dispatching higher-priority waiters first (stable FIFO within
// a priority band), honoring a rolling per-second token bucket and a
// sliding-window long-period cap, and absorbing provider 429s with
// exponential backoff before the caller ever observes a RateLimited error.
package ratelimitqueue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/deepauras/auroraflow/core"
)

// ErrQueueClosed is returned to all pending and future waiters once Close
// has been called.
var ErrQueueClosed = errors.New("ratelimitqueue: queue closed")

// Request describes one outbound call.
type Request struct {
	Method          string
	Params          map[string]interface{}
	Priority        int // smaller dispatches first
	IdempotencyHint string
	MaxRetries      int // 0 means Config.MaxRetries
	SanitizePII     bool
}

type waiter struct {
	req      Request
	seq      int64
	resultCh chan waiterResult
	ctx      context.Context
}

type waiterResult struct {
	response interface{}
	err      error
}

// waiterHeap orders by (Priority asc, seq asc) giving stable FIFO within a
// priority band, per spec §4.1.
type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }
func (h waiterHeap) Less(i, j int) bool {
	if h[i].req.Priority != h[j].req.Priority {
		return h[i].req.Priority < h[j].req.Priority
	}
	return h[i].seq < h[j].seq
}
func (h waiterHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *waiterHeap) Push(x interface{}) { *h = append(*h, x.(*waiter)) }
func (h *waiterHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is one provider's RLQ instance.
type Queue struct {
	name    string
	adapter ProviderAdapter
	creds   CredentialProvider
	cfg     *Config
	logger  core.Logger

	mu      sync.Mutex
	waiters waiterHeap
	nextSeq int64
	closed  bool

	// token bucket for the per-second limit
	tokens       float64
	lastRefill   time.Time

	// sliding window for the long-window limit
	windowEvents []time.Time

	wake   chan struct{}
	doneCh chan struct{}
}

// New constructs a Queue bound to one provider adapter and starts its
// dispatcher goroutine.
func New(adapter ProviderAdapter, creds CredentialProvider, cfg *Config, logger core.Logger) *Queue {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("ratelimitqueue")
	}

	q := &Queue{
		name:       adapter.Name(),
		adapter:    adapter,
		creds:      creds,
		cfg:        cfg,
		logger:     logger,
		tokens:     float64(cfg.PerSecondLimit),
		lastRefill: time.Now(),
		wake:       make(chan struct{}, 1),
		doneCh:     make(chan struct{}),
	}
	go q.dispatchLoop()
	return q
}

// Enqueue submits request and blocks the calling goroutine — the
// suspension point template authors must assume may pass real time —
// until the provider responds, the request exhausts its retries, or ctx
// is cancelled.
func (q *Queue) Enqueue(ctx context.Context, req Request) (interface{}, error) {
	if req.MaxRetries == 0 {
		req.MaxRetries = q.cfg.MaxRetries
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	w := &waiter{req: req, seq: q.nextSeq, resultCh: make(chan waiterResult, 1), ctx: ctx}
	q.nextSeq++
	heap.Push(&q.waiters, w)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case res := <-w.resultCh:
		return res.response, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.doneCh:
		return nil, ErrQueueClosed
	}
}

// Close shuts the queue down; all pending waiters fail with ErrQueueClosed
// (spec §4.1 failure model: "queue shutdown → all pending waiters fail
// with a cancellation error").
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.waiters
	q.waiters = nil
	q.mu.Unlock()

	close(q.doneCh)
	for _, w := range pending {
		select {
		case w.resultCh <- waiterResult{err: ErrQueueClosed}:
		default:
		}
	}
}

func (q *Queue) dispatchLoop() {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-q.doneCh:
			return
		case <-q.wake:
		case <-ticker.C:
		}
		q.drainReady()
	}
}

// drainReady dispatches as many head-of-line waiters as the token bucket
// and sliding window currently allow.
func (q *Queue) drainReady() {
	for {
		q.mu.Lock()
		if q.closed || len(q.waiters) == 0 {
			q.mu.Unlock()
			return
		}
		q.refillTokens()
		q.pruneWindow()

		if q.tokens < 1 || len(q.windowEvents) >= q.cfg.WindowLimit {
			q.mu.Unlock()
			return
		}

		w := heap.Pop(&q.waiters).(*waiter)
		q.tokens -= 1
		now := time.Now()
		q.windowEvents = append(q.windowEvents, now)
		q.mu.Unlock()

		if w.ctx.Err() != nil {
			w.resultCh <- waiterResult{err: w.ctx.Err()}
			continue
		}

		go q.dispatch(w)
	}
}

func (q *Queue) refillTokens() {
	now := time.Now()
	elapsed := now.Sub(q.lastRefill).Seconds()
	q.tokens += elapsed * float64(q.cfg.PerSecondLimit)
	if q.tokens > float64(q.cfg.PerSecondLimit) {
		q.tokens = float64(q.cfg.PerSecondLimit)
	}
	q.lastRefill = now
}

func (q *Queue) pruneWindow() {
	cutoff := time.Now().Add(-q.cfg.WindowDuration)
	i := 0
	for i < len(q.windowEvents) && q.windowEvents[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		q.windowEvents = q.windowEvents[i:]
	}
}

// dispatch performs the call with 429 backoff, per spec §4.1: "On HTTP 429
// ... suspended with exponential backoff (base 1s, cap 30s) and retried up
// to maxRetries times ... within the same enqueue. Network/5xx errors
// propagate after maxRetries; 4xx (except 429) propagate immediately."
func (q *Queue) dispatch(w *waiter) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.BackoffBase
	b.MaxInterval = q.cfg.BackoffCap
	b.Multiplier = 2.0

	var lastErr error
	attempts := w.req.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			d, err := b.NextBackOff()
			if err != nil {
				break
			}
			timer := time.NewTimer(d)
			select {
			case <-timer.C:
			case <-w.ctx.Done():
				timer.Stop()
				w.resultCh <- waiterResult{err: w.ctx.Err()}
				return
			case <-q.doneCh:
				timer.Stop()
				w.resultCh <- waiterResult{err: ErrQueueClosed}
				return
			}
		}

		resp, err := q.adapter.Call(w.req.Method, w.req.Params)
		if err == nil {
			if w.req.SanitizePII {
				resp = redactPII(resp)
			}
			w.resultCh <- waiterResult{response: resp}
			return
		}

		var perr *ProviderError
		if errors.As(err, &perr) {
			if perr.IsRateLimited() {
				lastErr = err
				continue // only 429 consumes a backoff+retry cycle here
			}
			// Any other 4xx propagates immediately (spec §4.1).
			if perr.StatusCode >= 400 && perr.StatusCode < 500 {
				w.resultCh <- waiterResult{err: err}
				return
			}
			// Network/5xx: retry up to MaxRetries, then propagate.
			lastErr = err
			continue
		}

		lastErr = err
	}

	w.resultCh <- waiterResult{err: lastErr}
}

// redactPII is an opaque, best-effort PII-shaped-field scrubber. The core
// only guarantees the toggle is honored when set (spec §4.1); it does not
// promise a specific redaction policy.
func redactPII(resp interface{}) interface{} {
	m, ok := resp.(map[string]interface{})
	if !ok {
		return resp
	}
	redacted := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch k {
		case "email", "phone", "phoneNumber", "ssn", "address":
			redacted[k] = "[REDACTED]"
		default:
			redacted[k] = v
		}
	}
	return redacted
}
