// Package orchestrator implements the Task Orchestrator (TO): the
// component that mutates task status (apart from the two auto-repair
// transitions the executor's HandleError writes) and talks to the Work Queue (WQ),
// wiring together the Template Repository, Sandbox Runtime, Executor Core,
// and Repair Engine into one dispatch loop.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/deepauras/auroraflow/core"
)

// Delivery is one dispatch payload handed to a worker, per spec §4.8's
// Enqueue payload shape.
type Delivery struct {
	Handle     string                 `json:"handle"`
	TaskID     string                 `json:"task_id"`
	TenantID   string                 `json:"tenant_id"`
	TemplateID string                 `json:"template_id"`
	Parameters map[string]interface{} `json:"parameters"`
	UserID     string                 `json:"user_id"`
	Priority   int                    `json:"priority"`
	EnqueuedAt time.Time              `json:"enqueued_at"`
}

// WorkQueue is the WQ contract: direct generalization of the teacher's
// LPUSH/BRPOP FIFO (orchestration/redis_task_queue.go) adding best-effort
// cancellation. Every delivery is immediate; there is no delayed lane.
type WorkQueue interface {
	// Enqueue delivers d immediately, returning an opaque handle stored on
	// Task.Execution.CloudTaskName.
	Enqueue(ctx context.Context, d Delivery) (handle string, err error)

	// Dequeue blocks up to timeout for the next ready delivery. Returns
	// nil, nil on timeout with nothing available.
	Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error)

	// Cancel marks handle cancelled; a delivery already popped by Dequeue
	// is unaffected (cancellation there is neutralized by the Task
	// Orchestrator's conditional status transition instead).
	Cancel(ctx context.Context, handle string) error
}

// RedisWorkQueue implements WorkQueue using a single Redis list per queue
// (LPUSH/BRPOP), mirroring RedisTaskQueue, plus a cancelled-handles set
// Dequeue consults before handing a delivery back to the caller.
type RedisWorkQueue struct {
	client        *redis.Client
	queueKey      string
	cancelledKey  string
	retryAttempts int
	retryDelay    time.Duration
	logger        core.Logger
}

// RedisWorkQueueConfig configures a RedisWorkQueue.
type RedisWorkQueueConfig struct {
	QueueKey      string
	CancelledKey  string
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultRedisWorkQueueConfig mirrors RedisTaskQueueConfig's defaults.
func DefaultRedisWorkQueueConfig() RedisWorkQueueConfig {
	return RedisWorkQueueConfig{
		QueueKey:      "auroraflow:wq:deliveries",
		CancelledKey:  "auroraflow:wq:cancelled",
		RetryAttempts: 3,
		RetryDelay:    100 * time.Millisecond,
	}
}

// NewRedisWorkQueue constructs a RedisWorkQueue. A nil config uses
// DefaultRedisWorkQueueConfig.
func NewRedisWorkQueue(client *redis.Client, cfg *RedisWorkQueueConfig, logger core.Logger) *RedisWorkQueue {
	c := DefaultRedisWorkQueueConfig()
	if cfg != nil {
		c = *cfg
	}
	if c.QueueKey == "" {
		c.QueueKey = "auroraflow:wq:deliveries"
	}
	if c.CancelledKey == "" {
		c.CancelledKey = "auroraflow:wq:cancelled"
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 100 * time.Millisecond
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator/wq")
	}
	return &RedisWorkQueue{
		client:        client,
		queueKey:      c.QueueKey,
		cancelledKey:  c.CancelledKey,
		retryAttempts: c.RetryAttempts,
		retryDelay:    c.RetryDelay,
		logger:        logger,
	}
}

// Enqueue pushes d onto the delivery list, retrying transient Redis errors
// the same number of times RedisTaskQueue does.
func (q *RedisWorkQueue) Enqueue(ctx context.Context, d Delivery) (string, error) {
	if d.Handle == "" {
		d.Handle = uuid.New().String()
	}
	d.EnqueuedAt = time.Now().UTC()

	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("orchestrator: serialize delivery %s: %w", d.TaskID, err)
	}

	var lastErr error
	for attempt := 0; attempt < q.retryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(q.retryDelay)
		}
		if lastErr = q.client.LPush(ctx, q.queueKey, data).Err(); lastErr == nil {
			q.logger.Info("delivery enqueued", map[string]interface{}{"task_id": d.TaskID, "handle": d.Handle})
			return d.Handle, nil
		}
		q.logger.Warn("enqueue attempt failed", map[string]interface{}{"task_id": d.TaskID, "attempt": attempt + 1, "error": lastErr.Error()})
	}
	return "", fmt.Errorf("orchestrator: enqueue delivery %s after %d attempts: %w", d.TaskID, q.retryAttempts, lastErr)
}

// Dequeue blocks on BRPOP, skipping (and permanently dropping) any
// delivery whose handle was cancelled before it was popped.
func (q *RedisWorkQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("orchestrator: dequeue delivery: %w", err)
	}
	// result[0] is the key name, result[1] is the payload.
	var d Delivery
	if err := json.Unmarshal([]byte(result[1]), &d); err != nil {
		return nil, fmt.Errorf("orchestrator: decode delivery payload: %w", err)
	}

	cancelled, err := q.client.SIsMember(ctx, q.cancelledKey, d.Handle).Result()
	if err == nil && cancelled {
		q.client.SRem(ctx, q.cancelledKey, d.Handle)
		q.logger.Info("dropping cancelled delivery before dispatch", map[string]interface{}{"task_id": d.TaskID, "handle": d.Handle})
		return nil, nil
	}
	return &d, nil
}

// Cancel records handle as cancelled. If the delivery has already been
// popped, this is a no-op; the Task Orchestrator's conditional status
// transition is what actually neutralizes a duplicate dispatch.
func (q *RedisWorkQueue) Cancel(ctx context.Context, handle string) error {
	if err := q.client.SAdd(ctx, q.cancelledKey, handle).Err(); err != nil {
		return fmt.Errorf("orchestrator: cancel delivery %s: %w", handle, err)
	}
	q.client.Expire(ctx, q.cancelledKey, 24*time.Hour)
	return nil
}
