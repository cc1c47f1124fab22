package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func setupQueueTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisWorkQueue_EnqueueDequeueRoundTrip(t *testing.T) {
	mr, client := setupQueueTestRedis(t)
	defer mr.Close()
	q := NewRedisWorkQueue(client, nil, nil)

	handle, err := q.Enqueue(context.Background(), Delivery{TaskID: "task-1", TenantID: "tenant-1", TemplateID: "tpl-1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if handle == "" {
		t.Fatalf("expected a generated handle")
	}

	d, err := q.Dequeue(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d == nil || d.TaskID != "task-1" || d.Handle != handle {
		t.Fatalf("unexpected delivery: %+v", d)
	}
}

func TestRedisWorkQueue_DequeueTimesOutWithNilDelivery(t *testing.T) {
	mr, client := setupQueueTestRedis(t)
	defer mr.Close()
	q := NewRedisWorkQueue(client, nil, nil)

	d, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d != nil {
		t.Fatalf("expected nil delivery on timeout, got %+v", d)
	}
}

func TestRedisWorkQueue_CancelDropsDeliveryBeforeDispatch(t *testing.T) {
	mr, client := setupQueueTestRedis(t)
	defer mr.Close()
	q := NewRedisWorkQueue(client, nil, nil)

	handle, err := q.Enqueue(context.Background(), Delivery{TaskID: "task-1", TenantID: "tenant-1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Cancel(context.Background(), handle); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	d, err := q.Dequeue(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d != nil {
		t.Fatalf("expected cancelled delivery to be dropped, got %+v", d)
	}
}

func TestRedisWorkQueue_PreservesFIFOOrder(t *testing.T) {
	mr, client := setupQueueTestRedis(t)
	defer mr.Close()
	q := NewRedisWorkQueue(client, nil, nil)

	for _, id := range []string{"task-1", "task-2", "task-3"} {
		if _, err := q.Enqueue(context.Background(), Delivery{TaskID: id, TenantID: "tenant-1"}); err != nil {
			t.Fatalf("Enqueue %s: %v", id, err)
		}
	}

	for _, want := range []string{"task-1", "task-2", "task-3"} {
		d, err := q.Dequeue(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if d == nil || d.TaskID != want {
			t.Fatalf("expected %s, got %+v", want, d)
		}
	}
}
