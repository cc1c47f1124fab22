package orchestrator

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/deepauras/auroraflow/core"
	"github.com/deepauras/auroraflow/docstore"
)

func setupTaskStoreTestRedis(t *testing.T) (*miniredis.Miniredis, *docstore.RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, docstore.NewRedisStore(client, nil, nil)
}

func TestDocstoreTaskStore_CreateAndGet(t *testing.T) {
	mr, docs := setupTaskStoreTestRedis(t)
	defer mr.Close()
	store := NewDocstoreTaskStore(docs, nil)

	task := core.NewTask("task-1", "tenant-1", "tpl-1", "user-1", map[string]interface{}{"a": 1.0})
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(context.Background(), "tenant-1", "task-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TemplateID != "tpl-1" || got.Status != core.TaskStatusPending {
		t.Fatalf("unexpected task: %+v", got)
	}
}

func TestDocstoreTaskStore_GetMissingReturnsErrTaskNotFound(t *testing.T) {
	mr, docs := setupTaskStoreTestRedis(t)
	defer mr.Close()
	store := NewDocstoreTaskStore(docs, nil)

	_, err := store.Get(context.Background(), "tenant-1", "missing")
	if err != core.ErrTaskNotFound {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestDocstoreTaskStore_UpdateConditionalAppliesMutationAndEnforcesDAG(t *testing.T) {
	mr, docs := setupTaskStoreTestRedis(t)
	defer mr.Close()
	store := NewDocstoreTaskStore(docs, nil)

	task := core.NewTask("task-1", "tenant-1", "tpl-1", "user-1", nil)
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := store.UpdateConditional(context.Background(), "tenant-1", "task-1", func(t *core.Task) error {
		t.Status = core.TaskStatusRunning
		t.Progress.Percent = 10
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateConditional: %v", err)
	}
	if updated.Status != core.TaskStatusRunning || updated.Progress.Percent != 10 {
		t.Fatalf("unexpected task after update: %+v", updated)
	}

	// running -> pending is not in the DAG and must be denied.
	_, err = store.UpdateConditional(context.Background(), "tenant-1", "task-1", func(t *core.Task) error {
		t.Status = core.TaskStatusPending
		return nil
	})
	if err != core.ErrTaskTransitionDenied {
		t.Fatalf("expected ErrTaskTransitionDenied, got %v", err)
	}

	// the denied attempt must not have persisted.
	current, err := store.Get(context.Background(), "tenant-1", "task-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if current.Status != core.TaskStatusRunning {
		t.Fatalf("expected status to remain running, got %s", current.Status)
	}
}

func TestDocstoreTaskStore_Delete(t *testing.T) {
	mr, docs := setupTaskStoreTestRedis(t)
	defer mr.Close()
	store := NewDocstoreTaskStore(docs, nil)

	task := core.NewTask("task-1", "tenant-1", "tpl-1", "user-1", nil)
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Delete(context.Background(), "tenant-1", "task-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(context.Background(), "tenant-1", "task-1"); err != core.ErrTaskNotFound {
		t.Fatalf("expected ErrTaskNotFound after delete, got %v", err)
	}
}
