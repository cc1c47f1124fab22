package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deepauras/auroraflow/core"
	"github.com/deepauras/auroraflow/docstore"
)

const taskCollection = "tasks"

func taskKey(tenantID, taskID string) string {
	return tenantID + ":" + taskID
}

// DocstoreTaskStore implements core.TaskStore atop docstore.Store, adapting
// DS's generic map[string]interface{}-and-FieldOps UpdateConditional
// contract to core.TaskStore's typed mutate-a-*Task contract, and
// enforcing the status DAG at the single write chokepoint both the Task
// Orchestrator and the Executor Core's handleError funnel through.
type DocstoreTaskStore struct {
	docs   docstore.Store
	logger core.Logger
}

// NewDocstoreTaskStore constructs a DocstoreTaskStore.
func NewDocstoreTaskStore(docs docstore.Store, logger core.Logger) *DocstoreTaskStore {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator")
	}
	return &DocstoreTaskStore{docs: docs, logger: logger}
}

func (s *DocstoreTaskStore) Create(ctx context.Context, task *core.Task) error {
	if err := s.docs.CreateUnique(ctx, taskCollection, taskKey(task.TenantID, task.ID), task); err != nil {
		return fmt.Errorf("orchestrator: create task %s: %w", task.ID, err)
	}
	return nil
}

func (s *DocstoreTaskStore) Get(ctx context.Context, tenantID, taskID string) (*core.Task, error) {
	var task core.Task
	if err := s.docs.Get(ctx, taskCollection, taskKey(tenantID, taskID), &task); err != nil {
		if err == docstore.ErrNotFound {
			return nil, core.ErrTaskNotFound
		}
		return nil, fmt.Errorf("orchestrator: get task %s: %w", taskID, err)
	}
	return &task, nil
}

// UpdateConditional decodes the stored document into a *core.Task, applies
// mutate, and — if the resulting status transition is allowed — writes back
// every field as a single FieldOp.OpSet batch inside DS's own
// WATCH/MULTI-guarded UpdateConditional, so a concurrent writer losing the
// optimistic race is retried by DS, not by this adapter.
func (s *DocstoreTaskStore) UpdateConditional(ctx context.Context, tenantID, taskID string, mutate func(*core.Task) error) (*core.Task, error) {
	var result *core.Task

	err := s.docs.UpdateConditional(ctx, taskCollection, taskKey(tenantID, taskID), func(current map[string]interface{}) ([]docstore.FieldOp, error) {
		raw, err := json.Marshal(current)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: re-encode task %s: %w", taskID, err)
		}
		var task core.Task
		if err := json.Unmarshal(raw, &task); err != nil {
			return nil, fmt.Errorf("orchestrator: decode task %s: %w", taskID, err)
		}

		before := task.Status
		if err := mutate(&task); err != nil {
			return nil, err
		}
		if !core.CanTransition(before, task.Status) {
			return nil, core.ErrTaskTransitionDenied
		}
		task.UpdatedAt = time.Now().UTC()
		result = &task

		doc, err := toDocMap(&task)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: re-encode patched task %s: %w", taskID, err)
		}
		ops := make([]docstore.FieldOp, 0, len(doc))
		for field, value := range doc {
			ops = append(ops, docstore.FieldOp{Field: field, Kind: docstore.OpSet, Value: value})
		}
		return ops, nil
	})
	if err != nil {
		if err == core.ErrTaskTransitionDenied {
			return nil, core.ErrTaskTransitionDenied
		}
		return nil, fmt.Errorf("orchestrator: update task %s: %w", taskID, err)
	}
	return result, nil
}

func (s *DocstoreTaskStore) Delete(ctx context.Context, tenantID, taskID string) error {
	if err := s.docs.Delete(ctx, taskCollection, taskKey(tenantID, taskID)); err != nil {
		return fmt.Errorf("orchestrator: delete task %s: %w", taskID, err)
	}
	return nil
}

func toDocMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
