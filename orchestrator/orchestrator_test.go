package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/deepauras/auroraflow/core"
	"github.com/deepauras/auroraflow/executor"
	"github.com/deepauras/auroraflow/sandbox"
	"github.com/deepauras/auroraflow/templates"
)

type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*core.Task
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: map[string]*core.Task{}}
}

func (f *fakeTaskStore) Create(ctx context.Context, task *core.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeTaskStore) Get(ctx context.Context, tenantID, taskID string) (*core.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, core.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTaskStore) UpdateConditional(ctx context.Context, tenantID, taskID string, mutate func(*core.Task) error) (*core.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, core.ErrTaskNotFound
	}
	before := t.Status
	cp := *t
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	if !core.CanTransition(before, cp.Status) {
		return nil, core.ErrTaskTransitionDenied
	}
	f.tasks[taskID] = &cp
	return &cp, nil
}

func (f *fakeTaskStore) Delete(ctx context.Context, tenantID, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, taskID)
	return nil
}

type fakeWorkQueue struct {
	mu         sync.Mutex
	delivered  []Delivery
	cancelled  map[string]bool
	nextHandle string
}

func newFakeWorkQueue() *fakeWorkQueue {
	return &fakeWorkQueue{cancelled: map[string]bool{}}
}

func (f *fakeWorkQueue) Enqueue(ctx context.Context, d Delivery) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.Handle == "" {
		d.Handle = f.nextHandle
		if d.Handle == "" {
			d.Handle = "handle-" + d.TaskID
		}
	}
	f.delivered = append(f.delivered, d)
	return d.Handle, nil
}

func (f *fakeWorkQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	return nil, nil
}

func (f *fakeWorkQueue) Cancel(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled[handle] = true
	return nil
}

type fakeTemplateRepository struct {
	templates map[string]*core.Template
}

func (f *fakeTemplateRepository) Get(ctx context.Context, tenantID, templateID string) (*core.Template, error) {
	tpl, ok := f.templates[templateID]
	if !ok {
		return nil, core.ErrTaskNotFound
	}
	return tpl, nil
}
func (f *fakeTemplateRepository) List(ctx context.Context, tenantID string, activeOnly bool) ([]*core.Template, error) {
	return nil, nil
}
func (f *fakeTemplateRepository) Create(ctx context.Context, in templates.CreateInput) (*core.Template, error) {
	return nil, nil
}
func (f *fakeTemplateRepository) Update(ctx context.Context, tenantID, templateID string, patch templates.UpdateInput) (*core.Template, error) {
	return nil, nil
}
func (f *fakeTemplateRepository) Delete(ctx context.Context, tenantID, templateID string) error {
	return nil
}
func (f *fakeTemplateRepository) SetEnabled(ctx context.Context, tenantID, templateID string, enabled bool) error {
	return nil
}
func (f *fakeTemplateRepository) GetByCategory(ctx context.Context, tenantID, category string) ([]*core.Template, error) {
	return nil, nil
}

// fakeCompiler returns a fixed ExecutorFactory regardless of input,
// letting tests control exactly what Dispatch's compiled instance does.
type fakeCompiler struct {
	factory sandbox.ExecutorFactory
	err     error
}

func (f *fakeCompiler) Compile(ctx context.Context, templateID string, updatedAt time.Time, script string) (*sandbox.CompileResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sandbox.CompileResult{Factory: f.factory}, nil
}

type fixedExecutor struct {
	result *core.Result
	err    error
}

func (e fixedExecutor) Execute(ctx context.Context) (*core.Result, error) {
	return e.result, e.err
}

func succeedingFactory(result *core.Result) sandbox.ExecutorFactory {
	return func(capabilities interface{}) (interface{}, error) {
		return fixedExecutor{result: result}, nil
	}
}

func failingFactory(err error) sandbox.ExecutorFactory {
	return func(capabilities interface{}) (interface{}, error) {
		return fixedExecutor{err: err}, nil
	}
}

func newTestOrchestrator(tasks core.TaskStore, wq WorkQueue, tmplRepo templates.Repository, compiler TemplateCompiler) *Orchestrator {
	buildCaps := func() *executor.Capabilities {
		return executor.NewCapabilities(tasks, nil, nil, nil, nil, nil)
	}
	return New(tasks, wq, tmplRepo, compiler, buildCaps, nil, nil)
}

type fakeTelemetry struct {
	mu      sync.Mutex
	spans   []string
	metrics []string
}

func (f *fakeTelemetry) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	f.mu.Lock()
	f.spans = append(f.spans, name)
	f.mu.Unlock()
	return ctx, &core.NoOpSpan{}
}

func (f *fakeTelemetry) RecordMetric(name string, value float64, labels map[string]string) {
	f.mu.Lock()
	f.metrics = append(f.metrics, name)
	f.mu.Unlock()
}

func TestOrchestrator_EnqueueCreatesPendingTaskAndDelivery(t *testing.T) {
	tasks := newFakeTaskStore()
	wq := newFakeWorkQueue()
	orch := newTestOrchestrator(tasks, wq, &fakeTemplateRepository{}, &fakeCompiler{})

	taskID, err := orch.Enqueue(context.Background(), EnqueueRequest{
		TenantID:   "tenant-1",
		TemplateID: "tpl-1",
		UserID:     "user-1",
		Priority:   5,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	stored, err := tasks.Get(context.Background(), "tenant-1", taskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != core.TaskStatusPending {
		t.Fatalf("expected pending status, got %s", stored.Status)
	}
	if stored.Execution.CloudTaskName == "" {
		t.Fatalf("expected delivery handle to be stamped onto task")
	}
	if len(wq.delivered) != 1 || wq.delivered[0].TaskID != taskID {
		t.Fatalf("expected one delivery for task %s, got %+v", taskID, wq.delivered)
	}
}

func TestOrchestrator_DispatchCompletesOnSuccess(t *testing.T) {
	tasks := newFakeTaskStore()
	wq := newFakeWorkQueue()
	tmplRepo := &fakeTemplateRepository{templates: map[string]*core.Template{
		"tpl-1": {ID: "tpl-1", TenantID: "tenant-1", Name: "demo"},
	}}
	result := &core.Result{Summary: "done"}
	compiler := &fakeCompiler{factory: succeedingFactory(result)}
	orch := newTestOrchestrator(tasks, wq, tmplRepo, compiler)

	taskID, err := orch.Enqueue(context.Background(), EnqueueRequest{TenantID: "tenant-1", TemplateID: "tpl-1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := orch.Dispatch(context.Background(), taskID, "tenant-1"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	stored, _ := tasks.Get(context.Background(), "tenant-1", taskID)
	if stored.Status != core.TaskStatusCompleted {
		t.Fatalf("expected completed status, got %s", stored.Status)
	}
	if stored.Result == nil || stored.Result.Summary != "done" {
		t.Fatalf("expected result to be recorded, got %+v", stored.Result)
	}
}

func TestOrchestrator_DispatchRecordsTelemetrySpanAndMetrics(t *testing.T) {
	tasks := newFakeTaskStore()
	wq := newFakeWorkQueue()
	tmplRepo := &fakeTemplateRepository{templates: map[string]*core.Template{
		"tpl-1": {ID: "tpl-1", TenantID: "tenant-1", Name: "demo"},
	}}
	compiler := &fakeCompiler{factory: succeedingFactory(&core.Result{Summary: "done"})}
	buildCaps := func() *executor.Capabilities {
		return executor.NewCapabilities(tasks, nil, nil, nil, nil, nil)
	}
	telem := &fakeTelemetry{}
	orch := New(tasks, wq, tmplRepo, compiler, buildCaps, nil, telem)

	taskID, err := orch.Enqueue(context.Background(), EnqueueRequest{TenantID: "tenant-1", TemplateID: "tpl-1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := orch.Dispatch(context.Background(), taskID, "tenant-1"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(telem.spans) != 1 || telem.spans[0] != "orchestrator.dispatch" {
		t.Fatalf("expected one orchestrator.dispatch span, got %+v", telem.spans)
	}
	foundDispatched, foundCompleted, foundDuration := false, false, false
	for _, m := range telem.metrics {
		switch m {
		case "task.dispatched":
			foundDispatched = true
		case "task.completed":
			foundCompleted = true
		case "task.duration_ms":
			foundDuration = true
		}
	}
	if !foundDispatched || !foundCompleted || !foundDuration {
		t.Fatalf("expected dispatched/completed/duration metrics, got %+v", telem.metrics)
	}
}

func TestOrchestrator_DispatchMarksFailedOnNonRepairableError(t *testing.T) {
	tasks := newFakeTaskStore()
	wq := newFakeWorkQueue()
	tmplRepo := &fakeTemplateRepository{templates: map[string]*core.Template{
		"tpl-1": {ID: "tpl-1", TenantID: "tenant-1", Name: "demo"},
	}}
	execErr := core.NewTaskError(core.TaskErrorAuthFailure, "bad credentials", nil)
	compiler := &fakeCompiler{factory: failingFactory(execErr)}
	orch := newTestOrchestrator(tasks, wq, tmplRepo, compiler)

	taskID, err := orch.Enqueue(context.Background(), EnqueueRequest{TenantID: "tenant-1", TemplateID: "tpl-1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := orch.Dispatch(context.Background(), taskID, "tenant-1"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	stored, _ := tasks.Get(context.Background(), "tenant-1", taskID)
	if stored.Status != core.TaskStatusFailed {
		t.Fatalf("expected failed status, got %s", stored.Status)
	}
	if len(stored.Errors) != 1 || stored.Errors[0].Kind != core.TaskErrorAuthFailure {
		t.Fatalf("expected AuthFailure recorded, got %+v", stored.Errors)
	}
}

func TestOrchestrator_DispatchMarksCancelledOnCancellation(t *testing.T) {
	tasks := newFakeTaskStore()
	wq := newFakeWorkQueue()
	tmplRepo := &fakeTemplateRepository{templates: map[string]*core.Template{
		"tpl-1": {ID: "tpl-1", TenantID: "tenant-1", Name: "demo"},
	}}
	execErr := core.NewTaskError(core.TaskErrorTaskCancelled, "task was cancelled", nil)
	compiler := &fakeCompiler{factory: failingFactory(execErr)}
	orch := newTestOrchestrator(tasks, wq, tmplRepo, compiler)

	taskID, err := orch.Enqueue(context.Background(), EnqueueRequest{TenantID: "tenant-1", TemplateID: "tpl-1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := orch.Dispatch(context.Background(), taskID, "tenant-1"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	stored, _ := tasks.Get(context.Background(), "tenant-1", taskID)
	if stored.Status != core.TaskStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", stored.Status)
	}
}

func TestOrchestrator_DispatchIsIdempotentOnNonDispatchableTask(t *testing.T) {
	tasks := newFakeTaskStore()
	wq := newFakeWorkQueue()
	tmplRepo := &fakeTemplateRepository{templates: map[string]*core.Template{
		"tpl-1": {ID: "tpl-1", TenantID: "tenant-1", Name: "demo"},
	}}
	compiler := &fakeCompiler{factory: succeedingFactory(&core.Result{Summary: "should not run"})}
	orch := newTestOrchestrator(tasks, wq, tmplRepo, compiler)

	taskID, err := orch.Enqueue(context.Background(), EnqueueRequest{TenantID: "tenant-1", TemplateID: "tpl-1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// First dispatch moves pending -> running -> completed.
	if err := orch.Dispatch(context.Background(), taskID, "tenant-1"); err != nil {
		t.Fatalf("first Dispatch: %v", err)
	}
	// A duplicate worker delivery for the same (already terminal) task must
	// be a silent no-op, not an error and not a second run.
	if err := orch.Dispatch(context.Background(), taskID, "tenant-1"); err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}

	stored, _ := tasks.Get(context.Background(), "tenant-1", taskID)
	if stored.Status != core.TaskStatusCompleted {
		t.Fatalf("expected task to remain completed, got %s", stored.Status)
	}
}

func TestOrchestrator_CancelTransitionsAndCancelsDelivery(t *testing.T) {
	tasks := newFakeTaskStore()
	wq := newFakeWorkQueue()
	orch := newTestOrchestrator(tasks, wq, &fakeTemplateRepository{}, &fakeCompiler{})

	taskID, err := orch.Enqueue(context.Background(), EnqueueRequest{TenantID: "tenant-1", TemplateID: "tpl-1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := orch.Cancel(context.Background(), "tenant-1", taskID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	stored, _ := tasks.Get(context.Background(), "tenant-1", taskID)
	if stored.Status != core.TaskStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", stored.Status)
	}
	if !wq.cancelled[stored.Execution.CloudTaskName] {
		t.Fatalf("expected delivery handle to be cancelled on WQ")
	}
}

func TestOrchestrator_EnqueueRetryInheritsTemplateAndParameters(t *testing.T) {
	tasks := newFakeTaskStore()
	wq := newFakeWorkQueue()
	orch := newTestOrchestrator(tasks, wq, &fakeTemplateRepository{}, &fakeCompiler{})

	original := core.NewTask("orig-1", "tenant-1", "tpl-1", "user-1", map[string]interface{}{"k": "v"})
	original.Testing = true
	if err := tasks.Create(context.Background(), original); err != nil {
		t.Fatalf("seed original task: %v", err)
	}

	retryID, err := orch.EnqueueRetry(context.Background(), "tenant-1", "orig-1")
	if err != nil {
		t.Fatalf("EnqueueRetry: %v", err)
	}
	if retryID == "orig-1" {
		t.Fatalf("expected a fresh task id")
	}

	retryTask, err := tasks.Get(context.Background(), "tenant-1", retryID)
	if err != nil {
		t.Fatalf("Get retry task: %v", err)
	}
	if retryTask.TemplateID != "tpl-1" || retryTask.Parameters["k"] != "v" {
		t.Fatalf("expected retry task to inherit template/parameters, got %+v", retryTask)
	}
}
