package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deepauras/auroraflow/core"
	"github.com/deepauras/auroraflow/executor"
	"github.com/deepauras/auroraflow/sandbox"
	"github.com/deepauras/auroraflow/telemetry"
	"github.com/deepauras/auroraflow/templates"
)

// EnqueueRequest is the inbound payload for Enqueue, per spec §4.8.
type EnqueueRequest struct {
	TenantID       string
	TemplateID     string
	Parameters     map[string]interface{}
	UserID         string
	Priority       int
	Testing        bool
	MessageContext *core.MessageContext
}

// CapabilityBuilder constructs the per-dispatch Capabilities record handed
// to the Executor Core, closing over whatever the process wired at startup
// (docstore-backed memory, AI client, object store, RLQ pool, repair
// engine). Kept as a func rather than a fixed struct so Orchestrator never
// needs to import the RLQ/memory/objectstore concrete wiring packages
// itself — only executor, which already depends on them.
type CapabilityBuilder func() *executor.Capabilities

// TemplateCompiler is the Sandbox Runtime's Compile operation, narrowed to
// an interface so Dispatch can be exercised without shelling out to the Go
// toolchain; *sandbox.Compiler satisfies it directly.
type TemplateCompiler interface {
	Compile(ctx context.Context, templateID string, updatedAt time.Time, script string) (*sandbox.CompileResult, error)
}

// Orchestrator implements the Task Orchestrator: Enqueue writes a pending
// Task and hands a Delivery to the Work Queue; Dispatch (the worker
// callback) loads the Template, compiles its executor, runs it, and
// writes the Task's status changes. The exceptions are the
// failed_auto_repairing and auto_repaired_retrying transitions, which the
// executor's HandleError writes through the same TaskStore.
type Orchestrator struct {
	Tasks     core.TaskStore
	WQ        WorkQueue
	Templates templates.Repository
	Compiler  TemplateCompiler
	BuildCaps CapabilityBuilder
	Logger    core.Logger
	Telemetry core.Telemetry
}

// New constructs an Orchestrator. A nil logger defaults to a no-op; a nil
// telemetry provider defaults to core.NoOpTelemetry, so passing one (e.g.
// telemetry.NewOTelProvider) is the only thing needed to start tracing
// Dispatch and recording task-outcome metrics.
func New(tasks core.TaskStore, wq WorkQueue, tmpl templates.Repository, compiler TemplateCompiler, buildCaps CapabilityBuilder, logger core.Logger, telem core.Telemetry) *Orchestrator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator")
	}
	if telem == nil {
		telem = &core.NoOpTelemetry{}
	}
	return &Orchestrator{
		Tasks:     tasks,
		WQ:        wq,
		Templates: tmpl,
		Compiler:  compiler,
		BuildCaps: buildCaps,
		Logger:    logger,
		Telemetry: telem,
	}
}

// Enqueue creates a pending Task and hands it to the Work Queue. The
// returned delivery handle is stamped onto Task.Execution.CloudTaskName so
// a later Cancel can reach the right in-flight delivery.
func (o *Orchestrator) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	task := core.NewTask(uuid.New().String(), req.TenantID, req.TemplateID, req.UserID, req.Parameters)
	task.Priority = req.Priority
	task.Testing = req.Testing
	task.MessageContext = req.MessageContext

	if err := o.Tasks.Create(ctx, task); err != nil {
		return "", fmt.Errorf("orchestrator: create task: %w", err)
	}

	handle, err := o.WQ.Enqueue(ctx, Delivery{
		TaskID:     task.ID,
		TenantID:   task.TenantID,
		TemplateID: task.TemplateID,
		Parameters: task.Parameters,
		UserID:     task.CreatedBy,
		Priority:   task.Priority,
	})
	if err != nil {
		return "", fmt.Errorf("orchestrator: enqueue task %s: %w", task.ID, err)
	}

	if _, updErr := o.Tasks.UpdateConditional(ctx, task.TenantID, task.ID, func(t *core.Task) error {
		t.Execution.CloudTaskName = handle
		return nil
	}); updErr != nil {
		o.Logger.Warn("failed to stamp delivery handle onto task", map[string]interface{}{"task_id": task.ID, "error": updErr.Error()})
	}

	return task.ID, nil
}

// Dispatch is the worker callback: pop one Delivery, load its Task and
// Template, compile and run the template's executor, and perform the
// single status-mutating write the outcome requires. Re-dispatch of an
// already-running or already-terminal task is a silent no-op, the
// idempotency guard spec §4.8 requires for at-least-once worker delivery.
func (o *Orchestrator) Dispatch(ctx context.Context, taskID, tenantID string) error {
	ctx, span := o.Telemetry.StartSpan(ctx, "orchestrator.dispatch")
	defer span.End()
	span.SetAttribute("task_id", taskID)
	span.SetAttribute("tenant_id", tenantID)

	task, err := o.Tasks.Get(ctx, tenantID, taskID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("orchestrator: dispatch: load task %s: %w", taskID, err)
	}
	if task.Status != core.TaskStatusPending && task.Status != core.TaskStatusAutoRepairedRetrying {
		o.Logger.Info("dispatch no-op: task not in a dispatchable state", map[string]interface{}{"task_id": taskID, "status": task.Status})
		return nil
	}

	task, err = o.Tasks.UpdateConditional(ctx, tenantID, taskID, func(t *core.Task) error {
		t.Status = core.TaskStatusRunning
		now := time.Now().UTC()
		t.Execution.StartedAt = &now
		return nil
	})
	if err != nil {
		if err == core.ErrTaskTransitionDenied {
			o.Logger.Info("dispatch no-op: transition to running denied (already claimed)", map[string]interface{}{"task_id": taskID})
			return nil
		}
		return fmt.Errorf("orchestrator: dispatch: mark task %s running: %w", taskID, err)
	}
	span.SetAttribute("template_id", task.TemplateID)
	o.Telemetry.RecordMetric(telemetry.MetricTaskDispatched, 1, map[string]string{"tenant_id": tenantID})

	tmpl, err := o.Templates.Get(ctx, tenantID, task.TemplateID)
	if err != nil {
		o.fail(ctx, task, core.NewTaskError(core.TaskErrorInternal, "template not found", err))
		return nil
	}

	compiled, err := o.Compiler.Compile(ctx, tmpl.ID, tmpl.UpdatedAt, tmpl.ExecutionScript)
	if err != nil {
		o.fail(ctx, task, core.NewTaskError(core.TaskErrorInternal, "template compile failed", err))
		return nil
	}

	caps := o.BuildCaps()
	base := executor.NewBaseExecutor(caps, task, tmpl, templateProvider(tmpl), nil)

	// Compile's factory is handed base itself: base is the capability
	// record a compiled template's generated executor embeds, already
	// bound to this task's identity and this template's script.
	instance, err := compiled.Factory(base)
	if err != nil {
		result, handleErr := base.Run(ctx, failingExecutor{err: core.NewTaskError(core.TaskErrorInternal, "executor construction failed", err)})
		o.finish(ctx, task, result, handleErr)
		return nil
	}
	exec, ok := instance.(executor.Executor)
	if !ok {
		result, handleErr := base.Run(ctx, failingExecutor{err: core.NewTaskError(core.TaskErrorInternal, "compiled executor does not satisfy the Executor contract", nil)})
		o.finish(ctx, task, result, handleErr)
		return nil
	}

	result, runErr := base.Run(ctx, exec)
	o.finish(ctx, task, result, runErr)
	return nil
}

// finish performs the single terminal write an executor run requires: a
// TaskErrorTaskCancelled with Data["reason"]=="auto_repair_retry" means
// HandleError already transitioned the task to auto_repaired_retrying and
// there is nothing left to do; any other TaskCancelled or explicit
// cancellation marks the task cancelled; any other error marks it failed;
// no error marks it completed.
func (o *Orchestrator) finish(ctx context.Context, task *core.Task, result *core.Result, runErr error) {
	if runErr == nil {
		o.complete(ctx, task, result)
		return
	}

	taskErr, ok := runErr.(*core.TaskError)
	if ok && taskErr.Kind == core.TaskErrorTaskCancelled {
		if taskErr.Data != nil && taskErr.Data["reason"] == "auto_repair_retry" {
			return
		}
		o.cancel(ctx, task, taskErr)
		return
	}

	o.fail(ctx, task, runErr)
}

func (o *Orchestrator) complete(ctx context.Context, task *core.Task, result *core.Result) {
	updated, err := o.Tasks.UpdateConditional(ctx, task.TenantID, task.ID, func(t *core.Task) error {
		t.Status = core.TaskStatusCompleted
		t.Result = result
		now := time.Now().UTC()
		t.Execution.FinishedAt = &now
		if t.Execution.StartedAt != nil {
			t.Execution.ExecutionTime = now.Sub(*t.Execution.StartedAt)
		}
		return nil
	})
	if err != nil {
		o.Logger.Error("failed to mark task completed", map[string]interface{}{"task_id": task.ID, "error": err.Error()})
		return
	}
	o.Telemetry.RecordMetric(telemetry.MetricTaskCompleted, 1, map[string]string{"tenant_id": task.TenantID})
	o.Telemetry.RecordMetric(telemetry.MetricTaskDuration, float64(updated.Execution.ExecutionTime.Milliseconds()), map[string]string{"tenant_id": task.TenantID})
}

func (o *Orchestrator) fail(ctx context.Context, task *core.Task, cause error) {
	taskErr := classifyForRecord(cause)
	if _, err := o.Tasks.UpdateConditional(ctx, task.TenantID, task.ID, func(t *core.Task) error {
		t.Status = core.TaskStatusFailed
		t.Errors = append(t.Errors, taskErr)
		now := time.Now().UTC()
		t.Execution.FinishedAt = &now
		if t.Execution.StartedAt != nil {
			t.Execution.ExecutionTime = now.Sub(*t.Execution.StartedAt)
		}
		return nil
	}); err != nil {
		if err == core.ErrTaskTransitionDenied {
			return
		}
		o.Logger.Error("failed to mark task failed", map[string]interface{}{"task_id": task.ID, "error": err.Error()})
		return
	}
	o.Telemetry.RecordMetric(telemetry.MetricTaskFailed, 1, map[string]string{"tenant_id": task.TenantID, "error_kind": string(taskErr.Kind)})
}

func (o *Orchestrator) cancel(ctx context.Context, task *core.Task, taskErr *core.TaskError) {
	if _, err := o.Tasks.UpdateConditional(ctx, task.TenantID, task.ID, func(t *core.Task) error {
		t.Status = core.TaskStatusCancelled
		now := time.Now().UTC()
		t.Execution.FinishedAt = &now
		if t.Execution.StartedAt != nil {
			t.Execution.ExecutionTime = now.Sub(*t.Execution.StartedAt)
		}
		return nil
	}); err != nil {
		if err == core.ErrTaskTransitionDenied {
			return
		}
		o.Logger.Error("failed to mark task cancelled", map[string]interface{}{"task_id": task.ID, "error": err.Error()})
		return
	}
	o.Telemetry.RecordMetric(telemetry.MetricTaskCancelled, 1, map[string]string{"tenant_id": task.TenantID})
}

// Cancel transitions a Task to cancelled and best-effort cancels its
// in-flight Work Queue delivery. A task already terminal is left alone.
func (o *Orchestrator) Cancel(ctx context.Context, tenantID, taskID string) error {
	task, err := o.Tasks.UpdateConditional(ctx, tenantID, taskID, func(t *core.Task) error {
		t.Status = core.TaskStatusCancelled
		return nil
	})
	if err != nil {
		if err == core.ErrTaskTransitionDenied {
			return nil
		}
		return fmt.Errorf("orchestrator: cancel task %s: %w", taskID, err)
	}
	if task.Execution.CloudTaskName != "" {
		if cancelErr := o.WQ.Cancel(ctx, task.Execution.CloudTaskName); cancelErr != nil {
			o.Logger.Warn("best-effort WQ cancel failed", map[string]interface{}{"task_id": taskID, "error": cancelErr.Error()})
		}
	}
	return nil
}

// CancelDelivery implements executor.DeliveryCanceller, letting the
// Executor Core's HandleError funnel reach back into the Work Queue
// without importing it.
func (o *Orchestrator) CancelDelivery(ctx context.Context, handle string) error {
	return o.WQ.Cancel(ctx, handle)
}

// EnqueueRetry implements executor.RetryEnqueuer: spec §4.8's
// RetryWithRepairedTemplate. It creates a fresh Task inheriting the
// original's template, parameters, and routing, and enqueues it; the
// original task's own transition to auto_repaired_retrying (and its
// RetryTaskID linkage) is written by HandleError itself, not here.
func (o *Orchestrator) EnqueueRetry(ctx context.Context, tenantID, originalTaskID string) (string, error) {
	original, err := o.Tasks.Get(ctx, tenantID, originalTaskID)
	if err != nil {
		return "", fmt.Errorf("orchestrator: retry: load original task %s: %w", originalTaskID, err)
	}

	retryTaskID, err := o.Enqueue(ctx, EnqueueRequest{
		TenantID:       original.TenantID,
		TemplateID:     original.TemplateID,
		Parameters:     original.Parameters,
		UserID:         original.CreatedBy,
		Priority:       original.Priority,
		Testing:        original.Testing,
		MessageContext: original.MessageContext,
	})
	if err != nil {
		return "", fmt.Errorf("orchestrator: retry: enqueue repaired task: %w", err)
	}
	return retryTaskID, nil
}

// templateProvider derives the RLQ provider name a template's calls route
// through from its primary category, the closest analogue spec.md offers
// to an explicit provider field; templates with no category use "default".
func templateProvider(tmpl *core.Template) string {
	if len(tmpl.Category) > 0 {
		return tmpl.Category[0]
	}
	return "default"
}

func classifyForRecord(err error) *core.TaskError {
	if taskErr, ok := err.(*core.TaskError); ok {
		return taskErr
	}
	return core.NewTaskError(core.TaskErrorInternal, err.Error(), err)
}

// failingExecutor is a stand-in Executor whose Execute immediately returns
// a fixed error, letting construction-time failures funnel through the
// same BaseExecutor.Run panic-safety and HandleError path a real
// template's Execute would.
type failingExecutor struct {
	err error
}

func (f failingExecutor) Execute(ctx context.Context) (*core.Result, error) {
	return nil, f.err
}
