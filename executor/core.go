package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"github.com/deepauras/auroraflow/core"
	"github.com/deepauras/auroraflow/memory"
	"github.com/deepauras/auroraflow/ratelimitqueue"
	"github.com/deepauras/auroraflow/repair"
)

const (
	defaultMemoryTopK          = 5
	defaultMemoryMinSuccess    = 0.5
	defaultStreamBatchSize     = 50
	streamBackoffBase          = 500 * time.Millisecond
	streamBackoffCap           = 30 * time.Second
	streamMaxRateLimitRetries  = 6
)

// GeminiOptions configures one CallGemini invocation.
type GeminiOptions struct {
	Model          string
	MaxTokens      int
	Temperature    float32
	ResponseSchema map[string]interface{}
}

// StreamOptions configures one StreamingFetch invocation.
type StreamOptions struct {
	BatchSize        int
	ProgressCallback func(batch interface{})
}

// BaseExecutor is the Executor Core: the base type every template-defined
// executor embeds, carrying capability mechanics so template authors only
// write business logic in their own Execute method.
type BaseExecutor struct {
	caps *Capabilities

	taskID   string
	tenantID string
	provider string // configured RLQ provider name for CallAPI/StreamingFetch

	template   *core.Template
	parameters map[string]interface{}
	msgContext *core.MessageContext

	testing bool

	startTime      time.Time
	currentStep    string
	stepsCompleted int
	stepsTotal     int
	resourceUsage  core.ResourceUsage

	providedMemories []*core.ReasoningMemory
}

// NewBaseExecutor constructs a BaseExecutor bound to one task's run.
// providedMemories, when non-nil, short-circuits GetMemoryEnhancedContext
// (an outer test-time-scaling path already selected them at construction).
func NewBaseExecutor(caps *Capabilities, task *core.Task, template *core.Template, provider string, providedMemories []*core.ReasoningMemory) *BaseExecutor {
	return &BaseExecutor{
		caps:             caps,
		taskID:           task.ID,
		tenantID:         task.TenantID,
		provider:         provider,
		template:         template,
		parameters:       task.Parameters,
		msgContext:       task.MessageContext,
		testing:          task.Testing,
		startTime:        time.Now(),
		stepsTotal:       0,
		providedMemories: providedMemories,
	}
}

// Run invokes exec.Execute, recovering from panics and funneling any
// failure (panic or returned error) through HandleError, the same
// panic-safety shape the worker's job-handler dispatch uses.
func (b *BaseExecutor) Run(ctx context.Context, exec Executor) (result *core.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			b.caps.Logger.Error("executor panic recovered", map[string]interface{}{
				"task_id": b.taskID,
				"step":    b.currentStep,
				"panic":   fmt.Sprint(r),
				"stack":   stack,
			})
			taskErr := core.NewTaskError(core.TaskErrorInternal, fmt.Sprintf("panic: %v", r), nil).WithStep(b.currentStep)
			result, err = nil, b.HandleError(ctx, taskErr, b.currentStep)
		}
	}()

	result, err = exec.Execute(ctx)
	if err != nil {
		return nil, b.HandleError(ctx, err, b.currentStep)
	}
	return result, nil
}

// UpdateProgress checks cancellation first, then writes through to DS.
// Decreasing percent is allowed; stepsCompleted on the stored record never
// decreases relative to what this instance has already observed.
func (b *BaseExecutor) UpdateProgress(ctx context.Context, percent int, message, step string, data map[string]interface{}) error {
	if err := b.CheckCancellation(ctx); err != nil {
		return err
	}
	if step != "" {
		b.currentStep = step
	}
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}

	_, err := b.caps.TaskStore.UpdateConditional(ctx, b.tenantID, b.taskID, func(t *core.Task) error {
		t.Progress.Percent = percent
		t.Progress.Message = message
		if step != "" {
			t.Progress.CurrentStep = step
		}
		if t.Progress.StepsCompleted < b.stepsCompleted {
			t.Progress.StepsCompleted = b.stepsCompleted
		}
		if b.stepsTotal > 0 {
			t.Progress.StepsTotal = b.stepsTotal
		}
		t.Progress.Snapshot = data
		t.Progress.UpdatedAt = time.Now().UTC()
		t.Execution.ResourceUsage = b.resourceUsage
		return nil
	})
	if err != nil {
		return core.NewTaskError(core.TaskErrorInternal, "UpdateProgress: write failed", err).WithStep(step)
	}
	return nil
}

// CheckCancellation reads the Task record and throws a TaskCancelled error,
// distinguishable from every other kind, if the task was cancelled out
// from under the running executor.
func (b *BaseExecutor) CheckCancellation(ctx context.Context) error {
	task, err := b.caps.TaskStore.Get(ctx, b.tenantID, b.taskID)
	if err != nil {
		return nil // best-effort: a transient read failure should not itself abort the run
	}
	if task.Status == core.TaskStatusCancelled {
		return core.NewTaskError(core.TaskErrorTaskCancelled, "task was cancelled", nil).WithStep(b.currentStep)
	}
	return nil
}

// CreateCheckpoint appends a checkpoint record to the Task.
func (b *BaseExecutor) CreateCheckpoint(ctx context.Context, step string, data map[string]interface{}) error {
	_, err := b.caps.TaskStore.UpdateConditional(ctx, b.tenantID, b.taskID, func(t *core.Task) error {
		t.Progress.Checkpoints = append(t.Progress.Checkpoints, core.Checkpoint{
			Step:      step,
			Data:      data,
			CreatedAt: time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		return core.NewTaskError(core.TaskErrorInternal, "CreateCheckpoint: write failed", err).WithStep(step)
	}
	return nil
}

// CallAPI checks cancellation, routes to the configured provider's RLQ, and
// bumps totalApiCalls. The RLQ absorbs 429 backoff+retry internally; a
// rate-limit error reaches this call's caller only once the RLQ's retries
// for that request are exhausted.
func (b *BaseExecutor) CallAPI(ctx context.Context, method string, params map[string]interface{}) (interface{}, error) {
	if err := b.CheckCancellation(ctx); err != nil {
		return nil, err
	}
	queue, ok := b.caps.queueFor(b.provider)
	if !ok {
		return nil, core.NewTaskError(core.TaskErrorInternal, fmt.Sprintf("no RLQ configured for provider %q", b.provider), nil).WithStep(b.currentStep)
	}
	resp, err := queue.Enqueue(ctx, ratelimitqueue.Request{Method: method, Params: params})
	b.resourceUsage.TotalAPICalls++
	if err != nil {
		b.resourceUsage.ErrorCount++
		return nil, classifyProviderError(err, b.currentStep)
	}
	return resp, nil
}

// CallGemini runs the model through the deterministic validator, calls LS,
// and accumulates token usage. A responseSchema parse failure raises a
// FormatError, not an InternalError, so it is classified as repairable.
func (b *BaseExecutor) CallGemini(ctx context.Context, prompt string, opts GeminiOptions) (*core.AIResponse, error) {
	if err := b.CheckCancellation(ctx); err != nil {
		return nil, err
	}
	model := b.caps.validateModel(opts.Model)
	resp, err := b.caps.AI.GenerateResponse(ctx, prompt, &core.AIOptions{
		Model:          model,
		Temperature:    opts.Temperature,
		MaxTokens:      opts.MaxTokens,
		ResponseSchema: opts.ResponseSchema,
	})
	if err != nil {
		b.resourceUsage.ErrorCount++
		return nil, core.NewTaskError(core.TaskErrorProvider5xx, "gemini call failed", err).WithStep(b.currentStep)
	}
	b.resourceUsage.LLMTokens += resp.Usage.TotalTokens

	if opts.ResponseSchema != nil {
		var parsed map[string]interface{}
		if jsonErr := json.Unmarshal([]byte(resp.Content), &parsed); jsonErr != nil {
			return nil, core.NewTaskError(core.TaskErrorFormatError, "gemini response did not match the requested schema", jsonErr).WithStep(b.currentStep)
		}
	}
	return resp, nil
}

// StreamingFetch repeatedly pages through method via CallAPI until a short
// batch signals the end. Rate-limit signals that reach this call (rather
// than being fully absorbed by the RLQ) retry the same offset with
// exponential backoff.
func (b *BaseExecutor) StreamingFetch(ctx context.Context, method string, query map[string]interface{}, opts StreamOptions) ([]interface{}, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultStreamBatchSize
	}

	var all []interface{}
	offset := 0
	for {
		params := map[string]interface{}{}
		for k, v := range query {
			params[k] = v
		}
		params["offset"] = offset
		params["limit"] = batchSize

		batch, err := b.fetchWithRateLimitRetry(ctx, method, params)
		if err != nil {
			return all, err
		}

		items, _ := batch.([]interface{})
		all = append(all, items...)
		if opts.ProgressCallback != nil {
			opts.ProgressCallback(items)
		}
		if len(items) < batchSize {
			return all, nil
		}
		offset += len(items)
	}
}

func (b *BaseExecutor) fetchWithRateLimitRetry(ctx context.Context, method string, params map[string]interface{}) (interface{}, error) {
	for attempt := 0; ; attempt++ {
		resp, err := b.CallAPI(ctx, method, params)
		if err == nil {
			return resp, nil
		}
		taskErr, ok := err.(*core.TaskError)
		if !ok || taskErr.Kind != core.TaskErrorRateLimited || attempt >= streamMaxRateLimitRetries {
			return nil, err
		}
		select {
		case <-time.After(exponentialBackoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func exponentialBackoff(attempt int) time.Duration {
	d := streamBackoffBase * time.Duration(math.Pow(2, float64(attempt)))
	if d > streamBackoffCap {
		return streamBackoffCap
	}
	return d
}

// UploadReport delegates to OS. On failure: in testing mode it throws so
// the repair loop sees the error; in production it degrades gracefully to
// an inline_truncated attachment.
func (b *BaseExecutor) UploadReport(ctx context.Context, html []byte, filename string, meta map[string]string) (*core.Attachment, error) {
	result, err := b.caps.Objects.UploadHTML(ctx, html, filename, meta)
	if err != nil {
		if b.testing {
			return nil, core.NewTaskError(core.TaskErrorInternal, "UploadReport failed", err).WithStep(b.currentStep)
		}
		return &core.Attachment{PublicURL: "inline_truncated", Filename: filename}, nil
	}
	return &core.Attachment{PublicURL: result.PublicURL, Filename: filename, Size: result.ContentLength}, nil
}

// GetMemoryEnhancedContext returns memories supplied at construction, if
// any, otherwise retrieves them from MS using an embedding of the
// template's name, description, and this run's parameters.
func (b *BaseExecutor) GetMemoryEnhancedContext(ctx context.Context) ([]*core.ReasoningMemory, error) {
	if b.providedMemories != nil {
		return b.providedMemories, nil
	}
	if b.caps.Memory == nil {
		return nil, nil
	}
	queryText := fmt.Sprintf("%s %s %v", b.template.Name, b.template.Description, b.parameters)
	memories, err := b.caps.Memory.Retrieve(ctx, memory.RetrieveQuery{
		TenantID:       b.tenantID,
		QueryText:      queryText,
		TemplateID:     b.template.ID,
		MinSuccessRate: defaultMemoryMinSuccess,
		TopK:           defaultMemoryTopK,
	})
	if err != nil {
		return nil, core.NewTaskError(core.TaskErrorInternal, "memory retrieval failed", err).WithStep(b.currentStep)
	}
	return memories, nil
}

// UpdateMemoryStatistics adjusts success/failure counters for each memory
// used in this run.
func (b *BaseExecutor) UpdateMemoryStatistics(ctx context.Context, memoryIDs []string, success bool) error {
	if b.caps.Memory == nil || len(memoryIDs) == 0 {
		return nil
	}
	return b.caps.Memory.UpdateStatistics(ctx, b.tenantID, memoryIDs, success)
}

// TrackGenerationMemorySuccess propagates this run's outcome to the
// memories that originally seeded the template's generation, if any.
func (b *BaseExecutor) TrackGenerationMemorySuccess(ctx context.Context, taskSuccess bool) error {
	if b.template.GenerationMetadata == nil || len(b.template.GenerationMetadata.MemoryIDsUsed) == 0 {
		return nil
	}
	return b.UpdateMemoryStatistics(ctx, b.template.GenerationMetadata.MemoryIDsUsed, taskSuccess)
}

// HandleError is the single funnel for per-task failure: classify, decide
// whether to attempt repair, and perform the cancellation-safe status
// transitions a successful repair requires. It always returns a non-nil
// error; TaskErrorTaskCancelled with Data["reason"]=="auto_repair_retry"
// means a retry is already in flight and the caller should simply unwind.
func (b *BaseExecutor) HandleError(ctx context.Context, err error, step string) error {
	taskErr := classifyError(err, step)

	if taskErr.Kind == core.TaskErrorTaskCancelled || !taskErr.Kind.IsRepairableWhenTesting() {
		return taskErr
	}
	if !b.testing || b.caps.RepairEng == nil {
		return taskErr
	}

	if task, getErr := b.caps.TaskStore.Get(ctx, b.tenantID, b.taskID); getErr == nil && task.Status == core.TaskStatusCancelled {
		return core.NewTaskError(core.TaskErrorTaskCancelled, "task cancelled before repair", nil)
	}

	result, repairErr := b.caps.RepairEng.Repair(ctx, repair.ErrorContext{
		TaskID:       b.taskID,
		TenantID:     b.tenantID,
		TemplateID:   b.template.ID,
		TemplateName: b.template.Name,
		Error: repair.ErrorDetail{
			Type:    string(taskErr.Kind),
			Message: taskErr.Message,
			Step:    taskErr.Step,
		},
		Execution: repair.ExecutionContext{
			CurrentStep:    b.currentStep,
			StepsCompleted: b.stepsCompleted,
			Parameters:     b.parameters,
			ResourceUsage:  b.resourceUsage,
		},
	})
	if repairErr != nil {
		b.caps.Logger.Error("repair engine call failed", map[string]interface{}{"task_id": b.taskID, "error": repairErr.Error()})
		return taskErr
	}

	task, getErr := b.caps.TaskStore.Get(ctx, b.tenantID, b.taskID)
	if getErr == nil && task.Status == core.TaskStatusCancelled {
		return core.NewTaskError(core.TaskErrorTaskCancelled, "task cancelled during repair", nil)
	}

	if !result.Success {
		return taskErr
	}

	if _, updErr := b.caps.TaskStore.UpdateConditional(ctx, b.tenantID, b.taskID, func(t *core.Task) error {
		t.Status = core.TaskStatusFailedAutoRepairing
		return nil
	}); updErr != nil {
		b.caps.Logger.Error("failed to mark task failed_auto_repairing", map[string]interface{}{"task_id": b.taskID, "error": updErr.Error()})
	}

	if b.caps.canceller != nil && task != nil && task.Execution.CloudTaskName != "" {
		if cancelErr := b.caps.canceller.CancelDelivery(ctx, task.Execution.CloudTaskName); cancelErr != nil {
			b.caps.Logger.Warn("best-effort WQ delivery cancel failed", map[string]interface{}{"task_id": b.taskID, "error": cancelErr.Error()})
		}
	}

	var retryTaskID string
	if b.caps.retrier != nil {
		var enqueueErr error
		retryTaskID, enqueueErr = b.caps.retrier.EnqueueRetry(ctx, b.tenantID, b.taskID)
		if enqueueErr != nil {
			b.caps.Logger.Error("failed to enqueue repaired retry task", map[string]interface{}{"task_id": b.taskID, "error": enqueueErr.Error()})
		}
	}

	if _, updErr := b.caps.TaskStore.UpdateConditional(ctx, b.tenantID, b.taskID, func(t *core.Task) error {
		t.Status = core.TaskStatusAutoRepairedRetrying
		t.RetryTaskID = retryTaskID
		t.AutoRepairRetryInfo = &core.AutoRepairRetryInfo{
			RepairedAt:    time.Now().UTC(),
			RepairAttempt: result.RepairAttempt,
		}
		return nil
	}); updErr != nil {
		b.caps.Logger.Error("failed to mark task auto_repaired_retrying", map[string]interface{}{"task_id": b.taskID, "error": updErr.Error()})
	}

	return core.NewTaskError(core.TaskErrorTaskCancelled, "auto repair retry in progress", nil).
		WithData(map[string]interface{}{"reason": "auto_repair_retry"})
}

// classifyError normalizes any error into a *core.TaskError, preserving an
// already-typed one (stamping step only if missing) and wrapping anything
// else as InternalError.
func classifyError(err error, step string) *core.TaskError {
	if taskErr, ok := err.(*core.TaskError); ok {
		if taskErr.Step == "" && step != "" {
			return taskErr.WithStep(step)
		}
		return taskErr
	}
	return core.NewTaskError(core.TaskErrorInternal, err.Error(), err).WithStep(step)
}

// classifyProviderError maps a ratelimitqueue/provider-level error onto the
// closed TaskErrorKind taxonomy.
func classifyProviderError(err error, step string) *core.TaskError {
	if pe, ok := err.(*ratelimitqueue.ProviderError); ok {
		switch {
		case pe.IsRateLimited():
			return core.NewTaskError(core.TaskErrorRateLimited, pe.Message, err).WithStep(step)
		case pe.StatusCode >= 500:
			return core.NewTaskError(core.TaskErrorProvider5xx, pe.Message, err).WithStep(step)
		case pe.StatusCode >= 400:
			return core.NewTaskError(core.TaskErrorClientAPIError, pe.Message, err).WithStep(step)
		}
	}
	if err == ratelimitqueue.ErrQueueClosed {
		return core.NewTaskError(core.TaskErrorInternal, "provider queue shut down", err).WithStep(step)
	}
	return core.NewTaskError(core.TaskErrorNetwork, err.Error(), err).WithStep(step)
}
