package core

import (
	"context"
	"errors"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// Errors
// ═══════════════════════════════════════════════════════════════════════════

// ErrTaskNotFound is returned when a task cannot be found.
var ErrTaskNotFound = errors.New("task not found")

// ErrTaskTransitionDenied is returned when a status write would move a task
// out of a terminal state, or otherwise violates the status DAG.
var ErrTaskTransitionDenied = errors.New("task status transition denied")

// ═══════════════════════════════════════════════════════════════════════════
// Types
// ═══════════════════════════════════════════════════════════════════════════

// TaskStatus is a node in the task lifecycle DAG.
type TaskStatus string

const (
	TaskStatusPending              TaskStatus = "pending"
	TaskStatusRunning              TaskStatus = "running"
	TaskStatusCompleted            TaskStatus = "completed"
	TaskStatusFailed               TaskStatus = "failed"
	TaskStatusFailedAutoRepairing  TaskStatus = "failed_auto_repairing"
	TaskStatusAutoRepairedRetrying TaskStatus = "auto_repaired_retrying"
	TaskStatusCancelled            TaskStatus = "cancelled"
)

// IsTerminal reports whether no further writes are expected for a task in
// this status, other than administrative audit fields. A task in
// failed_auto_repairing is NOT terminal: it always moves on to
// auto_repaired_retrying or, if cancellation wins the race, to cancelled.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// validTransitions encodes the DAG from spec §4.8. A transition not listed
// here is denied.
var validTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskStatusPending: {
		TaskStatusRunning:   true,
		TaskStatusCancelled: true,
	},
	TaskStatusRunning: {
		TaskStatusCompleted:           true,
		TaskStatusFailed:              true,
		TaskStatusFailedAutoRepairing: true,
		TaskStatusCancelled:           true,
	},
	TaskStatusFailedAutoRepairing: {
		TaskStatusAutoRepairedRetrying: true,
		TaskStatusCancelled:            true,
		TaskStatusFailed:               true,
	},
	TaskStatusAutoRepairedRetrying: {
		TaskStatusRunning: true,
	},
}

// CanTransition reports whether moving from `from` to `to` is allowed by the
// status DAG. Terminal states never transition further; this is what makes conditional DS updates sufficient
// to neutralize a duplicate WQ dispatch.
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return true // idempotent re-write, e.g. double Cancel
	}
	if from.IsTerminal() {
		return false
	}
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// Progress is the mutable, monotonic-in-StepsCompleted progress snapshot
// carried on a Task.
type Progress struct {
	Percent        int                    `json:"percent"`
	Message        string                 `json:"message,omitempty"`
	CurrentStep    string                 `json:"current_step,omitempty"`
	StepsCompleted int                    `json:"steps_completed"`
	StepsTotal     int                    `json:"steps_total,omitempty"`
	Checkpoints    []Checkpoint           `json:"checkpoints,omitempty"`
	UpdatedAt      time.Time              `json:"updated_at"`
	Snapshot       map[string]interface{} `json:"snapshot,omitempty"`
}

// Checkpoint is an append-only marker written by createCheckpoint.
type Checkpoint struct {
	Step      string                 `json:"step"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// ResourceUsage accumulates per-execution resource consumption, mirrored
// onto Task.Execution at every progress write.
type ResourceUsage struct {
	PeakMemoryBytes int64 `json:"peak_memory_bytes,omitempty"`
	TotalAPICalls   int   `json:"total_api_calls"`
	LLMTokens       int   `json:"llm_tokens"`
	ErrorCount      int   `json:"error_count"`
	WarningCount    int   `json:"warning_count"`
}

// Execution carries the delivery/runtime metadata for one dispatch attempt.
type Execution struct {
	CloudTaskName string        `json:"cloud_task_name,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
	ExecutionTime time.Duration `json:"execution_time,omitempty"`
	ResourceUsage ResourceUsage `json:"resource_usage"`
}

// Attachment is a single deliverable produced by a template's execute().
type Attachment struct {
	PublicURL string `json:"public_url"`
	Filename  string `json:"filename,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

// Result is the successful outcome of a task's execution.
type Result struct {
	Summary     string       `json:"summary"`
	Attachments []Attachment `json:"attachments,omitempty"`
	HTMLReport  string       `json:"html_report,omitempty"`
}

// AutoRepairRetryInfo records the repair that produced a retry task.
type AutoRepairRetryInfo struct {
	RepairedAt    time.Time `json:"repaired_at"`
	RepairAttempt int       `json:"repair_attempt"`
}

// MessageContext carries channel routing information back to the ingress
// adapter for a task's originating chat/webhook message. It is opaque to
// everything except the adapter and is passed through unmodified.
type MessageContext struct {
	DialogID string                 `json:"dialog_id,omitempty"`
	UserID   string                 `json:"user_id,omitempty"`
	Extra    map[string]interface{} `json:"extra,omitempty"`
}

// Task represents one requested execution of a Template. The Task
// Orchestrator writes it, except for the failed_auto_repairing and
// auto_repaired_retrying transitions, which the executor's HandleError
// writes through the same TaskStore; every other component observes it
// through the Document Store or the Orchestrator's own API.
type Task struct {
	// Identity
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`

	// Association
	TemplateID      string           `json:"template_id"`
	CreatedBy       string           `json:"created_by"`
	MessageContext  *MessageContext  `json:"message_context,omitempty"`

	// Inputs
	Parameters map[string]interface{} `json:"parameters"`
	Priority   int                     `json:"priority"`
	Testing    bool                    `json:"testing"`

	// State
	Status TaskStatus `json:"status"`

	// Progress
	Progress Progress `json:"progress"`

	// Execution
	Execution Execution `json:"execution"`

	// Outcome
	Result *Result      `json:"result,omitempty"`
	Errors []*TaskError `json:"errors,omitempty"`

	// Lineage
	RetryTaskID         string               `json:"retry_task_id,omitempty"`
	AutoRepairRetryInfo *AutoRepairRetryInfo `json:"auto_repair_retry_info,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Distributed tracing, preserved across the WQ boundary the same way
	// the framework's generic async job plumbing does it.
	TraceID      string `json:"trace_id,omitempty"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
}

// SetTraceContext sets the trace context fields on a task.
func (t *Task) SetTraceContext(traceID, spanID string) {
	t.TraceID = traceID
	t.ParentSpanID = spanID
}

// NewTask creates a pending task ready for enqueue.
func NewTask(id, tenantID, templateID, createdBy string, parameters map[string]interface{}) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:         id,
		TenantID:   tenantID,
		TemplateID: templateID,
		CreatedBy:  createdBy,
		Parameters: parameters,
		Status:     TaskStatusPending,
		Testing:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// TaskErrorKind is the closed failure taxonomy from the error handling
// design. Each kind has a fixed repair policy enforced by executor.handleError
// and repair.Tracker, never decided ad hoc at the call site.
type TaskErrorKind string

const (
	TaskErrorTaskCancelled    TaskErrorKind = "TaskCancelled"
	TaskErrorAuthFailure      TaskErrorKind = "AuthFailure"
	TaskErrorRateLimited      TaskErrorKind = "RateLimited"
	TaskErrorNetwork          TaskErrorKind = "Network"
	TaskErrorTimeout          TaskErrorKind = "Timeout"
	TaskErrorProvider5xx      TaskErrorKind = "Provider5xx"
	TaskErrorClientAPIError   TaskErrorKind = "ClientApiError"
	TaskErrorFormatError      TaskErrorKind = "FormatError"
	TaskErrorValidationError  TaskErrorKind = "ValidationError"
	TaskErrorSandboxPolicy    TaskErrorKind = "SandboxPolicyError"
	TaskErrorCompileError     TaskErrorKind = "CompileError"
	TaskErrorInternal         TaskErrorKind = "InternalError"
)

// IsRepairableWhenTesting reports the fixed repair policy for a kind, per
// the taxonomy table: some kinds are never repaired regardless of the
// testing flag, some only when testing is true, none are repaired
// unconditionally.
func (k TaskErrorKind) IsRepairableWhenTesting() bool {
	switch k {
	case TaskErrorClientAPIError, TaskErrorFormatError, TaskErrorSandboxPolicy,
		TaskErrorCompileError, TaskErrorInternal:
		return true
	default:
		return false
	}
}

// TaskError is the first-class error record produced by the Executor
// Core's failure path and stored on Task.Errors.
type TaskError struct {
	Kind      TaskErrorKind          `json:"kind"`
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message"`
	Step      string                 `json:"step,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *TaskError) Error() string {
	if e.Step != "" {
		return string(e.Kind) + " at " + e.Step + ": " + e.Message
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *TaskError) Unwrap() error { return e.cause }

// NewTaskError constructs a TaskError, stamping Timestamp with now.
func NewTaskError(kind TaskErrorKind, message string, cause error) *TaskError {
	return &TaskError{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// WithStep returns a copy of e annotated with the failing step name.
func (e *TaskError) WithStep(step string) *TaskError {
	c := *e
	c.Step = step
	return &c
}

// WithData returns a copy of e annotated with diagnostic data.
func (e *TaskError) WithData(data map[string]interface{}) *TaskError {
	c := *e
	c.Data = data
	return &c
}

// ═══════════════════════════════════════════════════════════════════════════
// Interfaces
// ═══════════════════════════════════════════════════════════════════════════

// TaskStore persists Task state. The Redis-backed implementation lives in
// docstore; this interface is the contract the Orchestrator programs
// against, kept here so executor/repair/templates can depend on it without
// importing the orchestrator package (it owns writes, everyone else reads).
type TaskStore interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, tenantID, taskID string) (*Task, error)

	// UpdateConditional applies mutate to the stored task and writes it back
	// only if CanTransition(current.Status, task-after-mutate.Status) holds
	// (or the status is unchanged). It returns ErrTaskTransitionDenied
	// without writing if the transition is not allowed. This is the single
	// chokepoint implementing the "conditional updates" requirement from
	// spec §4.8 and §5 (duplicate-dispatch neutralization).
	UpdateConditional(ctx context.Context, tenantID, taskID string, mutate func(*Task) error) (*Task, error)

	Delete(ctx context.Context, tenantID, taskID string) error
}

// ProgressReporter allows in-flight executor code to push progress.
type ProgressReporter interface {
	Report(ctx context.Context, progress Progress) error
}
