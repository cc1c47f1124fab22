// Package repair implements the Repair Engine (RE) and Repair Tracker
// (RT): turning an execution failure into a patched, validated, stored
// template, rate-limited so self-repair can never run away.
package repair

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/deepauras/auroraflow/core"
	"github.com/deepauras/auroraflow/memory"
	"github.com/deepauras/auroraflow/sandbox"
	"github.com/deepauras/auroraflow/templates"
	"github.com/deepauras/auroraflow/workflow"
)

// ErrorDetail is the failing error as reported by the Executor Core.
type ErrorDetail struct {
	Type    string
	Message string
	Step    string
	Stack   string
}

// ExecutionContext snapshots the failing task's progress at the moment of
// failure.
type ExecutionContext struct {
	CurrentStep    string
	StepsCompleted int
	Parameters     map[string]interface{}
	ResourceUsage  core.ResourceUsage
}

// ErrorContext is the full input to Engine.Repair, per spec §4.6.
type ErrorContext struct {
	TaskID               string
	TenantID             string
	TemplateID           string
	TemplateName         string
	Error                ErrorDetail
	Execution            ExecutionContext
	OriginalUserRequest  string
	KnowledgeBaseContext string // optional, concatenated into the prompt if non-empty
	Intent               *core.UserIntent
}

// Result is the outcome of Engine.Repair.
type Result struct {
	Success        bool
	Template       *core.Template
	RepairAttempt  int
	IsDesignError  bool
	Recommendation string
	Reason         string
	TokenCost      int
}

const (
	defaultTopKMemories      = 5
	defaultMinMemorySuccess  = 0.5
	repairTemperature        = 0.1
	repairMaxTokens          = 4000
)

// Engine is the Repair Engine.
type Engine struct {
	templates templates.Repository
	memory    memory.Store
	ai        core.AIClient
	tracker   *Tracker
	policy    *sandbox.PolicyConfig
	logger    core.Logger

	escalation *workflow.Planner
	runner     *workflow.Runner

	topK              int
	minMemorySuccess  float64
}

// NewEngine constructs an Engine. tracker, policy, and logger may be nil;
// sensible defaults are substituted (a fresh Tracker with DefaultLimits,
// sandbox.DefaultPolicyConfig, and core.NoOpLogger respectively).
func NewEngine(repo templates.Repository, mem memory.Store, ai core.AIClient, tracker *Tracker, policy *sandbox.PolicyConfig, logger core.Logger) *Engine {
	if tracker == nil {
		tracker = NewTracker(nil)
	}
	if policy == nil {
		policy = sandbox.DefaultPolicyConfig()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("repair")
	}

	catalog := workflow.NewCatalog()
	catalog.Register("repair-breaker-open", workflow.RepairEscalationDefinition())

	return &Engine{
		templates:        repo,
		memory:           mem,
		ai:               ai,
		tracker:          tracker,
		policy:           policy,
		logger:           logger,
		escalation:       workflow.NewPlanner(catalog),
		runner:           workflow.NewRunner(logger),
		topK:             defaultTopKMemories,
		minMemorySuccess: defaultMinMemorySuccess,
	}
}

// Repair runs the full precondition-then-procedure sequence from spec
// §4.6. A returned Result with Success==false and no error means "no
// repair was attempted or it failed validation," which the caller
// (executor.handleError) treats as a normal failed-task outcome, not an
// infrastructure error.
func (e *Engine) Repair(ctx context.Context, errCtx ErrorContext) (*Result, error) {
	if gate := e.tracker.CanRepair(errCtx.TaskID, errCtx.TemplateID); !gate.Allowed {
		if gate.Reason == "template repair circuit breaker open" {
			e.runEscalation(ctx, errCtx)
		}
		return &Result{Success: false, Reason: gate.Reason}, nil
	}

	if reason := detectIntentMismatch(errCtx.Intent); reason != "" {
		return &Result{
			Success:        false,
			IsDesignError:  true,
			Recommendation: "create_new_template_matching_user_intent",
			Reason:         reason,
		}, nil
	}

	tpl, err := e.templates.Get(ctx, errCtx.TenantID, errCtx.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("repair: load template %s: %w", errCtx.TemplateID, err)
	}

	memories, err := e.memory.Retrieve(ctx, memory.RetrieveQuery{
		TenantID:       errCtx.TenantID,
		QueryText:      errCtx.TemplateName + " " + errCtx.Error.Type + " " + errCtx.Error.Message,
		Categories:     []core.MemoryCategory{core.MemoryCategoryErrorPattern, core.MemoryCategoryFixStrategy},
		MinSuccessRate: e.minMemorySuccess,
		TopK:           e.topK,
	})
	if err != nil {
		e.logger.Warn("memory retrieval failed, repairing without memories", map[string]interface{}{"error": err.Error()})
	}

	window := extractCodeWindow(tpl.ExecutionScript, errCtx.Error)
	prompt := buildRepairPrompt(errCtx, tpl, window, memories)

	if e.ai == nil {
		return &Result{Success: false, Reason: "no AI client configured"}, nil
	}
	resp, err := e.ai.GenerateResponse(ctx, prompt, &core.AIOptions{
		Temperature: repairTemperature,
		MaxTokens:   repairMaxTokens,
	})
	if err != nil {
		return &Result{Success: false, Reason: fmt.Sprintf("repair LLM call failed: %s", err.Error())}, nil
	}
	tokenCost := resp.Usage.TotalTokens

	patch := core.ExtractFirstCodeBlock(resp.Content)
	validated, err := sandbox.ValidateAndPrepareScript(patch, errCtx.TemplateID, e.policy)
	if err != nil || !validated.Valid {
		e.tracker.RecordRepair(errCtx.TaskID, errCtx.TemplateID, tokenCost, false)
		reason := "patch failed validation"
		if validated != nil {
			reason = validated.Error
		}
		return &Result{Success: false, Reason: fmt.Sprintf("repair failed: %s", reason), TokenCost: tokenCost}, nil
	}

	event := core.AutoRepairEvent{
		RepairedAt: time.Now().UTC(),
		TaskID:     errCtx.TaskID,
		ErrorKind:  errCtx.Error.Type,
		TokenCost:  tokenCost,
	}
	script := validated.Script
	updated, err := e.templates.Update(ctx, errCtx.TenantID, errCtx.TemplateID, templates.UpdateInput{
		ExecutionScript: &script,
		RepairEvent:     &event,
	})
	if err != nil {
		return nil, fmt.Errorf("repair: write back patched template %s: %w", errCtx.TemplateID, err)
	}

	e.tracker.RecordRepair(errCtx.TaskID, errCtx.TemplateID, tokenCost, true)
	e.applyMemorySideEffects(ctx, errCtx.TenantID, tpl, memories)

	return &Result{
		Success:       true,
		Template:      updated,
		RepairAttempt: updated.RepairAttempts,
		TokenCost:     tokenCost,
	}, nil
}

// runEscalation drives the repair-breaker-open workflow: notify, then
// disable the template so it stops being selected until an operator
// re-enables it. Best-effort; failures are logged by the Runner and never
// surface to the caller, since Repair's own Result already reports the
// original denial reason.
func (e *Engine) runEscalation(ctx context.Context, errCtx ErrorContext) {
	def := e.escalation.Plan("repair-breaker-open")
	result := e.runner.Run(ctx, def, func(ctx context.Context, step workflow.Step) error {
		switch step.Kind {
		case workflow.StepNotify:
			e.logger.Warn("repair circuit breaker open, escalating", map[string]interface{}{
				"task_id": errCtx.TaskID, "template_id": errCtx.TemplateID, "tenant_id": errCtx.TenantID,
			})
			return nil
		case workflow.StepCompensate:
			return e.templates.SetEnabled(ctx, errCtx.TenantID, errCtx.TemplateID, false)
		default:
			return nil
		}
	})
	if !result.Completed {
		e.logger.Error("repair escalation workflow did not complete", map[string]interface{}{
			"template_id": errCtx.TemplateID, "workflow": result.Definition,
		})
	}
}

// applyMemorySideEffects marks generation-memories unsuccessful (the code
// they produced needed repair) and the memories that fed this repair
// successful, per spec §4.6 step 7.
func (e *Engine) applyMemorySideEffects(ctx context.Context, tenantID string, tpl *core.Template, repairMemories []*core.ReasoningMemory) {
	if tpl.GenerationMetadata != nil && len(tpl.GenerationMetadata.MemoryIDsUsed) > 0 {
		if err := e.memory.UpdateStatistics(ctx, tenantID, tpl.GenerationMetadata.MemoryIDsUsed, false); err != nil {
			e.logger.Warn("failed to mark generation memories unsuccessful", map[string]interface{}{"error": err.Error()})
		}
	}
	if len(repairMemories) == 0 {
		return
	}
	ids := make([]string, len(repairMemories))
	for i, m := range repairMemories {
		ids[i] = m.ID
	}
	if err := e.memory.UpdateStatistics(ctx, tenantID, ids, true); err != nil {
		e.logger.Warn("failed to mark repair memories successful", map[string]interface{}{"error": err.Error()})
	}
}

// detectIntentMismatch returns a non-empty reason when the stored
// user-intent annotations indicate the selected template cannot satisfy
// what the user actually asked for — a design problem the code cannot fix,
// per spec §4.6 precondition 2.
func detectIntentMismatch(intent *core.UserIntent) string {
	if intent == nil {
		return ""
	}
	if intent.MismatchReason != "" {
		return intent.MismatchReason
	}
	if !intent.IntentSatisfied {
		if intent.WantedAggregate && intent.WantedSpecificEntity {
			return "user asked for an aggregate but the template requires a specific entity id"
		}
		if intent.WantedNewTask && intent.SpecifiedCustomName != "" {
			return "user asked for a new task by name and the system reused an existing template"
		}
		return "stored intent annotations report the selection was not satisfied"
	}
	return ""
}

// extractCodeWindow returns a small window of source around the failing
// line, best-effort. Stack frames referencing template source are of the
// form "template.go:N"; for HTTP 4xx errors without such a frame the window
// is centred on the first callAPI( call in the script, whatever its method.
func extractCodeWindow(script string, detail ErrorDetail) string {
	lines := strings.Split(script, "\n")

	if lineNum, ok := lineFromStack(detail.Stack); ok && lineNum >= 1 && lineNum <= len(lines) {
		return windowAround(lines, lineNum-1, 10)
	}

	if idx := findCallAPILine(lines, detail); idx >= 0 {
		return windowAround(lines, idx, 10)
	}

	return script
}

func lineFromStack(stack string) (int, bool) {
	for _, frame := range strings.Split(stack, "\n") {
		idx := strings.LastIndex(frame, "template.go:")
		if idx == -1 {
			continue
		}
		rest := frame[idx+len("template.go:"):]
		end := 0
		for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
			end++
		}
		if end == 0 {
			continue
		}
		if n, err := strconv.Atoi(rest[:end]); err == nil {
			return n, true
		}
	}
	return 0, false
}

func findCallAPILine(lines []string, detail ErrorDetail) int {
	if !strings.HasPrefix(detail.Type, "4") && detail.Type != "ClientApiError" {
		return -1
	}
	for i, line := range lines {
		if strings.Contains(line, "callAPI(") {
			return i
		}
	}
	return -1
}

func windowAround(lines []string, center, radius int) string {
	start := center - radius
	if start < 0 {
		start = 0
	}
	end := center + radius
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start:end], "\n")
}

func buildRepairPrompt(errCtx ErrorContext, tpl *core.Template, window string, memories []*core.ReasoningMemory) string {
	var b strings.Builder

	if errCtx.KnowledgeBaseContext != "" {
		fmt.Fprintf(&b, "KNOWLEDGE BASE CONTEXT:\n%s\n\n", errCtx.KnowledgeBaseContext)
	}

	fmt.Fprintf(&b, "TASK: %s\nTEMPLATE: %s (%s)\nORIGINAL USER REQUEST: %s\n\n",
		errCtx.TaskID, errCtx.TemplateName, errCtx.TemplateID, errCtx.OriginalUserRequest)

	fmt.Fprintf(&b, "ERROR:\ntype=%s\nmessage=%s\nstep=%s\nstack=%s\n\n",
		errCtx.Error.Type, errCtx.Error.Message, errCtx.Error.Step, errCtx.Error.Stack)

	fmt.Fprintf(&b, "SOURCE WINDOW AROUND FAILURE:\n```go\n%s\n```\n\n", window)

	fmt.Fprintf(&b, "EXECUTION CONTEXT:\ncurrentStep=%s\nstepsCompleted=%d\nparameters=%v\n\n",
		errCtx.Execution.CurrentStep, errCtx.Execution.StepsCompleted, errCtx.Execution.Parameters)

	if len(memories) > 0 {
		b.WriteString("RELEVANT PAST FIXES:\n")
		for _, m := range memories {
			fmt.Fprintf(&b, "- %s: %s\n", m.Title, m.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("Produce a corrected version of the full template script that fixes this error. Respond with a single go code block containing the complete patched script, no explanation.")

	return b.String()
}
