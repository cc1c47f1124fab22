// Package workflow holds declarative retry/compensation workflow
// definitions: named sequences of steps a caller drives through a Runner
// instead of hand-rolling its own retry-then-escalate control flow. The
// Repair Engine's escalation path uses this to decide what happens to a
// template once the Repair Tracker's circuit breaker trips on it.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/deepauras/auroraflow/core"
	"github.com/deepauras/auroraflow/resilience"
)

// StepKind is what a Step asks the Runner to do.
type StepKind string

const (
	// StepRetry re-invokes the StepExecutor up to MaxAttempts times with
	// exponential backoff, via resilience.Retry.
	StepRetry StepKind = "retry"
	// StepCompensate runs once; its failure does not stop the workflow,
	// since a compensation's job is to undo partial effects of steps that
	// already ran, and a failed undo is still logged progress.
	StepCompensate StepKind = "compensate"
	// StepNotify runs once; its failure does not stop the workflow, for
	// the same reason (a failed notification shouldn't block cleanup).
	StepNotify StepKind = "notify"
)

// Step is one named unit of work inside a Definition.
type Step struct {
	Name        string
	Kind        StepKind
	MaxAttempts int           // StepRetry only; defaults to 3 if <= 0
	InitialDelay time.Duration // StepRetry only; defaults to 100ms if <= 0
}

// Definition is a named, ordered list of Steps.
type Definition struct {
	Name  string
	Steps []Step
}

// Catalog holds named Definitions, analogous to the teacher's
// WorkflowRouter.workflows map, keyed here by escalation scenario instead
// of by natural-language intent pattern.
type Catalog struct {
	definitions map[string]*Definition
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{definitions: map[string]*Definition{}}
}

// Register adds or replaces a Definition under name.
func (c *Catalog) Register(name string, def *Definition) {
	c.definitions[name] = def
}

// Lookup returns name's Definition and whether it was found.
func (c *Catalog) Lookup(name string) (*Definition, bool) {
	def, ok := c.definitions[name]
	return def, ok
}

// StepExecutor runs one Step. A non-nil error on a StepRetry step triggers
// a retry (up to the step's MaxAttempts); on StepCompensate/StepNotify it
// is logged and the Runner moves on.
type StepExecutor func(ctx context.Context, step Step) error

// StepOutcome records one step's result within a RunResult.
type StepOutcome struct {
	Step     Step
	Attempts int
	Err      error
}

// RunResult is what Runner.Run returns: every step's outcome in order, plus
// whether the whole Definition completed (a StepRetry step exhausting its
// attempts halts the run; StepCompensate/StepNotify failures do not).
type RunResult struct {
	Definition string
	Outcomes   []StepOutcome
	Completed  bool
}

// Runner drives a Definition's Steps against a StepExecutor.
type Runner struct {
	logger core.Logger
}

// NewRunner constructs a Runner. A nil logger uses core.NoOpLogger.
func NewRunner(logger core.Logger) *Runner {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("workflow")
	}
	return &Runner{logger: logger}
}

// Run executes def's steps in order. A StepRetry step that exhausts its
// attempts stops the run immediately, leaving the remaining steps
// unrecorded; StepCompensate and StepNotify steps always run regardless of
// their own outcome, since they exist to clean up or report, not to gate
// progress.
func (r *Runner) Run(ctx context.Context, def *Definition, exec StepExecutor) *RunResult {
	result := &RunResult{Definition: def.Name}

	for _, step := range def.Steps {
		if step.Kind != StepRetry {
			err := exec(ctx, step)
			if err != nil {
				r.logger.Warn("workflow step failed, continuing", map[string]interface{}{
					"workflow": def.Name, "step": step.Name, "kind": string(step.Kind), "error": err.Error(),
				})
			}
			result.Outcomes = append(result.Outcomes, StepOutcome{Step: step, Attempts: 1, Err: err})
			continue
		}

		attempts := 0
		cfg := retryConfigFor(step)
		err := resilience.Retry(ctx, cfg, func() error {
			attempts++
			return exec(ctx, step)
		})
		result.Outcomes = append(result.Outcomes, StepOutcome{Step: step, Attempts: attempts, Err: err})
		if err != nil {
			r.logger.Error("workflow retry step exhausted, halting workflow", map[string]interface{}{
				"workflow": def.Name, "step": step.Name, "attempts": attempts, "error": err.Error(),
			})
			return result
		}
	}

	result.Completed = true
	return result
}

func retryConfigFor(step Step) *resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	if step.MaxAttempts > 0 {
		cfg.MaxAttempts = step.MaxAttempts
	}
	if step.InitialDelay > 0 {
		cfg.InitialDelay = step.InitialDelay
	}
	return cfg
}

// String renders a RunResult for logs.
func (rr *RunResult) String() string {
	return fmt.Sprintf("workflow %s: completed=%v steps=%d", rr.Definition, rr.Completed, len(rr.Outcomes))
}
