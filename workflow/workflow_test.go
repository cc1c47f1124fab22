package workflow

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunner_CompletesAllStepsOnSuccess(t *testing.T) {
	def := &Definition{
		Name: "happy-path",
		Steps: []Step{
			{Name: "retry-step", Kind: StepRetry, MaxAttempts: 2, InitialDelay: time.Millisecond},
			{Name: "notify-step", Kind: StepNotify},
			{Name: "compensate-step", Kind: StepCompensate},
		},
	}

	r := NewRunner(nil)
	result := r.Run(context.Background(), def, func(ctx context.Context, step Step) error {
		return nil
	})

	if !result.Completed {
		t.Fatalf("expected workflow to complete, got %+v", result)
	}
	if len(result.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(result.Outcomes))
	}
}

func TestRunner_RetryStepEventuallySucceeds(t *testing.T) {
	calls := 0
	def := &Definition{
		Name: "eventual",
		Steps: []Step{
			{Name: "flaky", Kind: StepRetry, MaxAttempts: 3, InitialDelay: time.Millisecond},
		},
	}

	r := NewRunner(nil)
	result := r.Run(context.Background(), def, func(ctx context.Context, step Step) error {
		calls++
		if calls < 2 {
			return errors.New("not yet")
		}
		return nil
	})

	if !result.Completed {
		t.Fatalf("expected workflow to complete after eventual success, got %+v", result)
	}
	if result.Outcomes[0].Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", result.Outcomes[0].Attempts)
	}
}

func TestRunner_RetryStepExhaustionHaltsWorkflow(t *testing.T) {
	def := &Definition{
		Name: "doomed",
		Steps: []Step{
			{Name: "always-fails", Kind: StepRetry, MaxAttempts: 2, InitialDelay: time.Millisecond},
			{Name: "never-reached", Kind: StepNotify},
		},
	}

	r := NewRunner(nil)
	result := r.Run(context.Background(), def, func(ctx context.Context, step Step) error {
		return errors.New("boom")
	})

	if result.Completed {
		t.Fatalf("expected workflow to halt, got %+v", result)
	}
	if len(result.Outcomes) != 1 {
		t.Fatalf("expected only the failed retry step recorded, got %d", len(result.Outcomes))
	}
}

func TestRunner_NotifyAndCompensateFailuresDoNotHaltWorkflow(t *testing.T) {
	def := &Definition{
		Name: "best-effort-cleanup",
		Steps: []Step{
			{Name: "notify", Kind: StepNotify},
			{Name: "compensate", Kind: StepCompensate},
		},
	}

	r := NewRunner(nil)
	result := r.Run(context.Background(), def, func(ctx context.Context, step Step) error {
		return errors.New("best effort failed")
	})

	if !result.Completed {
		t.Fatalf("expected workflow to complete despite step failures, got %+v", result)
	}
	for _, o := range result.Outcomes {
		if o.Err == nil {
			t.Fatalf("expected step %s to record its failure", o.Step.Name)
		}
	}
}

func TestCatalog_RegisterAndLookup(t *testing.T) {
	c := NewCatalog()
	def := RepairEscalationDefinition()
	c.Register("repair-breaker-open", def)

	got, ok := c.Lookup("repair-breaker-open")
	if !ok || got != def {
		t.Fatalf("expected registered definition to be returned")
	}

	if _, ok := c.Lookup("unknown"); ok {
		t.Fatalf("expected unknown scenario to miss")
	}
}

func TestPlanner_FallsBackToDefaultWhenCatalogMisses(t *testing.T) {
	p := NewPlanner(NewCatalog())
	def := p.Plan("anything")
	if def.Name != "anything-default" {
		t.Fatalf("expected fallback definition, got %q", def.Name)
	}
}

func TestPlanner_PrefersCatalogEntry(t *testing.T) {
	catalog := NewCatalog()
	catalog.Register("repair-breaker-open", RepairEscalationDefinition())

	p := NewPlanner(catalog)
	def := p.Plan("repair-breaker-open")
	if def.Name != "repair-breaker-open" {
		t.Fatalf("expected catalog definition, got %q", def.Name)
	}
}
