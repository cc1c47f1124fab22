package workflow

// DefaultEscalationDefinition returns the fallback Definition used when no
// catalog entry matches a given escalation scenario name: retry the
// triggering action once more, then notify, then compensate by disabling
// the template. Unlike a catalog lookup this needs no registration step,
// the same role the teacher's AutonomousRouter played as a fallback when no
// predefined workflow matched the prompt.
func DefaultEscalationDefinition(scenario string) *Definition {
	return &Definition{
		Name: scenario + "-default",
		Steps: []Step{
			{Name: "retry-once", Kind: StepRetry, MaxAttempts: 1, InitialDelay: 0},
			{Name: "notify-operator", Kind: StepNotify},
			{Name: "disable-template", Kind: StepCompensate},
		},
	}
}

// RepairEscalationDefinition returns the catalog default for the
// repair-tracker-circuit-breaker-open scenario: no further retry (the
// breaker already ruled that out), notify, then disable the template so it
// stops being selected until an operator intervenes.
func RepairEscalationDefinition() *Definition {
	return &Definition{
		Name: "repair-breaker-open",
		Steps: []Step{
			{Name: "notify-operator", Kind: StepNotify},
			{Name: "disable-template", Kind: StepCompensate},
		},
	}
}
