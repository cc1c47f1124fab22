package workflow

// Planner picks a Definition for an escalation scenario: a registered
// Catalog entry if one exists, otherwise DefaultEscalationDefinition. This
// is the same try-the-fixed-path-then-fall-back shape the teacher's
// HybridRouter used for prompt routing, generalized to picking an
// escalation workflow instead of an agent.
type Planner struct {
	catalog *Catalog
}

// NewPlanner constructs a Planner over catalog. A nil catalog is treated as
// empty, so Plan always falls back to DefaultEscalationDefinition.
func NewPlanner(catalog *Catalog) *Planner {
	return &Planner{catalog: catalog}
}

// Plan returns the Definition to run for scenario.
func (p *Planner) Plan(scenario string) *Definition {
	if p.catalog != nil {
		if def, ok := p.catalog.Lookup(scenario); ok {
			return def
		}
	}
	return DefaultEscalationDefinition(scenario)
}
