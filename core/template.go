package core

import "time"

// ParameterSpec describes one entry of a Template's parameter schema.
type ParameterSpec struct {
	Type        string      `json:"type"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Description string      `json:"description,omitempty"`
}

// ParameterSchema is the required-fields/property-types/defaults contract a
// Task's Parameters are validated against before compilation. A Default
// value equal to one of the sentinel strings in DeriveFromContextSentinels
// instructs the executor to derive the value from MessageContext instead of
// failing validation.
type ParameterSchema map[string]ParameterSpec

// DeriveFromContextSentinels are the recognized "derive from context"
// default values.
var DeriveFromContextSentinels = map[string]bool{
	"$context.userId":   true,
	"$context.dialogId": true,
	"$context.now":      true,
}

// Triggers is the match surface the Template Matcher's deterministic
// fallback scores against.
type Triggers struct {
	Patterns []string `json:"patterns,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Contexts []string `json:"contexts,omitempty"`
}

// AutoRepairEvent is one entry of a Template's repair history.
type AutoRepairEvent struct {
	RepairedAt  time.Time `json:"repaired_at"`
	TaskID      string    `json:"task_id"`
	ErrorKind   string    `json:"error_kind"`
	TokenCost   int       `json:"token_cost"`
	IsDesignErr bool      `json:"is_design_error,omitempty"`
}

// GenerationMetadata records which memories seeded an AI-generated
// template, so the Repair Engine can mark them unsuccessful if the
// generated code later needs repair.
type GenerationMetadata struct {
	GeneratedAt   time.Time `json:"generated_at"`
	MemoryIDsUsed []string  `json:"memory_ids_used,omitempty"`
}

// Template is a named, versioned recipe for executing tasks. The Template
// Repository is its exclusive writer.
type Template struct {
	// Identity
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Version  int    `json:"version"`

	// Metadata
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    []string `json:"category,omitempty"`
	Triggers    Triggers `json:"triggers"`
	Priority    int      `json:"priority"`
	Enabled     bool     `json:"enabled"`
	Testing     bool     `json:"testing"`

	// Schema
	ParameterSchema ParameterSchema `json:"parameter_schema,omitempty"`

	// Code
	ExecutionScript string `json:"execution_script"`

	// Search index
	NameEmbedding []float32 `json:"name_embedding,omitempty"`
	Embedding     []float32 `json:"embedding,omitempty"`

	// Audit
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
	LastRepaired       *time.Time           `json:"last_repaired,omitempty"`
	RepairAttempts     int                  `json:"repair_attempts"`
	AutoRepairHistory  []AutoRepairEvent    `json:"auto_repair_history,omitempty"`
	ScriptValidated    bool                 `json:"script_validated"`
	ScriptEscaped      bool                 `json:"script_escaped"`
	GenerationMetadata *GenerationMetadata  `json:"generation_metadata,omitempty"`
}

// CacheKey is the compiled-code cache key for this template revision, per
// the Ownership rule in spec §3: "Compiled executor types are owned by the
// Sandbox Runtime's cache, keyed by (templateId, template.updatedAt)."
func (t *Template) CacheKey() string {
	return t.ID + "@" + t.UpdatedAt.Format(time.RFC3339Nano)
}
