// Package templates implements the Template Repository (TR) and Template
// Matcher (TM): the template collection's sole writer, and the component
// that maps a free-form message to at most one enabled template.
package templates

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/deepauras/auroraflow/core"
	"github.com/deepauras/auroraflow/docstore"
	"github.com/deepauras/auroraflow/embedding"
	"github.com/deepauras/auroraflow/sandbox"
)

const collection = "templates"

// cacheInvalidator lets the Repository flush the Sandbox Runtime's
// compiled-code cache without importing the orchestrator's concrete
// sandbox wiring; *sandbox.Compiler satisfies it directly.
type cacheInvalidator interface {
	Invalidate(templateID string)
}

// CreateInput is the data accepted by Create; Enabled/Testing default to
// true when left nil, per spec §4.2.
type CreateInput struct {
	ID                 string
	TenantID           string
	Name               string
	Description        string
	Category           []string
	Triggers           core.Triggers
	Priority           int
	Enabled            *bool
	Testing            *bool
	ParameterSchema    core.ParameterSchema
	ExecutionScript    string
	GenerationMetadata *core.GenerationMetadata
}

// UpdateInput is a partial patch; nil fields are left unchanged. Category
// and ParameterSchema use nil-means-unchanged, non-nil (including empty)
// means replace.
type UpdateInput struct {
	Name            *string
	Description     *string
	Category        []string
	Triggers        *core.Triggers
	Priority        *int
	Enabled         *bool
	Testing         *bool
	ParameterSchema core.ParameterSchema
	ExecutionScript *string

	// RepairEvent, when set, records a Repair Engine patch: RepairAttempts
	// is incremented, LastRepaired is stamped, and the event is appended to
	// AutoRepairHistory.
	RepairEvent *core.AutoRepairEvent
}

// Repository is the Template Repository contract.
type Repository interface {
	Get(ctx context.Context, tenantID, templateID string) (*core.Template, error)
	List(ctx context.Context, tenantID string, activeOnly bool) ([]*core.Template, error)
	Create(ctx context.Context, in CreateInput) (*core.Template, error)
	Update(ctx context.Context, tenantID, templateID string, patch UpdateInput) (*core.Template, error)
	Delete(ctx context.Context, tenantID, templateID string) error
	SetEnabled(ctx context.Context, tenantID, templateID string, enabled bool) error
	GetByCategory(ctx context.Context, tenantID, category string) ([]*core.Template, error)
}

type cacheEntry struct {
	template  *core.Template
	expiresAt time.Time
}

// DocstoreRepository implements Repository atop docstore.Store, an
// embedding.Client, and the Sandbox Runtime's validator/compiler.
type DocstoreRepository struct {
	docs     docstore.Store
	embedder embedding.Client
	policy   *sandbox.PolicyConfig
	compiler cacheInvalidator
	logger   core.Logger
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]*cacheEntry
}

// New constructs a DocstoreRepository. compiler may be nil if no Sandbox
// Runtime compiler is wired yet (e.g. in tests); in that case cache flush
// on write is skipped.
func New(docs docstore.Store, embedder embedding.Client, policy *sandbox.PolicyConfig, compiler cacheInvalidator, logger core.Logger, cfg *Config) *DocstoreRepository {
	if policy == nil {
		policy = sandbox.DefaultPolicyConfig()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("templates")
	}
	return &DocstoreRepository{
		docs:     docs,
		embedder: embedder,
		policy:   policy,
		compiler: compiler,
		logger:   logger,
		cacheTTL: cfg.CacheTTL,
		cache:    map[string]*cacheEntry{},
	}
}

func docKey(tenantID, templateID string) string {
	return tenantID + ":" + templateID
}

func (r *DocstoreRepository) Get(ctx context.Context, tenantID, templateID string) (*core.Template, error) {
	key := docKey(tenantID, templateID)

	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.template, nil
	}

	tpl, err := r.fetch(ctx, tenantID, templateID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = &cacheEntry{template: tpl, expiresAt: time.Now().Add(r.cacheTTL)}
	r.mu.Unlock()
	return tpl, nil
}

func (r *DocstoreRepository) fetch(ctx context.Context, tenantID, templateID string) (*core.Template, error) {
	var tpl core.Template
	if err := r.docs.Get(ctx, collection, docKey(tenantID, templateID), &tpl); err != nil {
		return nil, fmt.Errorf("templates: get %s: %w", templateID, err)
	}
	return &tpl, nil
}

func (r *DocstoreRepository) List(ctx context.Context, tenantID string, activeOnly bool) ([]*core.Template, error) {
	filters := []docstore.Predicate{{Field: "tenant_id", Equals: tenantID}}
	if activeOnly {
		filters = append(filters, docstore.Predicate{Field: "enabled", Equals: true})
	}
	docs, err := r.docs.List(ctx, collection, filters)
	if err != nil {
		return nil, fmt.Errorf("templates: list: %w", err)
	}
	return decodeAll(docs)
}

func (r *DocstoreRepository) GetByCategory(ctx context.Context, tenantID, category string) ([]*core.Template, error) {
	all, err := r.List(ctx, tenantID, false)
	if err != nil {
		return nil, err
	}
	var out []*core.Template
	for _, tpl := range all {
		for _, c := range tpl.Category {
			if c == category {
				out = append(out, tpl)
				break
			}
		}
	}
	return out, nil
}

func (r *DocstoreRepository) Create(ctx context.Context, in CreateInput) (*core.Template, error) {
	validated, err := sandbox.ValidateAndPrepareScript(in.ExecutionScript, in.ID, r.policy)
	if err != nil {
		return nil, fmt.Errorf("templates: validate %s: %w", in.ID, err)
	}
	if !validated.Valid {
		return nil, fmt.Errorf("templates: %s failed validation: %s", in.ID, validated.Error)
	}

	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}
	testing := true
	if in.Testing != nil {
		testing = *in.Testing
	}

	now := time.Now().UTC()
	tpl := &core.Template{
		ID:                 in.ID,
		TenantID:           in.TenantID,
		Name:               in.Name,
		Description:        in.Description,
		Category:           in.Category,
		Triggers:           in.Triggers,
		Priority:           in.Priority,
		Enabled:            enabled,
		Testing:            testing,
		ParameterSchema:    in.ParameterSchema,
		ExecutionScript:    validated.Script,
		ScriptValidated:    true,
		ScriptEscaped:      validated.Escaped,
		CreatedAt:          now,
		UpdatedAt:          now,
		GenerationMetadata: in.GenerationMetadata,
	}

	if err := r.embed(ctx, tpl); err != nil {
		return nil, err
	}

	if err := r.docs.CreateUnique(ctx, collection, docKey(in.TenantID, in.ID), tpl); err != nil {
		return nil, fmt.Errorf("templates: create %s: %w", in.ID, err)
	}

	r.flush(in.TenantID, in.ID)
	return tpl, nil
}

func (r *DocstoreRepository) Update(ctx context.Context, tenantID, templateID string, patch UpdateInput) (*core.Template, error) {
	tpl, err := r.fetch(ctx, tenantID, templateID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		tpl.Name = *patch.Name
	}
	if patch.Description != nil {
		tpl.Description = *patch.Description
	}
	if patch.Category != nil {
		tpl.Category = patch.Category
	}
	if patch.Triggers != nil {
		tpl.Triggers = *patch.Triggers
	}
	if patch.Priority != nil {
		tpl.Priority = *patch.Priority
	}
	if patch.Enabled != nil {
		tpl.Enabled = *patch.Enabled
	}
	if patch.Testing != nil {
		tpl.Testing = *patch.Testing
	}
	if patch.ParameterSchema != nil {
		tpl.ParameterSchema = patch.ParameterSchema
	}

	if patch.ExecutionScript != nil {
		validated, err := sandbox.ValidateAndPrepareScript(*patch.ExecutionScript, templateID, r.policy)
		if err != nil {
			return nil, fmt.Errorf("templates: validate %s: %w", templateID, err)
		}
		if !validated.Valid {
			return nil, fmt.Errorf("templates: %s failed validation: %s", templateID, validated.Error)
		}
		tpl.ExecutionScript = validated.Script
		tpl.ScriptEscaped = validated.Escaped
		tpl.ScriptValidated = true
	}

	if patch.RepairEvent != nil {
		now := time.Now().UTC()
		tpl.LastRepaired = &now
		tpl.RepairAttempts++
		tpl.AutoRepairHistory = append(tpl.AutoRepairHistory, *patch.RepairEvent)
	}

	// Always recompute both embeddings so the search index never drifts
	// from current semantics, per spec §4.2.
	if err := r.embed(ctx, tpl); err != nil {
		return nil, err
	}
	tpl.UpdatedAt = time.Now().UTC()

	// The compiled-code cache is flushed before the write is acknowledged
	// to the caller, so a racing dispatch can never load stale code off a
	// cache hit keyed to the old (templateId, updatedAt) pair.
	r.flush(tenantID, templateID)

	if err := r.docs.Put(ctx, collection, docKey(tenantID, templateID), tpl); err != nil {
		return nil, fmt.Errorf("templates: update %s: %w", templateID, err)
	}

	return tpl, nil
}

func (r *DocstoreRepository) SetEnabled(ctx context.Context, tenantID, templateID string, enabled bool) error {
	tpl, err := r.fetch(ctx, tenantID, templateID)
	if err != nil {
		return err
	}
	tpl.Enabled = enabled
	tpl.UpdatedAt = time.Now().UTC()
	if err := r.docs.Put(ctx, collection, docKey(tenantID, templateID), tpl); err != nil {
		return fmt.Errorf("templates: set enabled %s: %w", templateID, err)
	}
	r.flush(tenantID, templateID)
	return nil
}

func (r *DocstoreRepository) Delete(ctx context.Context, tenantID, templateID string) error {
	if err := r.docs.Delete(ctx, collection, docKey(tenantID, templateID)); err != nil {
		return fmt.Errorf("templates: delete %s: %w", templateID, err)
	}
	r.flush(tenantID, templateID)
	return nil
}

func (r *DocstoreRepository) embed(ctx context.Context, tpl *core.Template) error {
	nameEmb, err := r.embedder.Embed(ctx, tpl.Name)
	if err != nil {
		return fmt.Errorf("templates: embed name for %s: %w", tpl.ID, err)
	}
	fullEmb, err := r.embedder.Embed(ctx, tpl.Name+" "+tpl.Description)
	if err != nil {
		return fmt.Errorf("templates: embed description for %s: %w", tpl.ID, err)
	}
	tpl.NameEmbedding = nameEmb
	tpl.Embedding = fullEmb
	return nil
}

func (r *DocstoreRepository) flush(tenantID, templateID string) {
	r.mu.Lock()
	delete(r.cache, docKey(tenantID, templateID))
	r.mu.Unlock()
	if r.compiler != nil {
		r.compiler.Invalidate(templateID)
	}
}

func decodeAll(docs []docstore.ScoredDocument) ([]*core.Template, error) {
	out := make([]*core.Template, 0, len(docs))
	for _, d := range docs {
		tpl, err := decodeTemplate(d.Document)
		if err != nil {
			continue
		}
		out = append(out, tpl)
	}
	return out, nil
}
