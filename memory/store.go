// Package memory implements the Memory Store (MS): add/retrieve/rank
// vector reasoning memories with success-rate statistics, backed by the
// Document Store's vector search and the Embedding Service.
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/deepauras/auroraflow/core"
	"github.com/deepauras/auroraflow/docstore"
	"github.com/deepauras/auroraflow/embedding"
)

const collection = "reasoning_memories"

// RetrieveQuery describes one similarity-ranked memory lookup.
type RetrieveQuery struct {
	TenantID       string
	QueryText      string
	Categories     []core.MemoryCategory
	TemplateID     string // optional: restrict to memories scoped to one template
	MinSuccessRate float64
	TopK           int
}

// Store is the Memory Store contract.
type Store interface {
	// Add persists a new reasoning memory, embedding it from its
	// title/description/content.
	Add(ctx context.Context, tenantID string, mem *core.ReasoningMemory) error

	// Retrieve ranks stored memories by cosine similarity to an embedding
	// of query.QueryText, filtered by category set, template scope, and
	// minimum success rate, incrementing TimesRetrieved on every memory
	// returned.
	Retrieve(ctx context.Context, query RetrieveQuery) ([]*core.ReasoningMemory, error)

	// UpdateStatistics adjusts success/failure counters for each memory
	// id, recomputing SuccessRate implicitly (spec §3: never written
	// directly).
	UpdateStatistics(ctx context.Context, tenantID string, ids []string, success bool) error
}

// DocstoreStore implements Store atop docstore.Store and an
// embedding.Client.
type DocstoreStore struct {
	docs      docstore.Store
	embedder  embedding.Client
	logger    core.Logger
	overfetch int
}

// New constructs a DocstoreStore. overfetchFactor controls how many
// candidates VectorSearch is asked for per requested result before
// category/success-rate filtering narrows them (default 4).
func New(docs docstore.Store, embedder embedding.Client, logger core.Logger, overfetchFactor int) *DocstoreStore {
	if overfetchFactor <= 0 {
		overfetchFactor = 4
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("memory")
	}
	return &DocstoreStore{docs: docs, embedder: embedder, logger: logger, overfetch: overfetchFactor}
}

func memoryKey(tenantID, memoryID string) string {
	return fmt.Sprintf("%s:%s", tenantID, memoryID)
}

func (s *DocstoreStore) Add(ctx context.Context, tenantID string, mem *core.ReasoningMemory) error {
	text := strings.Join([]string{mem.Title, mem.Description, mem.Content}, " ")
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("memory: embed: %w", err)
	}
	mem.Embedding = vec

	if err := s.docs.Put(ctx, collection, memoryKey(tenantID, mem.ID), mem); err != nil {
		return fmt.Errorf("memory: add: %w", err)
	}
	return nil
}

func (s *DocstoreStore) Retrieve(ctx context.Context, q RetrieveQuery) ([]*core.ReasoningMemory, error) {
	if q.TopK <= 0 {
		q.TopK = 5
	}
	vec, err := s.embedder.Embed(ctx, q.QueryText)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	filters := []docstore.Predicate{}
	if q.TemplateID != "" {
		filters = append(filters, docstore.Predicate{Field: "template_id", Equals: q.TemplateID})
	}

	scored, err := s.docs.VectorSearch(ctx, docstore.VectorQuery{
		Collection: collection,
		Field:      "embedding",
		Vector:     vec,
		K:          q.TopK * s.overfetch,
		Filters:    filters,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: vector search: %w", err)
	}

	allowedCategory := make(map[core.MemoryCategory]bool, len(q.Categories))
	for _, c := range q.Categories {
		allowedCategory[c] = true
	}

	var out []*core.ReasoningMemory
	for _, sd := range scored {
		if !strings.HasPrefix(sd.Key, q.TenantID+":") {
			continue
		}
		mem, err := decodeMemory(sd.Document)
		if err != nil {
			s.logger.Warn("memory: skipping undecodable record", map[string]interface{}{"key": sd.Key, "error": err.Error()})
			continue
		}
		if len(allowedCategory) > 0 && !allowedCategory[mem.Category] {
			continue
		}
		if rate, ok := mem.SuccessRate(); ok && rate < q.MinSuccessRate {
			continue
		}
		out = append(out, mem)
		if len(out) >= q.TopK {
			break
		}
	}

	if len(out) > 0 {
		ids := make([]string, len(out))
		for i, m := range out {
			ids[i] = m.ID
			m.TimesRetrieved++
		}
		if err := s.touchRetrieved(ctx, q.TenantID, ids); err != nil {
			s.logger.Warn("memory: failed to record retrieval counts", map[string]interface{}{"error": err.Error()})
		}
	}

	return out, nil
}

func (s *DocstoreStore) touchRetrieved(ctx context.Context, tenantID string, ids []string) error {
	var firstErr error
	for _, id := range ids {
		err := s.docs.UpdateConditional(ctx, collection, memoryKey(tenantID, id), func(current map[string]interface{}) ([]docstore.FieldOp, error) {
			return []docstore.FieldOp{{Field: "times_retrieved", Kind: docstore.OpIncrement, Value: float64(1)}}, nil
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *DocstoreStore) UpdateStatistics(ctx context.Context, tenantID string, ids []string, success bool) error {
	field := "times_used_in_failure"
	if success {
		field = "times_used_in_success"
	}
	var firstErr error
	for _, id := range ids {
		err := s.docs.UpdateConditional(ctx, collection, memoryKey(tenantID, id), func(current map[string]interface{}) ([]docstore.FieldOp, error) {
			return []docstore.FieldOp{{Field: field, Kind: docstore.OpIncrement, Value: float64(1)}}, nil
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			s.logger.Error("memory: failed to update statistics", map[string]interface{}{"id": id, "error": err.Error()})
		}
	}
	return firstErr
}

func decodeMemory(doc map[string]interface{}) (*core.ReasoningMemory, error) {
	mem := &core.ReasoningMemory{}
	mem.ID, _ = doc["id"].(string)
	mem.Title, _ = doc["title"].(string)
	mem.Description, _ = doc["description"].(string)
	mem.Content, _ = doc["content"].(string)
	mem.Source, _ = doc["source"].(string)
	if cat, ok := doc["category"].(string); ok {
		mem.Category = core.MemoryCategory(cat)
	}
	mem.TemplateID, _ = doc["template_id"].(string)
	mem.TaskID, _ = doc["task_id"].(string)
	mem.TimesRetrieved = intFromAny(doc["times_retrieved"])
	mem.TimesUsedInSuccess = intFromAny(doc["times_used_in_success"])
	mem.TimesUsedInFailure = intFromAny(doc["times_used_in_failure"])
	return mem, nil
}

func intFromAny(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
