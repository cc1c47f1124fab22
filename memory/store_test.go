package memory

import (
	"context"
	"testing"

	"github.com/deepauras/auroraflow/core"
	"github.com/deepauras/auroraflow/docstore"
)

type fakeDocs struct {
	docs map[string]map[string]interface{}
}

func newFakeDocs() *fakeDocs { return &fakeDocs{docs: map[string]map[string]interface{}{}} }

func fullKey(collection, key string) string { return collection + "/" + key }

func (f *fakeDocs) Get(ctx context.Context, collection, key string, out interface{}) error {
	return docstore.ErrNotFound
}

func (f *fakeDocs) Put(ctx context.Context, collection, key string, doc interface{}) error {
	mem, ok := doc.(*core.ReasoningMemory)
	if !ok {
		return nil
	}
	f.docs[fullKey(collection, key)] = map[string]interface{}{
		"id":                     mem.ID,
		"title":                  mem.Title,
		"description":            mem.Description,
		"content":                mem.Content,
		"category":               string(mem.Category),
		"template_id":            mem.TemplateID,
		"embedding":              toInterfaceSlice(mem.Embedding),
		"times_retrieved":        float64(mem.TimesRetrieved),
		"times_used_in_success":  float64(mem.TimesUsedInSuccess),
		"times_used_in_failure":  float64(mem.TimesUsedInFailure),
	}
	return nil
}

func toInterfaceSlice(v []float32) []interface{} {
	out := make([]interface{}, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func (f *fakeDocs) CreateUnique(ctx context.Context, collection, key string, doc interface{}) error {
	return f.Put(ctx, collection, key, doc)
}

func (f *fakeDocs) Delete(ctx context.Context, collection, key string) error {
	delete(f.docs, fullKey(collection, key))
	return nil
}

func (f *fakeDocs) UpdateConditional(ctx context.Context, collection, key string, mutate func(map[string]interface{}) ([]docstore.FieldOp, error)) error {
	fk := fullKey(collection, key)
	current, ok := f.docs[fk]
	if !ok {
		return docstore.ErrNotFound
	}
	ops, err := mutate(current)
	if err != nil {
		return err
	}
	for _, op := range ops {
		switch op.Kind {
		case docstore.OpIncrement:
			existing, _ := current[op.Field].(float64)
			delta, _ := op.Value.(float64)
			current[op.Field] = existing + delta
		case docstore.OpSet:
			current[op.Field] = op.Value
		case docstore.OpArrayUnion:
			arr, _ := current[op.Field].([]interface{})
			current[op.Field] = append(arr, op.Value)
		}
	}
	return nil
}

func (f *fakeDocs) List(ctx context.Context, collection string, filters []docstore.Predicate) ([]docstore.ScoredDocument, error) {
	var out []docstore.ScoredDocument
	prefix := collection + "/"
	for k, v := range f.docs {
		if len(k) < len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		out = append(out, docstore.ScoredDocument{Key: k[len(prefix):], Document: v})
	}
	return out, nil
}

func (f *fakeDocs) VectorSearch(ctx context.Context, q docstore.VectorQuery) ([]docstore.ScoredDocument, error) {
	var out []docstore.ScoredDocument
	for k, v := range f.docs {
		if len(k) < len(q.Collection) || k[:len(q.Collection)] != q.Collection {
			continue
		}
		out = append(out, docstore.ScoredDocument{
			Key:      k[len(q.Collection)+1:],
			Document: v,
			Score:    1.0,
		})
	}
	if q.K > 0 && len(out) > q.K {
		out = out[:q.K]
	}
	return out, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (fakeEmbedder) Dimensions() int { return 3 }

func TestDocstoreStore_AddAndRetrieve(t *testing.T) {
	docs := newFakeDocs()
	store := New(docs, fakeEmbedder{}, nil, 4)
	ctx := context.Background()

	mem := &core.ReasoningMemory{
		ID:                 "m1",
		Title:              "timeout fix",
		Description:        "retry with backoff",
		Category:           core.MemoryCategoryFixStrategy,
		TimesUsedInSuccess: 3,
	}
	if err := store.Add(ctx, "tenant-1", mem); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := store.Retrieve(ctx, RetrieveQuery{
		TenantID:   "tenant-1",
		QueryText:  "timeout",
		Categories: []core.MemoryCategory{core.MemoryCategoryFixStrategy},
		TopK:       5,
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 || results[0].ID != "m1" {
		t.Fatalf("expected 1 result m1, got %+v", results)
	}
	if results[0].TimesRetrieved != 1 {
		t.Errorf("expected TimesRetrieved incremented to 1, got %d", results[0].TimesRetrieved)
	}
}

func TestDocstoreStore_RetrieveFiltersByCategory(t *testing.T) {
	docs := newFakeDocs()
	store := New(docs, fakeEmbedder{}, nil, 4)
	ctx := context.Background()

	store.Add(ctx, "tenant-1", &core.ReasoningMemory{ID: "a", Category: core.MemoryCategoryErrorPattern})
	store.Add(ctx, "tenant-1", &core.ReasoningMemory{ID: "b", Category: core.MemoryCategoryFixStrategy})

	results, err := store.Retrieve(ctx, RetrieveQuery{
		TenantID:   "tenant-1",
		QueryText:  "x",
		Categories: []core.MemoryCategory{core.MemoryCategoryFixStrategy},
		TopK:       5,
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 || results[0].ID != "b" {
		t.Fatalf("expected only 'b', got %+v", results)
	}
}

func TestDocstoreStore_RetrieveFiltersByMinSuccessRate(t *testing.T) {
	docs := newFakeDocs()
	store := New(docs, fakeEmbedder{}, nil, 4)
	ctx := context.Background()

	store.Add(ctx, "tenant-1", &core.ReasoningMemory{ID: "low", TimesUsedInSuccess: 1, TimesUsedInFailure: 9})
	store.Add(ctx, "tenant-1", &core.ReasoningMemory{ID: "high", TimesUsedInSuccess: 9, TimesUsedInFailure: 1})

	results, err := store.Retrieve(ctx, RetrieveQuery{
		TenantID:       "tenant-1",
		QueryText:      "x",
		MinSuccessRate: 0.5,
		TopK:           5,
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 || results[0].ID != "high" {
		t.Fatalf("expected only 'high', got %+v", results)
	}
}

func TestDocstoreStore_UpdateStatistics(t *testing.T) {
	docs := newFakeDocs()
	store := New(docs, fakeEmbedder{}, nil, 4)
	ctx := context.Background()

	store.Add(ctx, "tenant-1", &core.ReasoningMemory{ID: "m1"})
	if err := store.UpdateStatistics(ctx, "tenant-1", []string{"m1"}, true); err != nil {
		t.Fatalf("UpdateStatistics: %v", err)
	}

	results, err := store.Retrieve(ctx, RetrieveQuery{TenantID: "tenant-1", QueryText: "x", TopK: 5})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 || results[0].TimesUsedInSuccess != 1 {
		t.Fatalf("expected TimesUsedInSuccess=1, got %+v", results)
	}
}
