package templates

import (
	"context"
	"testing"

	"github.com/deepauras/auroraflow/core"
	"github.com/deepauras/auroraflow/docstore"
)

type fakeStore struct {
	docs map[string]map[string]interface{}
}

func newFakeStore() *fakeStore { return &fakeStore{docs: map[string]map[string]interface{}{}} }

func (f *fakeStore) fullKey(collection, key string) string { return collection + "/" + key }

func toDoc(v interface{}) map[string]interface{} {
	switch t := v.(type) {
	case *core.Template:
		return map[string]interface{}{
			"id":          t.ID,
			"tenant_id":   t.TenantID,
			"name":        t.Name,
			"description": t.Description,
			"enabled":     t.Enabled,
			"testing":     t.Testing,
			"priority":    float64(t.Priority),
			"category":    toAnySlice(t.Category),
		}
	default:
		return nil
	}
}

func toAnySlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func (f *fakeStore) Get(ctx context.Context, collection, key string, out interface{}) error {
	doc, ok := f.docs[f.fullKey(collection, key)]
	if !ok {
		return docstore.ErrNotFound
	}
	tpl, ok := out.(*core.Template)
	if !ok {
		return nil
	}
	tpl.ID, _ = doc["id"].(string)
	tpl.TenantID, _ = doc["tenant_id"].(string)
	tpl.Name, _ = doc["name"].(string)
	tpl.Description, _ = doc["description"].(string)
	tpl.Enabled, _ = doc["enabled"].(bool)
	tpl.Testing, _ = doc["testing"].(bool)
	if p, ok := doc["priority"].(float64); ok {
		tpl.Priority = int(p)
	}
	return nil
}

func (f *fakeStore) Put(ctx context.Context, collection, key string, doc interface{}) error {
	f.docs[f.fullKey(collection, key)] = toDoc(doc)
	return nil
}

func (f *fakeStore) CreateUnique(ctx context.Context, collection, key string, doc interface{}) error {
	if _, exists := f.docs[f.fullKey(collection, key)]; exists {
		return docstore.ErrAlreadyExists
	}
	return f.Put(ctx, collection, key, doc)
}

func (f *fakeStore) Delete(ctx context.Context, collection, key string) error {
	delete(f.docs, f.fullKey(collection, key))
	return nil
}

func (f *fakeStore) UpdateConditional(ctx context.Context, collection, key string, mutate func(map[string]interface{}) ([]docstore.FieldOp, error)) error {
	return nil
}

func (f *fakeStore) VectorSearch(ctx context.Context, q docstore.VectorQuery) ([]docstore.ScoredDocument, error) {
	return nil, nil
}

func (f *fakeStore) List(ctx context.Context, collection string, filters []docstore.Predicate) ([]docstore.ScoredDocument, error) {
	var out []docstore.ScoredDocument
	prefix := collection + "/"
	for k, v := range f.docs {
		if len(k) < len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		match := true
		for _, flt := range filters {
			if v[flt.Field] != flt.Equals {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		out = append(out, docstore.ScoredDocument{Key: k[len(prefix):], Document: v})
	}
	return out, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (fakeEmbedder) Dimensions() int { return 3 }

const validScript = `package main

import "fmt"

func run() {
	fmt.Println("hello")
}
`

func TestRepository_CreateAndGet(t *testing.T) {
	store := newFakeStore()
	repo := New(store, fakeEmbedder{}, nil, nil, nil, nil)
	ctx := context.Background()

	tpl, err := repo.Create(ctx, CreateInput{
		ID:              "tpl-1",
		TenantID:        "tenant-1",
		Name:            "Daily Report",
		Description:     "generates the daily report",
		ExecutionScript: validScript,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !tpl.Enabled || !tpl.Testing {
		t.Fatalf("expected default enabled/testing true, got %+v", tpl)
	}

	got, err := repo.Get(ctx, "tenant-1", "tpl-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Daily Report" {
		t.Errorf("unexpected name: %q", got.Name)
	}
}

func TestRepository_CreateRejectsInvalidScript(t *testing.T) {
	store := newFakeStore()
	repo := New(store, fakeEmbedder{}, nil, nil, nil, nil)

	_, err := repo.Create(context.Background(), CreateInput{
		ID:              "tpl-bad",
		TenantID:        "tenant-1",
		Name:            "Bad",
		ExecutionScript: `package main

import "os"

func run() { os.Exit(1) }
`,
	})
	if err == nil {
		t.Fatal("expected validation error for disallowed import")
	}
}

func TestRepository_ListFiltersByTenantAndEnabled(t *testing.T) {
	store := newFakeStore()
	repo := New(store, fakeEmbedder{}, nil, nil, nil, nil)
	ctx := context.Background()

	disabled := false
	repo.Create(ctx, CreateInput{ID: "a", TenantID: "tenant-1", Name: "A", ExecutionScript: validScript})
	repo.Create(ctx, CreateInput{ID: "b", TenantID: "tenant-1", Name: "B", ExecutionScript: validScript, Enabled: &disabled})
	repo.Create(ctx, CreateInput{ID: "c", TenantID: "tenant-2", Name: "C", ExecutionScript: validScript})

	all, err := repo.List(ctx, "tenant-1", false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 templates for tenant-1, got %d", len(all))
	}

	active, err := repo.List(ctx, "tenant-1", true)
	if err != nil {
		t.Fatalf("List active: %v", err)
	}
	if len(active) != 1 || active[0].ID != "a" {
		t.Fatalf("expected only 'a' enabled, got %+v", active)
	}
}

func TestRepository_UpdateRecomputesEmbeddingsAndFlushesCache(t *testing.T) {
	store := newFakeStore()
	flushed := map[string]bool{}
	compiler := flushRecorder(func(id string) { flushed[id] = true })
	repo := New(store, fakeEmbedder{}, nil, compiler, nil, nil)
	ctx := context.Background()

	repo.Create(ctx, CreateInput{ID: "tpl-1", TenantID: "tenant-1", Name: "Old Name", ExecutionScript: validScript})

	newName := "New Name"
	updated, err := repo.Update(ctx, "tenant-1", "tpl-1", UpdateInput{Name: &newName})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != newName {
		t.Errorf("expected name updated, got %q", updated.Name)
	}
	if !flushed["tpl-1"] {
		t.Errorf("expected compiler cache flush for tpl-1")
	}
}

type flushRecorder func(templateID string)

func (f flushRecorder) Invalidate(templateID string) { f(templateID) }
