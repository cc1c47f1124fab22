package embedding

import (
	"context"
	"math"
	"testing"
)

func TestHashClient_Deterministic(t *testing.T) {
	c := NewHashClient(64)
	v1, err := c.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	v2, err := c.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("expected identical vectors for same text, diverged at index %d: %f vs %f", i, v1[i], v2[i])
		}
	}
}

func TestHashClient_DimensionsMatchConfig(t *testing.T) {
	c := NewHashClient(128)
	v, err := c.Embed(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v) != 128 {
		t.Fatalf("expected 128 dims, got %d", len(v))
	}
	if c.Dimensions() != 128 {
		t.Fatalf("Dimensions() = %d, want 128", c.Dimensions())
	}
}

func TestHashClient_DistinctTextsDiffer(t *testing.T) {
	c := NewHashClient(64)
	v1, _ := c.Embed(context.Background(), "alpha")
	v2, _ := c.Embed(context.Background(), "beta")

	var dot float64
	for i := range v1 {
		dot += float64(v1[i]) * float64(v2[i])
	}
	if math.Abs(dot) > 0.9 {
		t.Errorf("expected distinct texts to diverge, cosine-ish dot = %f", dot)
	}
}

func TestHashClient_IsUnitNormalized(t *testing.T) {
	c := NewHashClient(64)
	v, _ := c.Embed(context.Background(), "normalize me")
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1.0) > 1e-6 {
		t.Errorf("expected unit norm, got %f", norm)
	}
}
