package executor

import "testing"

func TestCapabilities_ValidateModelPassesThroughAllowedModel(t *testing.T) {
	caps := NewCapabilities(nil, nil, nil, nil, nil, nil,
		WithAllowedModels("gemini-2.0-flash", "gemini-2.0-pro"),
		WithDefaultModel("gemini-2.0-flash"))

	if got := caps.validateModel("gemini-2.0-pro"); got != "gemini-2.0-pro" {
		t.Fatalf("expected allowed model to pass through, got %q", got)
	}
}

func TestCapabilities_ValidateModelRewritesUnknownModel(t *testing.T) {
	caps := NewCapabilities(nil, nil, nil, nil, nil, nil,
		WithAllowedModels("gemini-2.0-flash"),
		WithDefaultModel("gemini-2.0-flash"))

	if got := caps.validateModel("made-up-model"); got != "gemini-2.0-flash" {
		t.Fatalf("expected unknown model rewritten to default, got %q", got)
	}
	if got := caps.validateModel(""); got != "gemini-2.0-flash" {
		t.Fatalf("expected empty model rewritten to default, got %q", got)
	}
}

func TestCapabilities_ValidateModelPassesThroughWhenNoAllowListConfigured(t *testing.T) {
	caps := NewCapabilities(nil, nil, nil, nil, nil, nil)

	if got := caps.validateModel("anything"); got != "anything" {
		t.Fatalf("expected pass-through with empty allow-list, got %q", got)
	}
}

func TestCapabilities_CollectionAccessLookup(t *testing.T) {
	caps := NewCapabilities(nil, nil, nil, nil, nil, nil,
		WithCollectionAccess(CollectionAccess{Collection: "customers", ReadOnly: true, ReadPerMinute: 100}),
	)

	access, ok := caps.collectionAccess("customers")
	if !ok || !access.ReadOnly || access.ReadPerMinute != 100 {
		t.Fatalf("unexpected collection access: %+v, ok=%v", access, ok)
	}

	if _, ok := caps.collectionAccess("unknown"); ok {
		t.Fatalf("expected lookup miss for unregistered collection")
	}
}

func TestCapabilities_QueueForMissingProvider(t *testing.T) {
	caps := NewCapabilities(nil, nil, nil, nil, nil, nil)
	if _, ok := caps.queueFor("crm"); ok {
		t.Fatalf("expected no queue registered")
	}
}
