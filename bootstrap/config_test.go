package bootstrap

import (
	"os"
	"testing"
)

func clearBootstrapEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"AUR_SERVICE_NAME", "REDIS_URL", "AUR_SANDBOX_BUILD_DIR",
		"AUR_USE_HASH_EMBEDDER", "OPENAI_API_KEY", "GOMIND_LOG_LEVEL",
		"GOMIND_DEV_MODE", "EMBEDDING_BASE_URL", "EMBEDDING_API_KEY",
		"EMBEDDING_MODEL", "OBJECTSTORE_BUCKET", "AWS_REGION",
	}
	for _, v := range vars {
		old, had := os.LookupEnv(v)
		os.Unsetenv(v)
		t.Cleanup(func() {
			if had {
				os.Setenv(v, old)
			}
		})
	}
}

func TestDefaultConfig_UsesHashEmbedderByDefault(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.UseHashEmbedder {
		t.Fatalf("expected DefaultConfig to default to the hash embedder")
	}
	if cfg.Orchestrator == nil || cfg.Docstore == nil || cfg.Embedding == nil || cfg.ObjectStore == nil || cfg.SandboxPolicy == nil || cfg.Templates == nil {
		t.Fatalf("expected every sub-component config to be populated, got %+v", cfg)
	}
}

func TestLoadFromEnv_SwitchesToHTTPEmbedderWhenAPIKeyPresent(t *testing.T) {
	clearBootstrapEnv(t)
	os.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := LoadFromEnv()
	if cfg.UseHashEmbedder {
		t.Fatalf("expected OPENAI_API_KEY presence to switch off the hash embedder")
	}
	if cfg.OpenAIAPIKey != "sk-test" {
		t.Fatalf("expected OpenAIAPIKey to be read from the environment, got %q", cfg.OpenAIAPIKey)
	}
}

func TestLoadFromEnv_ExplicitHashEmbedderPinOverridesAPIKeyPresence(t *testing.T) {
	clearBootstrapEnv(t)
	os.Setenv("OPENAI_API_KEY", "sk-test")
	os.Setenv("AUR_USE_HASH_EMBEDDER", "true")

	cfg := LoadFromEnv()
	if !cfg.UseHashEmbedder {
		t.Fatalf("expected an explicit AUR_USE_HASH_EMBEDDER=true to stick even with an API key present")
	}
}

func TestLoadFromEnv_OverridesServiceNameAndRedisURL(t *testing.T) {
	clearBootstrapEnv(t)
	os.Setenv("AUR_SERVICE_NAME", "auroraflow-test")
	os.Setenv("REDIS_URL", "redis://example:6380")

	cfg := LoadFromEnv()
	if cfg.ServiceName != "auroraflow-test" {
		t.Fatalf("expected overridden service name, got %q", cfg.ServiceName)
	}
	if cfg.RedisURL != "redis://example:6380" {
		t.Fatalf("expected overridden redis url, got %q", cfg.RedisURL)
	}
}
