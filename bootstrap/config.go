// Package bootstrap wires the Document Store, Memory Store, Object Store,
// Embedding Client, AI Client, Sandbox Runtime, Repair Engine, Template
// Repository, and Task Orchestrator into one runnable process, following
// the teacher's layered config-then-construct idiom (core.Config,
// orchestrator.Config, and friends) rather than a DI container.
package bootstrap

import (
	"os"

	"github.com/deepauras/auroraflow/core"
	"github.com/deepauras/auroraflow/docstore"
	"github.com/deepauras/auroraflow/embedding"
	"github.com/deepauras/auroraflow/objectstore"
	"github.com/deepauras/auroraflow/orchestrator"
	"github.com/deepauras/auroraflow/repair"
	"github.com/deepauras/auroraflow/sandbox"
	"github.com/deepauras/auroraflow/templates"
)

// Config composes every component's own Config, plus the handful of knobs
// that decide how they are wired together.
type Config struct {
	ServiceName string

	RedisURL string

	// UseHashEmbedder swaps embedding.NewHTTPClient for embedding.NewHashClient,
	// a deterministic local embedder that needs no API key. Intended for
	// development and test environments; production should leave this false.
	UseHashEmbedder bool

	// SandboxBuildDir is where the Sandbox Runtime compiles template
	// executor plugins.
	SandboxBuildDir string

	OpenAIAPIKey string

	// OTLPEndpoint is the OTLP/HTTP collector address (host:port) used to
	// export orchestrator traces and metrics. Empty disables telemetry and
	// falls back to core.NoOpTelemetry.
	OTLPEndpoint string

	Docstore      *docstore.Config
	Embedding     *embedding.Config
	ObjectStore   *objectstore.Config
	SandboxPolicy *sandbox.PolicyConfig
	Templates     *templates.Config
	RepairLimits  repair.Limits
	Orchestrator  *orchestrator.Config

	Logging     core.LoggingConfig
	Development core.DevelopmentConfig
}

// DefaultConfig returns development-friendly defaults: a hash embedder (no
// API key required), a local sandbox build directory, and every
// sub-component's own DefaultConfig.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:     "auroraflow-orchestrator",
		RedisURL:        "redis://localhost:6379",
		UseHashEmbedder: true,
		SandboxBuildDir: "/tmp/auroraflow-sandbox-build",
		Docstore:        docstore.DefaultConfig(),
		Embedding:       embedding.DefaultConfig(),
		ObjectStore:     objectstore.LoadFromEnv(),
		SandboxPolicy:   sandbox.DefaultPolicyConfig(),
		Templates:       templates.DefaultConfig(),
		RepairLimits:    repair.DefaultLimits(),
		Orchestrator:    orchestrator.DefaultConfig(),
		Logging: core.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadFromEnv overlays process environment variables onto DefaultConfig,
// deferring to each sub-component's own LoadFromEnv for its slice of the
// configuration and only handling the bootstrap-level knobs itself.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("AUR_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("AUR_SANDBOX_BUILD_DIR"); v != "" {
		cfg.SandboxBuildDir = v
	}
	if v := os.Getenv("AUR_USE_HASH_EMBEDDER"); v != "" {
		cfg.UseHashEmbedder = v == "true"
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
		// A real API key is available; default to the HTTP embedder unless
		// the operator explicitly asked to keep using the hash embedder.
		if os.Getenv("AUR_USE_HASH_EMBEDDER") == "" {
			cfg.UseHashEmbedder = false
		}
	}
	if v := os.Getenv("GOMIND_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GOMIND_DEV_MODE"); v == "true" {
		cfg.Development.Enabled = true
		cfg.Development.PrettyLogs = true
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}

	cfg.Embedding = embedding.LoadFromEnv()
	cfg.ObjectStore = objectstore.LoadFromEnv()
	cfg.Orchestrator.LoadFromEnv()

	return cfg
}
