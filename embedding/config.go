package embedding

import (
	"os"
	"time"
)

// Config configures an HTTPClient.
type Config struct {
	// BaseURL is the OpenAI-compatible embeddings endpoint root.
	// Default: "https://api.openai.com/v1"
	BaseURL string

	// APIKey authenticates the request.
	APIKey string

	// Model selects the embedding model.
	// Default: "text-embedding-3-small"
	Model string

	// Dims is the expected output vector length for Model.
	// Default: 1536 (text-embedding-3-small)
	Dims int

	// Timeout bounds one embedding request.
	// Default: 30s
	Timeout time.Duration

	// MaxRetries bounds retry attempts on transient failures.
	// Default: 3
	MaxRetries int
}

// DefaultConfig returns sane defaults matching the teacher's
// ai/providers/openai conventions (180s is reasoning-model specific;
// embeddings calls are short, so this uses a tighter timeout).
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "https://api.openai.com/v1",
		Model:      "text-embedding-3-small",
		Dims:       1536,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

// LoadFromEnv overlays EMBEDDING_-prefixed environment variables onto a
// DefaultConfig; unset or empty variables keep the default values.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	if v := os.Getenv("EMBEDDING_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Model = v
	}
	return cfg
}
