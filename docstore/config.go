package docstore

// Config configures a RedisStore.
type Config struct {
	// KeyPrefix namespaces every key this store touches.
	// Default: "auroraflow:docstore"
	KeyPrefix string `json:"key_prefix"`

	// MaxOptimisticRetries bounds UpdateConditional's internal
	// read-mutate-WATCH retry loop before giving up with
	// ErrConditionFailed.
	// Default: 5
	MaxOptimisticRetries int `json:"max_optimistic_retries"`
}

// DefaultConfig returns the store's default configuration.
func DefaultConfig() *Config {
	return &Config{
		KeyPrefix:            "auroraflow:docstore",
		MaxOptimisticRetries: 5,
	}
}

func (c *Config) applyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "auroraflow:docstore"
	}
	if c.MaxOptimisticRetries <= 0 {
		c.MaxOptimisticRetries = 5
	}
}
