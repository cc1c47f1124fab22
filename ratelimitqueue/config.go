package ratelimitqueue

import (
	"os"
	"strconv"
	"time"
)

// Config configures one provider's RLQ instance. Defaults follow spec §4.1:
// "typical of CRM limits: ~2/s, ~10_000/10 min".
type Config struct {
	// PerSecondLimit is the rolling token-bucket rate (R dispatches/second).
	PerSecondLimit int

	// WindowLimit is the long-window cap (W dispatches per WindowDuration).
	WindowLimit    int
	WindowDuration time.Duration

	// MaxRetries bounds 429 backoff retries within a single Enqueue call.
	MaxRetries int

	// BackoffBase/BackoffCap bound the exponential backoff on 429.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// QueueDepth is carried on the config but Queue does not read it:
	// Enqueue never blocks on queue depth and the waiter heap is unbounded.
	QueueDepth int
}

// DefaultConfig returns the spec's stated CRM-typical defaults, overridable
// per provider via functional options or environment variables.
func DefaultConfig() *Config {
	return &Config{
		PerSecondLimit: 2,
		WindowLimit:    10000,
		WindowDuration: 10 * time.Minute,
		MaxRetries:     3,
		BackoffBase:    1 * time.Second,
		BackoffCap:     30 * time.Second,
		QueueDepth:     1000,
	}
}

// Option configures a Config.
type Option func(*Config)

func WithPerSecondLimit(n int) Option        { return func(c *Config) { c.PerSecondLimit = n } }
func WithWindowLimit(n int, d time.Duration) Option {
	return func(c *Config) { c.WindowLimit = n; c.WindowDuration = d }
}
func WithMaxRetries(n int) Option { return func(c *Config) { c.MaxRetries = n } }
func WithBackoff(base, cap time.Duration) Option {
	return func(c *Config) { c.BackoffBase = base; c.BackoffCap = cap }
}
func WithQueueDepth(n int) Option { return func(c *Config) { c.QueueDepth = n } }

// LoadFromEnv overlays provider-prefixed environment variables onto a
// DefaultConfig, mirroring the three-layer priority (defaults < env <
// functional options) the teacher's core.Config uses.
func LoadFromEnv(providerPrefix string) *Config {
	cfg := DefaultConfig()
	if v := os.Getenv(providerPrefix + "_RLQ_PER_SECOND"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PerSecondLimit = n
		}
	}
	if v := os.Getenv(providerPrefix + "_RLQ_WINDOW_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WindowLimit = n
		}
	}
	if v := os.Getenv(providerPrefix + "_RLQ_WINDOW_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WindowDuration = d
		}
	}
	if v := os.Getenv(providerPrefix + "_RLQ_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}
	return cfg
}
