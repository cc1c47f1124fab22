package orchestrator

import (
	"os"
	"strconv"
	"time"
)

// Config configures the orchestrator process: its HTTP port, the Work
// Queue's Redis connection, and the worker dispatch loop's poll timeout.
type Config struct {
	Port int

	RedisURL     string
	QueueKey     string
	CancelledKey string

	DispatchPollTimeout time.Duration
}

// DefaultConfig mirrors the teacher's core.Config default-then-env-overlay
// idiom, scoped to the orchestrator's own knobs.
func DefaultConfig() *Config {
	return &Config{
		Port:                8080,
		RedisURL:            "redis://localhost:6379",
		QueueKey:            "auroraflow:wq:deliveries",
		CancelledKey:        "auroraflow:wq:cancelled",
		DispatchPollTimeout: 5 * time.Second,
	}
}

// LoadFromEnv overlays AUR_ORCH_-prefixed environment variables onto
// DefaultConfig.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("AUR_ORCH_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("AUR_ORCH_REDIS_URL"); v != "" {
		c.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("AUR_ORCH_QUEUE_KEY"); v != "" {
		c.QueueKey = v
	}
	if v := os.Getenv("AUR_ORCH_CANCELLED_KEY"); v != "" {
		c.CancelledKey = v
	}
	if v := os.Getenv("AUR_ORCH_DISPATCH_POLL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DispatchPollTimeout = d
		}
	}
}
