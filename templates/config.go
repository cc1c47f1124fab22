package templates

import "time"

// Config tunes the Template Repository's cache and the Matcher's
// deterministic fallback scoring.
type Config struct {
	// CacheTTL is how long a Get result is trusted before it is refetched,
	// regardless of writes (a write still invalidates immediately).
	CacheTTL time.Duration

	// MatchThreshold is the minimum deterministic fallback score that wins
	// a match (spec: score > 0.3).
	MatchThreshold float64
}

// DefaultConfig returns the production tuning.
func DefaultConfig() *Config {
	return &Config{
		CacheTTL:       5 * time.Minute,
		MatchThreshold: 0.3,
	}
}
