package progress

import (
	"os"
	"strconv"
	"time"
)

// TrackerConfig bounds the in-memory progress cache.
type TrackerConfig struct {
	TTL        time.Duration // How long an entry lives after its last update. Default 1h.
	MaxEntries int           // Entries kept before the oldest is evicted. Default 10000.
}

// DefaultTrackerConfig returns the default tracker configuration.
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		TTL:        time.Hour,
		MaxEntries: 10000,
	}
}

// TrackerConfigFromEnv loads config from environment variables.
// AUTOLOAD_PROGRESS_TTL_SECONDS, AUTOLOAD_PROGRESS_MAX_ENTRIES
func TrackerConfigFromEnv() *TrackerConfig {
	cfg := DefaultTrackerConfig()

	if v := os.Getenv("AUTOLOAD_PROGRESS_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TTL = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("AUTOLOAD_PROGRESS_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxEntries = n
		}
	}

	return cfg
}
