// Package ha serializes schema migration when several autoload servers share
// one database.
package ha

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LockConfig holds configuration for the migration lock.
type LockConfig struct {
	// Enabled controls whether migrations run under the lock at all.
	Enabled bool

	// Name identifies the lock. PostgreSQL hashes it into an advisory lock id;
	// other databases use it as the lock row id.
	Name string

	// MaxRetries bounds the table-lock acquisition attempts.
	MaxRetries int

	// RetryInterval is the pause between table-lock attempts.
	RetryInterval time.Duration

	// StaleAfter is the age past which a table lock left by a crashed holder
	// is removed.
	StaleAfter time.Duration

	// Identity is recorded as the lock holder. Defaults to the hostname.
	Identity string
}

// DefaultLockConfig returns a LockConfig with sensible defaults.
func DefaultLockConfig() *LockConfig {
	return &LockConfig{
		Enabled:       true,
		Name:          "autoload-migration",
		MaxRetries:    30,
		RetryInterval: time.Second,
		StaleAfter:    5 * time.Minute,
		Identity:      defaultIdentity(),
	}
}

// LockConfigFromEnv reads lock configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - AUTOLOAD_MIGRATION_LOCK_ENABLED: "true" or "false" (default: "true")
//   - AUTOLOAD_MIGRATION_LOCK_RETRIES: attempts (default: 30)
//   - AUTOLOAD_MIGRATION_LOCK_STALE_SECONDS: seconds (default: 300)
//   - HOSTNAME: holder identity
func LockConfigFromEnv() *LockConfig {
	cfg := DefaultLockConfig()

	if v := os.Getenv("AUTOLOAD_MIGRATION_LOCK_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("AUTOLOAD_MIGRATION_LOCK_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("AUTOLOAD_MIGRATION_LOCK_STALE_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.StaleAfter = time.Duration(secs) * time.Second
		}
	}

	return cfg
}

func defaultIdentity() string {
	if v := os.Getenv("HOSTNAME"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "unknown"
	}
	return hostname
}
