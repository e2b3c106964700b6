package jobs

import (
	"os"
	"strconv"
	"time"
)

// JobConfig controls task queue and worker behavior.
type JobConfig struct {
	Concurrency   int           // Max concurrent workers. Default 3.
	MaxRetries    int           // Max retry attempts per task. Default 3.
	PollInterval  time.Duration // How often workers poll for new tasks. Default 1s.
	ClaimTimeout  time.Duration // Max time a task can be in "running" before considered stuck. Default 10m.
	RetentionDays int           // How long to keep finished tasks. Default 7.
	BatchSize     int           // Rows written per batch by the raw save task. Default 100.
	Enabled       bool          // Whether the workers run. Default true.
}

// DefaultJobConfig returns the default job configuration.
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		Concurrency:   3,
		MaxRetries:    3,
		PollInterval:  time.Second,
		ClaimTimeout:  10 * time.Minute,
		RetentionDays: 7,
		BatchSize:     100,
		Enabled:       true,
	}
}

// JobConfigFromEnv loads config from environment variables.
// AUTOLOAD_JOB_CONCURRENCY, AUTOLOAD_JOB_MAX_RETRIES, AUTOLOAD_JOB_POLL_INTERVAL_MS,
// AUTOLOAD_JOB_CLAIM_TIMEOUT_MINUTES, AUTOLOAD_JOB_RETENTION_DAYS, AUTOLOAD_JOB_BATCH_SIZE,
// AUTOLOAD_JOB_ENABLED
func JobConfigFromEnv() *JobConfig {
	cfg := DefaultJobConfig()

	if v := os.Getenv("AUTOLOAD_JOB_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}

	if v := os.Getenv("AUTOLOAD_JOB_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}

	if v := os.Getenv("AUTOLOAD_JOB_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Millisecond
		}
	}

	if v := os.Getenv("AUTOLOAD_JOB_CLAIM_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ClaimTimeout = time.Duration(n) * time.Minute
		}
	}

	if v := os.Getenv("AUTOLOAD_JOB_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetentionDays = n
		}
	}

	if v := os.Getenv("AUTOLOAD_JOB_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}

	if v := os.Getenv("AUTOLOAD_JOB_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	return cfg
}
