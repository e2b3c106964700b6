package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultJobConfig(t *testing.T) {
	cfg := DefaultJobConfig()
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.ClaimTimeout)
	assert.Equal(t, 7, cfg.RetentionDays)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.True(t, cfg.Enabled)
}

func TestJobConfigFromEnv(t *testing.T) {
	t.Setenv("AUTOLOAD_JOB_CONCURRENCY", "5")
	t.Setenv("AUTOLOAD_JOB_MAX_RETRIES", "0")
	t.Setenv("AUTOLOAD_JOB_POLL_INTERVAL_MS", "250")
	t.Setenv("AUTOLOAD_JOB_CLAIM_TIMEOUT_MINUTES", "30")
	t.Setenv("AUTOLOAD_JOB_RETENTION_DAYS", "14")
	t.Setenv("AUTOLOAD_JOB_BATCH_SIZE", "500")
	t.Setenv("AUTOLOAD_JOB_ENABLED", "false")

	cfg := JobConfigFromEnv()
	assert.Equal(t, 5, cfg.Concurrency)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 30*time.Minute, cfg.ClaimTimeout)
	assert.Equal(t, 14, cfg.RetentionDays)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.False(t, cfg.Enabled)
}

func TestJobConfigFromEnvIgnoresInvalid(t *testing.T) {
	t.Setenv("AUTOLOAD_JOB_CONCURRENCY", "-1")
	t.Setenv("AUTOLOAD_JOB_BATCH_SIZE", "lots")

	cfg := JobConfigFromEnv()
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 100, cfg.BatchSize)
}
