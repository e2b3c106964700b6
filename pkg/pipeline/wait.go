package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/greenbuild/autoload/pkg/progress"
)

// minEnvInterval is the floor for a poll interval read from the environment.
const minEnvInterval = 500 * time.Millisecond

// WaitConfig controls how a Waiter polls.
type WaitConfig struct {
	Interval    time.Duration // Pause after the first poll. Default 500ms.
	Multiplier  float64       // Growth of the pause per poll. Default 1.5.
	MaxInterval time.Duration // Cap on the pause. Default 10s.
	Timeout     time.Duration // Total wait before TimeoutError. Default 30m.
}

// DefaultWaitConfig returns the default wait configuration.
func DefaultWaitConfig() *WaitConfig {
	return &WaitConfig{
		Interval:    500 * time.Millisecond,
		Multiplier:  1.5,
		MaxInterval: 10 * time.Second,
		Timeout:     30 * time.Minute,
	}
}

// WaitConfigFromEnv loads config from environment variables. Intervals below
// 500ms are raised to 500ms.
// AUTOLOAD_WAIT_INTERVAL_MS, AUTOLOAD_WAIT_MULTIPLIER, AUTOLOAD_WAIT_MAX_INTERVAL_MS,
// AUTOLOAD_WAIT_TIMEOUT_SECONDS
func WaitConfigFromEnv() *WaitConfig {
	cfg := DefaultWaitConfig()

	if v := os.Getenv("AUTOLOAD_WAIT_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Interval = max(time.Duration(n)*time.Millisecond, minEnvInterval)
		}
	}
	if v := os.Getenv("AUTOLOAD_WAIT_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 1 {
			cfg.Multiplier = f
		}
	}
	if v := os.Getenv("AUTOLOAD_WAIT_MAX_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxInterval = max(time.Duration(n)*time.Millisecond, minEnvInterval)
		}
	}
	if v := os.Getenv("AUTOLOAD_WAIT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = cfg.Interval
	}

	return cfg
}

// Waiter blocks until a progress key reaches 100.
type Waiter struct {
	tracker progress.Tracker
	cfg     *WaitConfig
	metrics *Metrics
	logger  *slog.Logger
}

// NewWaiter creates a Waiter. A nil cfg uses the defaults.
func NewWaiter(tracker progress.Tracker, cfg *WaitConfig, metrics *Metrics, logger *slog.Logger) *Waiter {
	if cfg == nil {
		cfg = DefaultWaitConfig()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Waiter{tracker: tracker, cfg: cfg, metrics: metrics, logger: logger}
}

// Wait polls key immediately and then with growing pauses until it reports
// 100 percent. A key the tracker does not know yet counts as 0 percent. It
// returns *JobFailedError when the task failed, *TimeoutError after
// cfg.Timeout and the context error when ctx ends first.
func (w *Waiter) Wait(ctx context.Context, stage Stage, key string) error {
	start := time.Now()
	deadline := start.Add(w.cfg.Timeout)
	interval := w.cfg.Interval
	last := 0

	for {
		w.metrics.Polls.WithLabelValues(string(stage)).Inc()
		st, err := w.tracker.Get(ctx, key)
		switch {
		case err == nil:
			if st.State == progress.StateFailed {
				return &JobFailedError{Stage: stage, ProgressKey: key, Message: st.Message}
			}
			last = st.Progress
			if st.Done() {
				w.logger.Debug("wait finished", "stage", stage, "progressKey", key, "waited", time.Since(start).String())
				return nil
			}
		case errors.Is(err, progress.ErrUnknownKey):
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return fmt.Errorf("poll %s progress: %w", stage, err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &TimeoutError{Stage: stage, ProgressKey: key, Waited: time.Since(start), LastProgress: last}
		}
		timer := time.NewTimer(min(interval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		interval = w.next(interval)
	}
}

func (w *Waiter) next(d time.Duration) time.Duration {
	if w.cfg.Multiplier > 1 {
		d = time.Duration(float64(d) * w.cfg.Multiplier)
	}
	if w.cfg.MaxInterval > 0 && d > w.cfg.MaxInterval {
		d = w.cfg.MaxInterval
	}
	return d
}
