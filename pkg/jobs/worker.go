package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/greenbuild/autoload/pkg/progress"
)

// ReportFunc records that done of total units of a task are finished.
type ReportFunc func(done, total int)

// TaskHandler runs one task and returns the number of rows it processed.
type TaskHandler func(ctx context.Context, task *ImportTask, report ReportFunc) (rows int, err error)

// WorkerPool processes queued import tasks using a pool of goroutines.
type WorkerPool struct {
	store    *TaskStore
	handlers map[TaskKind]TaskHandler
	tracker  *progress.CacheTracker
	cfg      *JobConfig
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(store *TaskStore, handlers map[TaskKind]TaskHandler, tracker *progress.CacheTracker, cfg *JobConfig, logger *slog.Logger) *WorkerPool {
	if cfg == nil {
		cfg = DefaultJobConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		store:    store,
		handlers: handlers,
		tracker:  tracker,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run starts the worker pool. It spawns cfg.Concurrency goroutines, each
// polling for tasks, and blocks until the context is cancelled, then waits
// for all workers to finish.
func (wp *WorkerPool) Run(ctx context.Context) {
	if wp.store == nil || !wp.cfg.Enabled {
		wp.logger.Info("task worker pool disabled")
		return
	}

	wp.logger.Info("task worker pool starting",
		"concurrency", wp.cfg.Concurrency,
		"maxRetries", wp.cfg.MaxRetries,
		"pollInterval", wp.cfg.PollInterval.String())

	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		wp.cleanupLoop(ctx)
	}()

	for i := 0; i < wp.cfg.Concurrency; i++ {
		wp.wg.Add(1)
		go func(workerID int) {
			defer wp.wg.Done()
			wp.workerLoop(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	wp.logger.Info("task worker pool shutting down, waiting for workers to finish")
	wp.wg.Wait()
	wp.logger.Info("task worker pool stopped")
}

func (wp *WorkerPool) workerLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain the queue before waiting for the next tick.
			for ctx.Err() == nil && wp.processOne(ctx, workerID) {
			}
		}
	}
}

// processOne claims and runs a single task. It reports whether a task was
// claimed.
func (wp *WorkerPool) processOne(ctx context.Context, workerID int) bool {
	task, err := wp.store.Claim(ctx, wp.cfg.MaxRetries)
	if err != nil {
		if ctx.Err() == nil {
			wp.logger.Error("failed to claim task", "workerID", workerID, "error", err)
		}
		return false
	}
	if task == nil {
		return false
	}

	log := wp.logger.With("workerID", workerID, "taskID", task.ID, "kind", task.Kind,
		"importFileId", task.ImportFileID, "attempt", task.AttemptCount)
	log.Info("processing task")

	handler, ok := wp.handlers[task.Kind]
	if !ok {
		wp.fail(ctx, log, task, fmt.Errorf("no handler for task kind %q", task.Kind))
		return true
	}

	start := time.Now()
	report := func(done, total int) {
		if total <= 0 {
			return
		}
		// 100 is reserved for the final Complete.
		wp.tracker.Set(task.ProgressKey, min(done*100/total, 99))
	}
	rows, err := runHandler(ctx, handler, task, report)
	if err != nil {
		wp.fail(ctx, log, task, err)
		return true
	}

	duration := time.Since(start)
	if err := wp.store.Complete(ctx, task.ID, rows, duration.Milliseconds()); err != nil {
		log.Error("failed to mark task as complete", "error", err)
		wp.tracker.Fail(task.ProgressKey, err.Error())
		return true
	}
	wp.tracker.Complete(task.ProgressKey)
	log.Info("task completed", "rows", rows, "duration", duration.String())
	return true
}

// runHandler turns a handler panic into a task error.
func runHandler(ctx context.Context, h TaskHandler, task *ImportTask, report ReportFunc) (rows int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return h(ctx, task, report)
}

func (wp *WorkerPool) fail(ctx context.Context, log *slog.Logger, task *ImportTask, taskErr error) {
	log.Error("task failed", "error", taskErr)
	final, err := wp.store.Fail(context.WithoutCancel(ctx), task.ID, taskErr.Error(), wp.cfg.MaxRetries)
	if err != nil {
		log.Error("failed to mark task as failed", "error", err)
		wp.tracker.Fail(task.ProgressKey, taskErr.Error())
		return
	}
	if final {
		wp.tracker.Fail(task.ProgressKey, taskErr.Error())
	}
}

// cleanupLoop periodically recovers stuck tasks and deletes old finished ones.
func (wp *WorkerPool) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if wp.cfg.ClaimTimeout > 0 {
				recovered, err := wp.store.CleanupStuckTasks(ctx, wp.cfg.ClaimTimeout)
				if err != nil {
					wp.logger.Error("failed to cleanup stuck tasks", "error", err)
				} else if recovered > 0 {
					wp.logger.Info("recovered stuck tasks", "count", recovered)
				}
			}

			if wp.cfg.RetentionDays > 0 {
				cutoff := time.Now().AddDate(0, 0, -wp.cfg.RetentionDays)
				deleted, err := wp.store.DeleteOlderThan(ctx, cutoff)
				if err != nil {
					wp.logger.Error("failed to delete old tasks", "error", err)
				} else if deleted > 0 {
					wp.logger.Info("deleted old tasks", "count", deleted)
				}
			}
		}
	}
}
