package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrTaskNotFound is returned when a task does not exist in the caller's
	// organization.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskNotCancelable is returned when canceling a task that is not queued.
	ErrTaskNotCancelable = errors.New("only queued tasks can be canceled")
)

// TaskStore provides database operations for import tasks.
type TaskStore struct {
	db *gorm.DB
}

// NewTaskStore creates a new TaskStore.
func NewTaskStore(db *gorm.DB) *TaskStore {
	return &TaskStore{db: db}
}

// AutoMigrate creates or updates the import_tasks table.
func (s *TaskStore) AutoMigrate() error {
	return s.db.AutoMigrate(&ImportTask{})
}

// TaskListFilter defines filters for listing tasks.
type TaskListFilter struct {
	OrganizationID string
	ImportFileID   string
	Kind           string
	State          string
	RequestedBy    string
}

// Enqueue creates a new queued task. If a non-terminal task with the same
// idempotency key exists, that task is returned with created=false instead of
// creating a duplicate. Safe for concurrent use.
func (s *TaskStore) Enqueue(ctx context.Context, task *ImportTask) (result *ImportTask, created bool, err error) {
	if task.State == "" {
		task.State = TaskStateQueued
	}
	if task.RequestedAt.IsZero() {
		task.RequestedAt = time.Now()
	}
	live := []TaskState{TaskStateQueued, TaskStateRunning}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ImportTask
		err := tx.Where("idempotency_key = ? AND state IN ?", task.IdempotencyKey, live).First(&existing).Error
		if err == nil {
			result = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check idempotency key: %w", err)
		}

		// Free the key held by finished tasks so the unique index allows a new one.
		tx.Model(&ImportTask{}).
			Where("idempotency_key = ? AND state IN ?", task.IdempotencyKey,
				[]TaskState{TaskStateSucceeded, TaskStateFailed, TaskStateCanceled}).
			Update("idempotency_key", nil)

		if err := tx.Create(task).Error; err != nil {
			// Another transaction may have created the task since the check.
			var raced ImportTask
			if lookupErr := s.db.WithContext(ctx).Where("idempotency_key = ? AND state IN ?", task.IdempotencyKey, live).
				First(&raced).Error; lookupErr == nil {
				result = &raced
				return nil
			}
			return fmt.Errorf("enqueue task: %w", err)
		}
		result, created = task, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// Claim atomically picks the oldest queued task and transitions it to
// running. Uses FOR UPDATE SKIP LOCKED where supported (PostgreSQL).
// Returns nil if no tasks are available.
func (s *TaskStore) Claim(ctx context.Context, maxRetries int) (*ImportTask, error) {
	var task ImportTask

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Raw(`
			SELECT * FROM import_tasks
			WHERE state = ? AND attempt_count <= ?
			ORDER BY requested_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`, TaskStateQueued, maxRetries).Scan(&task)

		if result.Error != nil {
			// SQLite has no row locks; a plain select inside the transaction
			// plus the conditional update below is enough there.
			result = tx.Where("state = ? AND attempt_count <= ?", TaskStateQueued, maxRetries).
				Order("requested_at ASC").
				Limit(1).
				First(&task)
			if result.Error != nil {
				if errors.Is(result.Error, gorm.ErrRecordNotFound) {
					return nil
				}
				return result.Error
			}
		}

		if task.ID == "" {
			return nil
		}

		now := time.Now()
		update := tx.Model(&ImportTask{}).Where("id = ? AND state = ?", task.ID, TaskStateQueued).
			Updates(map[string]any{
				"state":         TaskStateRunning,
				"started_at":    now,
				"attempt_count": gorm.Expr("attempt_count + 1"),
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			task = ImportTask{}
		}
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}

	if task.ID == "" {
		return nil, nil
	}

	if err := s.db.WithContext(ctx).First(&task, "id = ?", task.ID).Error; err != nil {
		return nil, fmt.Errorf("reload claimed task: %w", err)
	}

	return &task, nil
}

// Complete marks a task as succeeded.
func (s *TaskStore) Complete(ctx context.Context, taskID string, rows int, durationMs int64) error {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&ImportTask{}).Where("id = ?", taskID).Updates(map[string]any{
		"state":          TaskStateSucceeded,
		"finished_at":    now,
		"rows_processed": rows,
		"duration_ms":    durationMs,
		"message":        fmt.Sprintf("Processed %d rows", rows),
	})
	if result.Error != nil {
		return fmt.Errorf("complete task: %w", result.Error)
	}
	return nil
}

// Fail records a task failure. While attempts remain the task is re-queued
// and final is false; otherwise the task ends in failed.
func (s *TaskStore) Fail(ctx context.Context, taskID string, errMsg string, maxRetries int) (final bool, err error) {
	now := time.Now()

	var task ImportTask
	if err := s.db.WithContext(ctx).First(&task, "id = ?", taskID).Error; err != nil {
		return false, fmt.Errorf("load task for fail: %w", err)
	}

	updates := map[string]any{
		"last_error":  errMsg,
		"finished_at": now,
	}

	if task.AttemptCount < maxRetries {
		updates["state"] = TaskStateQueued
		updates["started_at"] = nil
		updates["finished_at"] = nil
	} else {
		final = true
		updates["state"] = TaskStateFailed
		updates["message"] = "Max retries exceeded: " + errMsg
	}

	result := s.db.WithContext(ctx).Model(&ImportTask{}).Where("id = ?", taskID).Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("fail task: %w", result.Error)
	}
	return final, nil
}

// Cancel marks a queued task of the organization as canceled. Running tasks
// cannot be canceled.
func (s *TaskStore) Cancel(ctx context.Context, orgID, taskID string) (*ImportTask, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&ImportTask{}).
		Where("id = ? AND organization_id = ? AND state = ?", taskID, orgID, TaskStateQueued).
		Updates(map[string]any{
			"state":       TaskStateCanceled,
			"finished_at": now,
			"message":     "Canceled by user",
		})
	if result.Error != nil {
		return nil, fmt.Errorf("cancel task: %w", result.Error)
	}

	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil || task.OrganizationID != orgID {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: task %s is %s", ErrTaskNotCancelable, taskID, task.State)
	}
	return task, nil
}

// Get retrieves a task by ID. Returns nil, nil if it does not exist.
func (s *TaskStore) Get(ctx context.Context, taskID string) (*ImportTask, error) {
	var task ImportTask
	if err := s.db.WithContext(ctx).First(&task, "id = ?", taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &task, nil
}

// List returns paginated tasks matching the given filter, newest first.
// pageToken is the RFC3339Nano requested_at of the last task of the previous page.
func (s *TaskStore) List(ctx context.Context, filter TaskListFilter, pageSize int, pageToken string) ([]ImportTask, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.Model(&ImportTask{})
		if filter.OrganizationID != "" {
			q = q.Where("organization_id = ?", filter.OrganizationID)
		}
		if filter.ImportFileID != "" {
			q = q.Where("import_file_id = ?", filter.ImportFileID)
		}
		if filter.Kind != "" {
			q = q.Where("kind = ?", filter.Kind)
		}
		if filter.State != "" {
			q = q.Where("state = ?", filter.State)
		}
		if filter.RequestedBy != "" {
			q = q.Where("requested_by = ?", filter.RequestedBy)
		}
		return q
	}

	db := s.db.WithContext(ctx)
	var totalSize int64
	if err := buildQuery(db).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count tasks: %w", err)
	}

	query := buildQuery(db).Order("requested_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("requested_at < ?", t)
	}

	var tasks []ImportTask
	if err := query.Find(&tasks).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list tasks: %w", err)
	}

	var nextToken string
	if len(tasks) > pageSize {
		nextToken = tasks[pageSize-1].RequestedAt.Format(time.RFC3339Nano)
		tasks = tasks[:pageSize]
	}

	return tasks, nextToken, int(totalSize), nil
}

// CleanupStuckTasks moves running tasks whose started_at is older than
// claimTimeout back to queued for retry.
func (s *TaskStore) CleanupStuckTasks(ctx context.Context, claimTimeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-claimTimeout)
	result := s.db.WithContext(ctx).Model(&ImportTask{}).
		Where("state = ? AND started_at < ?", TaskStateRunning, cutoff).
		Updates(map[string]any{
			"state":      TaskStateQueued,
			"started_at": nil,
			"last_error": "Timed out (stuck task recovery)",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup stuck tasks: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteOlderThan removes finished tasks older than the given cutoff.
func (s *TaskStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("state IN ? AND finished_at < ?",
		[]TaskState{TaskStateSucceeded, TaskStateFailed, TaskStateCanceled}, cutoff).
		Delete(&ImportTask{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old tasks: %w", result.Error)
	}
	return result.RowsAffected, nil
}
