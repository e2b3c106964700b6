package jobs

import (
	"time"
)

// TaskState represents the lifecycle state of an import task.
type TaskState string

const (
	TaskStateQueued    TaskState = "queued"
	TaskStateRunning   TaskState = "running"
	TaskStateSucceeded TaskState = "succeeded"
	TaskStateFailed    TaskState = "failed"
	TaskStateCanceled  TaskState = "canceled"
)

// TaskKind selects the handler a worker runs for a task.
type TaskKind string

const (
	TaskRawSave TaskKind = "raw_save"
	TaskMap     TaskKind = "map"
	TaskMatch   TaskKind = "match"
)

// ImportTask is the GORM model for one queued unit of import work.
type ImportTask struct {
	ID             string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	OrganizationID string     `gorm:"column:organization_id;index:idx_task_org_state,priority:1;not null"`
	ImportFileID   string     `gorm:"column:import_file_id;index;not null"`
	Kind           TaskKind   `gorm:"column:kind;not null"`
	ProgressKey    string     `gorm:"column:progress_key;not null"`
	RequestedBy    string     `gorm:"column:requested_by;not null"`
	RequestedAt    time.Time  `gorm:"column:requested_at;not null"`
	State          TaskState  `gorm:"column:state;index:idx_task_org_state,priority:2;index:idx_task_state;not null;default:queued"`
	Message        string     `gorm:"column:message"`
	StartedAt      *time.Time `gorm:"column:started_at"`
	FinishedAt     *time.Time `gorm:"column:finished_at"`
	AttemptCount   int        `gorm:"column:attempt_count;default:0"`
	LastError      string     `gorm:"column:last_error"`
	IdempotencyKey string     `gorm:"column:idempotency_key;uniqueIndex:idx_task_idemp_key"`
	RowsProcessed  int        `gorm:"column:rows_processed"`
	DurationMs     int64      `gorm:"column:duration_ms"`
}

// TableName returns the GORM table name.
func (ImportTask) TableName() string { return "import_tasks" }

// IsTerminal returns true if the task is in a terminal state.
func (t *ImportTask) IsTerminal() bool {
	switch t.State {
	case TaskStateSucceeded, TaskStateFailed, TaskStateCanceled:
		return true
	}
	return false
}

// idempotencyKey allows one live task per file and kind.
func idempotencyKey(fileID string, kind TaskKind) string {
	return fileID + ":" + string(kind)
}
