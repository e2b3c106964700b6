package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/greenbuild/autoload/pkg/pipeline"
	"github.com/greenbuild/autoload/pkg/progress"
	"github.com/greenbuild/autoload/pkg/records"
	"github.com/greenbuild/autoload/pkg/storage"
	"github.com/greenbuild/autoload/pkg/tenancy"
)

// propertyStateTable is the only mapping target the executor understands.
const propertyStateTable = "PropertyState"

// Executor runs import stages in-process: asynchronous stages become queued
// ImportTasks that a WorkerPool executes, reporting through a progress key.
type Executor struct {
	tasks   *TaskStore
	records *records.Store
	storage storage.Backend
	tracker *progress.CacheTracker
	cfg     *JobConfig
	logger  *slog.Logger
}

var _ pipeline.JobClient = (*Executor)(nil)

// NewExecutor creates an Executor.
func NewExecutor(tasks *TaskStore, store *records.Store, backend storage.Backend, tracker *progress.CacheTracker, cfg *JobConfig, logger *slog.Logger) *Executor {
	if cfg == nil {
		cfg = DefaultJobConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		tasks:   tasks,
		records: store,
		storage: backend,
		tracker: tracker,
		cfg:     cfg,
		logger:  logger,
	}
}

// NewWorkerPool creates a WorkerPool running this executor's task handlers.
func (e *Executor) NewWorkerPool() *WorkerPool {
	return NewWorkerPool(e.tasks, e.Handlers(), e.tracker, e.cfg, e.logger)
}

// Handlers returns the task handlers by kind.
func (e *Executor) Handlers() map[TaskKind]TaskHandler {
	return map[TaskKind]TaskHandler{
		TaskRawSave: e.runRawSave,
		TaskMap:     e.runMap,
		TaskMatch:   e.runMatch,
	}
}

// rejection is an expected refusal, answered with an error status.
type rejection struct{ msg string }

func (r *rejection) Error() string { return r.msg }

func reject(format string, args ...any) error {
	return &rejection{msg: fmt.Sprintf(format, args...)}
}

// respond turns a submission outcome into a JobResponse. Rejections become
// error-status responses; other errors are returned as transport failures.
func respond(resp pipeline.JobResponse, err error) (pipeline.JobResponse, error) {
	var rej *rejection
	if errors.As(err, &rej) {
		return pipeline.JobResponse{Status: pipeline.ResponseError, Message: rej.msg}, nil
	}
	if err != nil {
		return pipeline.JobResponse{}, err
	}
	return resp, nil
}

// loadFile returns the import file when it belongs to the actor's
// organization and is in the wanted status.
func (e *Executor) loadFile(ctx context.Context, actor tenancy.Actor, fileID string, want records.ImportStatus) (*records.ImportFile, error) {
	file, err := e.records.GetImportFile(ctx, fileID)
	if errors.Is(err, records.ErrNotFound) {
		return nil, reject("import file %s not found", fileID)
	}
	if err != nil {
		return nil, err
	}
	if file.OrganizationID != actor.Organization {
		return nil, reject("import file %s not found", fileID)
	}
	if file.Status != want {
		return nil, reject("import file %s is %s, expected %s", fileID, file.Status, want)
	}
	return file, nil
}

func (e *Executor) enqueue(ctx context.Context, actor tenancy.Actor, file *records.ImportFile, kind TaskKind) (pipeline.JobResponse, error) {
	task, created, err := e.tasks.Enqueue(ctx, &ImportTask{
		ID:             newTaskID(),
		OrganizationID: file.OrganizationID,
		ImportFileID:   file.ID,
		Kind:           kind,
		ProgressKey:    progress.NewKey(string(kind)),
		RequestedBy:    actor.User,
		IdempotencyKey: idempotencyKey(file.ID, kind),
	})
	if err != nil {
		return pipeline.JobResponse{}, err
	}
	if created {
		e.tracker.Start(task.ProgressKey)
	}
	e.logger.Info("task enqueued", "taskID", task.ID, "kind", kind, "importFileId", file.ID, "created", created)
	return pipeline.JobResponse{
		Status:      pipeline.ResponseSuccess,
		ProgressKey: task.ProgressKey,
		Detail:      map[string]any{"taskId": task.ID},
	}, nil
}

// SubmitRawSave queues parsing of the uploaded file into raw property states.
func (e *Executor) SubmitRawSave(ctx context.Context, actor tenancy.Actor, fileID, cycleID string) (pipeline.JobResponse, error) {
	return respond(func() (pipeline.JobResponse, error) {
		file, err := e.loadFile(ctx, actor, fileID, records.StatusNew)
		if err != nil {
			return pipeline.JobResponse{}, err
		}
		if cycleID != file.CycleID {
			return pipeline.JobResponse{}, reject("import file %s belongs to cycle %s, not %s", fileID, file.CycleID, cycleID)
		}
		return e.enqueue(ctx, actor, file, TaskRawSave)
	}())
}

// SubmitMapping validates the column mappings and caches them on the import
// file for the map task. It completes synchronously.
func (e *Executor) SubmitMapping(ctx context.Context, actor tenancy.Actor, fileID string, mappings []records.ColumnMapping) (pipeline.JobResponse, error) {
	return respond(func() (pipeline.JobResponse, error) {
		if _, err := e.loadFile(ctx, actor, fileID, records.StatusRawDone); err != nil {
			return pipeline.JobResponse{}, err
		}
		if err := validateMappings(mappings); err != nil {
			return pipeline.JobResponse{}, err
		}
		if err := e.records.SetCachedMappings(ctx, fileID, mappings); err != nil {
			return pipeline.JobResponse{}, err
		}
		return pipeline.JobResponse{Status: pipeline.ResponseSuccess, Detail: map[string]any{"mappings": len(mappings)}}, nil
	}())
}

// SubmitApply queues application of the cached mappings.
func (e *Executor) SubmitApply(ctx context.Context, actor tenancy.Actor, fileID string) (pipeline.JobResponse, error) {
	return respond(func() (pipeline.JobResponse, error) {
		file, err := e.loadFile(ctx, actor, fileID, records.StatusRawDone)
		if err != nil {
			return pipeline.JobResponse{}, err
		}
		if len(file.CachedColumnMappings) == 0 {
			return pipeline.JobResponse{}, reject("import file %s has no column mappings", fileID)
		}
		return e.enqueue(ctx, actor, file, TaskMap)
	}())
}

// FinalizeMapping closes the mapping phase and records the mapped-row count.
func (e *Executor) FinalizeMapping(ctx context.Context, actor tenancy.Actor, fileID string) (pipeline.JobResponse, error) {
	return respond(func() (pipeline.JobResponse, error) {
		if _, err := e.loadFile(ctx, actor, fileID, records.StatusMappingDone); err != nil {
			return pipeline.JobResponse{}, err
		}
		n, err := e.records.CountPropertyStates(ctx, fileID, records.DataStateMapped)
		if err != nil {
			return pipeline.JobResponse{}, err
		}
		if err := e.records.SetRowCount(ctx, fileID, records.MappedRows, n); err != nil {
			return pipeline.JobResponse{}, err
		}
		return pipeline.JobResponse{Status: pipeline.ResponseSuccess, Detail: map[string]any{"mappedRows": n}}, nil
	}())
}

// SubmitMatch queues matching of the mapped states against existing views.
func (e *Executor) SubmitMatch(ctx context.Context, actor tenancy.Actor, fileID string) (pipeline.JobResponse, error) {
	return respond(func() (pipeline.JobResponse, error) {
		file, err := e.loadFile(ctx, actor, fileID, records.StatusMappingFinalized)
		if err != nil {
			return pipeline.JobResponse{}, err
		}
		return e.enqueue(ctx, actor, file, TaskMatch)
	}())
}

// CancelTask cancels a queued task and fails its progress key so a waiting
// pipeline stops.
func (e *Executor) CancelTask(ctx context.Context, actor tenancy.Actor, taskID string) (*ImportTask, error) {
	task, err := e.tasks.Cancel(ctx, actor.Organization, taskID)
	if err != nil {
		return nil, err
	}
	e.tracker.Fail(task.ProgressKey, "canceled by "+actor.User)
	return task, nil
}

func validateMappings(mappings []records.ColumnMapping) error {
	if len(mappings) == 0 {
		return reject("at least one column mapping is required")
	}
	for i, m := range mappings {
		if strings.TrimSpace(m.FromField) == "" || strings.TrimSpace(m.ToField) == "" {
			return reject("mapping %d: from_field and to_field are required", i)
		}
		if m.ToTableName != propertyStateTable {
			return reject("mapping %d: unsupported to_table_name %q", i, m.ToTableName)
		}
	}
	return nil
}
