package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/greenbuild/autoload/pkg/records"
	"github.com/greenbuild/autoload/pkg/storage"
	"github.com/greenbuild/autoload/pkg/tenancy"
)

const (
	// uploadDir is the storage prefix for ingested files.
	uploadDir = "uploads"
	// defaultUploadName is used when the request carries no filename.
	defaultUploadName = "autoload"
)

// Request describes one import run.
type Request struct {
	Actor       tenancy.Actor
	DatasetName string
	CycleID     string
	Filename    string
	Data        []byte
	Mappings    []records.ColumnMapping
}

// Result is the outcome of Run. On failure Stage names the stage that failed
// and ImportFileID is set once the file was created.
type Result struct {
	Status       string `json:"status"`
	ImportFileID string `json:"import_file_id,omitempty"`
	Stage        Stage  `json:"stage,omitempty"`
}

// Orchestrator runs import pipelines.
type Orchestrator struct {
	records *records.Store
	storage storage.Backend
	jobs    JobClient
	waiter  *Waiter
	metrics *Metrics
	logger  *slog.Logger
}

// NewOrchestrator wires an Orchestrator. metrics and logger may be nil.
func NewOrchestrator(store *records.Store, backend storage.Backend, jobs JobClient, waiter *Waiter, metrics *Metrics, logger *slog.Logger) *Orchestrator {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		records: store,
		storage: backend,
		jobs:    jobs,
		waiter:  waiter,
		metrics: metrics,
		logger:  logger,
	}
}

// Run ingests the file and drives it through every stage. Stages run in
// order and the first failure stops the run; earlier stages are not rolled
// back. On failure the import file is marked failed and the stage error is
// returned together with a Result whose Status is "error".
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	log := o.logger.With("actor", req.Actor.String(), "dataset", req.DatasetName)

	file, err := o.ingest(ctx, req)
	if err != nil {
		o.metrics.Runs.WithLabelValues("error").Inc()
		log.Error("import ingest failed", "error", err)
		return &Result{Status: ResponseError, Stage: StageIngest}, err
	}
	log = log.With("importFileId", file.ID)
	log.Info("import file created", "fileRef", file.FileRef)

	run := &run{o: o, req: req, file: file, log: log}
	if err := run.execute(ctx); err != nil {
		stage := StageOf(err)
		if stage == "" {
			stage = run.stage
		}
		o.metrics.Runs.WithLabelValues("error").Inc()
		log.Error("import failed", "stage", stage, "error", err)
		// Recording the failure must not replace the stage error.
		if markErr := o.records.MarkImportFileFailed(context.WithoutCancel(ctx), file.ID, string(stage), err.Error()); markErr != nil {
			log.Error("failed to mark import file failed", "error", markErr)
		}
		return &Result{Status: ResponseError, ImportFileID: file.ID, Stage: stage}, err
	}

	o.metrics.Runs.WithLabelValues("success").Inc()
	log.Info("import finished", "duration", time.Since(start).String())
	return &Result{Status: ResponseSuccess, ImportFileID: file.ID}, nil
}

func (o *Orchestrator) ingest(ctx context.Context, req Request) (file *records.ImportFile, err error) {
	defer o.observe(StageIngest, time.Now(), &err)

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if _, err := o.records.GetCycle(ctx, req.Actor.Organization, req.CycleID); err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return nil, &ValidationError{Field: "cycleId", Message: "cycle not found in organization " + req.Actor.Organization}
		}
		return nil, fmt.Errorf("load cycle: %w", err)
	}

	dataset, err := o.records.CreateImportRecord(ctx, req.Actor.Organization, req.Actor.User, req.DatasetName)
	if err != nil {
		return nil, err
	}

	name := path.Join(uploadDir, uploadName(req.Filename))
	ref, err := o.storage.Put(ctx, name, req.Data)
	if err != nil {
		return nil, &StorageError{Name: name, Err: err}
	}

	file = &records.ImportFile{
		ImportRecordID:   dataset.ID,
		CycleID:          req.CycleID,
		OrganizationID:   req.Actor.Organization,
		UploadedFilename: path.Base(name),
		FileRef:          ref,
		SourceType:       records.SourceTypeAssessedRaw,
		Status:           records.StatusNew,
	}
	if err := o.records.CreateImportFile(ctx, file); err != nil {
		return nil, err
	}
	return file, nil
}

func (o *Orchestrator) observe(stage Stage, start time.Time, err *error) {
	o.metrics.StageDuration.WithLabelValues(string(stage), outcome(*err)).Observe(time.Since(start).Seconds())
}

func validateRequest(req Request) error {
	if err := req.Actor.Validate(); err != nil {
		return &ValidationError{Field: "actor", Message: err.Error()}
	}
	if strings.TrimSpace(req.DatasetName) == "" {
		return &ValidationError{Field: "datasetName", Message: "is required"}
	}
	if req.CycleID == "" {
		return &ValidationError{Field: "cycleId", Message: "is required"}
	}
	if len(req.Data) == 0 {
		return &ValidationError{Field: "data", Message: "file is empty"}
	}
	if len(req.Mappings) == 0 {
		return &ValidationError{Field: "mappings", Message: "at least one column mapping is required"}
	}
	return nil
}

// uploadName keeps the base name of a client-supplied filename.
func uploadName(filename string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "." || name == "/" || name == "" || name == ".." {
		return defaultUploadName
	}
	return name
}

// run tracks one import while its stages execute.
type run struct {
	o     *Orchestrator
	req   Request
	file  *records.ImportFile
	log   *slog.Logger
	stage Stage
}

// stageStep is one executor call. Asynchronous steps move the file from
// before to after on submission and to done once their task finishes;
// synchronous steps with an after status move on success.
type stageStep struct {
	stage  Stage
	submit func(ctx context.Context) (JobResponse, error)
	async  bool
	before records.ImportStatus
	after  records.ImportStatus
	done   records.ImportStatus
}

func (r *run) execute(ctx context.Context) error {
	jobs, actor, fileID := r.o.jobs, r.req.Actor, r.file.ID

	steps := []stageStep{
		{
			stage: StageRawSave,
			submit: func(ctx context.Context) (JobResponse, error) {
				return jobs.SubmitRawSave(ctx, actor, fileID, r.req.CycleID)
			},
			async:  true,
			before: records.StatusNew, after: records.StatusRawSubmitted, done: records.StatusRawDone,
		},
		{
			stage: StageMapSubmit,
			submit: func(ctx context.Context) (JobResponse, error) {
				return jobs.SubmitMapping(ctx, actor, fileID, r.req.Mappings)
			},
		},
		{
			stage: StageMapApply,
			submit: func(ctx context.Context) (JobResponse, error) {
				return jobs.SubmitApply(ctx, actor, fileID)
			},
			async:  true,
			before: records.StatusRawDone, after: records.StatusMappingSubmitted, done: records.StatusMappingDone,
		},
		{
			stage: StageFinalize,
			submit: func(ctx context.Context) (JobResponse, error) {
				return jobs.FinalizeMapping(ctx, actor, fileID)
			},
			before: records.StatusMappingDone, after: records.StatusMappingFinalized,
		},
		{
			stage: StageMatch,
			submit: func(ctx context.Context) (JobResponse, error) {
				return jobs.SubmitMatch(ctx, actor, fileID)
			},
			async:  true,
			before: records.StatusMappingFinalized, after: records.StatusMatchingSubmitted, done: records.StatusMatched,
		},
	}

	for _, s := range steps {
		r.stage = s.stage
		if err := r.step(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) step(ctx context.Context, s stageStep) (err error) {
	defer r.o.observe(s.stage, time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return err
	}

	resp, err := s.submit(ctx)
	if err != nil {
		return &JobSubmissionError{Stage: s.stage, Err: err}
	}
	if !resp.OK() {
		return &JobSubmissionError{Stage: s.stage, Response: resp}
	}
	r.log.Info("stage submitted", "stage", s.stage, "progressKey", resp.ProgressKey)

	if s.after != "" {
		if err := r.o.records.TransitionImportFile(ctx, r.file.ID, s.before, s.after); err != nil {
			return err
		}
	}
	if !s.async {
		return nil
	}
	if resp.ProgressKey == "" {
		return &JobSubmissionError{Stage: s.stage, Response: resp, Err: errors.New("executor returned no progress key")}
	}
	if err := r.o.waiter.Wait(ctx, s.stage, resp.ProgressKey); err != nil {
		return err
	}
	if err := r.o.records.TransitionImportFile(ctx, r.file.ID, s.after, s.done); err != nil {
		return err
	}
	r.log.Info("stage finished", "stage", s.stage)
	return nil
}
