// Package pipeline drives an uploaded file through the import stages: raw
// save, column mapping and matching. Every asynchronous stage is followed by
// a wait on its progress key, and the first failure ends the run.
package pipeline

import (
	"context"

	"github.com/greenbuild/autoload/pkg/records"
	"github.com/greenbuild/autoload/pkg/tenancy"
)

// Stage names one step of an import run.
type Stage string

const (
	StageIngest    Stage = "ingest"
	StageRawSave   Stage = "raw_save"
	StageMapSubmit Stage = "map_submit"
	StageMapApply  Stage = "map_apply"
	StageFinalize  Stage = "finalize"
	StageMatch     Stage = "match"
)

// JobResponse statuses.
const (
	ResponseSuccess = "success"
	ResponseError   = "error"
)

// JobResponse is what the job executor answers to a submission. ProgressKey
// is set for asynchronous submissions.
type JobResponse struct {
	Status      string         `json:"status"`
	ProgressKey string         `json:"progress_key,omitempty"`
	Message     string         `json:"message,omitempty"`
	Detail      map[string]any `json:"detail,omitempty"`
}

// OK reports whether the executor accepted the submission.
func (r JobResponse) OK() bool { return r.Status != ResponseError }

// JobClient submits import work to an executor.
type JobClient interface {
	SubmitRawSave(ctx context.Context, actor tenancy.Actor, fileID, cycleID string) (JobResponse, error)
	SubmitMapping(ctx context.Context, actor tenancy.Actor, fileID string, mappings []records.ColumnMapping) (JobResponse, error)
	SubmitApply(ctx context.Context, actor tenancy.Actor, fileID string) (JobResponse, error)
	FinalizeMapping(ctx context.Context, actor tenancy.Actor, fileID string) (JobResponse, error)
	SubmitMatch(ctx context.Context, actor tenancy.Actor, fileID string) (JobResponse, error)
}
