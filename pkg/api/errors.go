package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/greenbuild/autoload/pkg/assessment"
	"github.com/greenbuild/autoload/pkg/pipeline"
	"github.com/greenbuild/autoload/pkg/progress"
	"github.com/greenbuild/autoload/pkg/records"
)

// errorBody is the JSON body of every error response.
type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// classify maps an error to its status code and error code.
func classify(err error) (int, string) {
	var (
		importInvalid *pipeline.ValidationError
		upsertInvalid *assessment.ValidationError
		ambiguous     *assessment.AmbiguousEntityError
		storageErr    *pipeline.StorageError
		submitErr     *pipeline.JobSubmissionError
		failedErr     *pipeline.JobFailedError
		timeoutErr    *pipeline.TimeoutError
	)
	switch {
	case errors.As(err, &importInvalid), errors.As(err, &upsertInvalid):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, assessment.ErrEntityNotFound),
		errors.Is(err, assessment.ErrPropertyNotFound),
		errors.Is(err, records.ErrNotFound),
		errors.Is(err, progress.ErrUnknownKey):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &ambiguous):
		return http.StatusConflict, "ambiguous_entity"
	case errors.Is(err, assessment.ErrConcurrentRevision):
		return http.StatusConflict, "concurrent_revision"
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &storageErr):
		return http.StatusBadGateway, "storage_failed"
	case errors.As(err, &submitErr), errors.As(err, &failedErr):
		return http.StatusBadGateway, "job_failed"
	}
	return http.StatusInternalServerError, "internal"
}

// writeFailure writes err as an error response. Import failures carry the
// stage and import file id.
func writeFailure(w http.ResponseWriter, err error, result *pipeline.Result) {
	status, code := classify(err)
	body := errorBody{Error: code, Message: err.Error()}

	var ambiguous *assessment.AmbiguousEntityError
	if errors.As(err, &ambiguous) {
		body.Details = map[string]any{"viewIds": ambiguous.ViewIDs}
	}
	if result != nil && (result.Stage != "" || result.ImportFileID != "") {
		if body.Details == nil {
			body.Details = map[string]any{}
		}
		body.Details["stage"] = result.Stage
		if result.ImportFileID != "" {
			body.Details["importFileId"] = result.ImportFileID
		}
	}
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
