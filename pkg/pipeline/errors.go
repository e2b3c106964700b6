package pipeline

import (
	"fmt"
	"time"
)

// ValidationError rejects a request before anything is written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid import request: %s: %s", e.Field, e.Message)
}

// StorageError reports that the uploaded file could not be stored.
type StorageError struct {
	Name string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store upload %q: %v", e.Name, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// JobSubmissionError reports that the executor refused a submission or could
// not be reached. Response is the refusal as received; Err the transport
// failure.
type JobSubmissionError struct {
	Stage    Stage
	Response JobResponse
	Err      error
}

func (e *JobSubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submit %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("submit %s: executor returned %s: %s", e.Stage, e.Response.Status, e.Response.Message)
}

func (e *JobSubmissionError) Unwrap() error { return e.Err }

// JobFailedError reports a task that the executor accepted and later failed.
type JobFailedError struct {
	Stage       Stage
	ProgressKey string
	Message     string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("%s task failed: %s", e.Stage, e.Message)
}

// TimeoutError reports a wait that exceeded its deadline.
type TimeoutError struct {
	Stage        Stage
	ProgressKey  string
	Waited       time.Duration
	LastProgress int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not finish within %s (progress %d%%, key %s)",
		e.Stage, e.Waited.Round(time.Millisecond), e.LastProgress, e.ProgressKey)
}

// StageOf returns the stage a pipeline error belongs to, or "" for errors
// that do not carry one.
func StageOf(err error) Stage {
	switch e := err.(type) {
	case *ValidationError, *StorageError:
		return StageIngest
	case *JobSubmissionError:
		return e.Stage
	case *JobFailedError:
		return e.Stage
	case *TimeoutError:
		return e.Stage
	}
	return ""
}
