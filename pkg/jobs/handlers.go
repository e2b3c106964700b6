package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/greenbuild/autoload/pkg/tenancy"
)

// actorFrom returns the request's actor or writes a 400.
func actorFrom(w http.ResponseWriter, r *http.Request) (tenancy.Actor, bool) {
	actor, ok := tenancy.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "missing organization")
		return tenancy.Actor{}, false
	}
	return actor, true
}

// GetTaskHandler handles GET /tasks/{taskId}
func GetTaskHandler(store *TaskStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		taskID := chi.URLParam(r, "taskId")
		if taskID == "" {
			writeError(w, http.StatusBadRequest, "missing task ID")
			return
		}

		task, err := store.Get(r.Context(), taskID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get task: %v", err))
			return
		}
		if task == nil || task.OrganizationID != actor.Organization {
			writeError(w, http.StatusNotFound, fmt.Sprintf("task %q not found", taskID))
			return
		}

		writeJSON(w, http.StatusOK, taskToResponse(task))
	}
}

// ListTasksHandler handles GET /tasks
// Query params: importFileId, kind, state, requestedBy, pageSize, pageToken
func ListTasksHandler(store *TaskStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		filter := TaskListFilter{
			OrganizationID: actor.Organization,
			ImportFileID:   q.Get("importFileId"),
			Kind:           q.Get("kind"),
			State:          q.Get("state"),
			RequestedBy:    q.Get("requestedBy"),
		}

		pageSize := 20
		if ps := q.Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}

		tasks, nextToken, total, err := store.List(r.Context(), filter, pageSize, q.Get("pageToken"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list tasks: %v", err))
			return
		}

		items := make([]taskResponse, len(tasks))
		for i := range tasks {
			items[i] = taskToResponse(&tasks[i])
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"tasks":         items,
			"nextPageToken": nextToken,
			"totalSize":     total,
		})
	}
}

// CancelTaskHandler handles POST /tasks/{taskId}:cancel
func CancelTaskHandler(exec *Executor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		taskID := chi.URLParam(r, "taskId")
		if taskID == "" {
			writeError(w, http.StatusBadRequest, "missing task ID")
			return
		}

		task, err := exec.CancelTask(r.Context(), actor, taskID)
		switch {
		case errors.Is(err, ErrTaskNotFound):
			writeError(w, http.StatusNotFound, err.Error())
			return
		case errors.Is(err, ErrTaskNotCancelable):
			writeError(w, http.StatusConflict, err.Error())
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to cancel task: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"status": string(task.State),
			"taskId": task.ID,
		})
	}
}

// taskResponse is the API response for an import task.
type taskResponse struct {
	ID            string `json:"id"`
	ImportFileID  string `json:"importFileId"`
	Kind          string `json:"kind"`
	ProgressKey   string `json:"progressKey"`
	RequestedBy   string `json:"requestedBy"`
	RequestedAt   string `json:"requestedAt"`
	State         string `json:"state"`
	Message       string `json:"message,omitempty"`
	StartedAt     string `json:"startedAt,omitempty"`
	FinishedAt    string `json:"finishedAt,omitempty"`
	AttemptCount  int    `json:"attemptCount"`
	LastError     string `json:"lastError,omitempty"`
	RowsProcessed int    `json:"rowsProcessed,omitempty"`
	DurationMs    int64  `json:"durationMs,omitempty"`
}

func taskToResponse(task *ImportTask) taskResponse {
	resp := taskResponse{
		ID:            task.ID,
		ImportFileID:  task.ImportFileID,
		Kind:          string(task.Kind),
		ProgressKey:   task.ProgressKey,
		RequestedBy:   task.RequestedBy,
		RequestedAt:   task.RequestedAt.Format(time.RFC3339),
		State:         string(task.State),
		Message:       task.Message,
		AttemptCount:  task.AttemptCount,
		LastError:     task.LastError,
		RowsProcessed: task.RowsProcessed,
		DurationMs:    task.DurationMs,
	}
	if task.StartedAt != nil {
		resp.StartedAt = task.StartedAt.Format(time.RFC3339)
	}
	if task.FinishedAt != nil {
		resp.FinishedAt = task.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
