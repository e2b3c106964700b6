package jobs

import (
	"github.com/go-chi/chi/v5"
)

// Router creates a chi.Router for the task inspection API. The actor must
// already be in the request context.
func Router(store *TaskStore, exec *Executor) chi.Router {
	r := chi.NewRouter()

	r.Get("/", ListTasksHandler(store))
	r.Get("/{taskId}", GetTaskHandler(store))
	r.Post("/{taskId}:cancel", CancelTaskHandler(exec))

	return r
}
