package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/madhavpai/tracecheck/internal/api/response"
	"github.com/madhavpai/tracecheck/internal/queue"
)

// JobGetter defines the interface the job handler depends on.
type JobGetter interface {
	GetJob(ctx context.Context, id string) (*queue.Job, error)
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs.
// The job id is passed as the ?id= query parameter because deterministic job
// ids contain slashes.
func NewGetJobHandler(q JobGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "id query parameter is required", nil)
			return
		}

		job, err := q.GetJob(r.Context(), id)
		if err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND",
					"No job with the given id", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "JOB_LOOKUP_FAILED",
				"Could not load job", nil)
			return
		}

		response.JSON(w, job)
	}
}
