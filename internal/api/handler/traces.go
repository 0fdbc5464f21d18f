package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/madhavpai/tracecheck/internal/api/response"
	"github.com/madhavpai/tracecheck/internal/store"
	"github.com/madhavpai/tracecheck/pkg/models"
)

// TraceGetter defines the interface the trace handler depends on.
type TraceGetter interface {
	GetTrace(ctx context.Context, projectID, traceID string) (*models.Trace, error)
}

// NewGetTraceHandler returns an http.HandlerFunc for
// GET /api/v1/traces/{projectID}/{traceID}.
func NewGetTraceHandler(s TraceGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		traceID := chi.URLParam(r, "traceID")

		trace, err := s.GetTrace(r.Context(), projectID, traceID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "TRACE_NOT_FOUND",
					"No trace document for the given ids", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "TRACE_LOOKUP_FAILED",
				"Could not load trace", nil)
			return
		}

		response.JSON(w, trace)
	}
}
