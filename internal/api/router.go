package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/madhavpai/tracecheck/internal/api/middleware"
	"github.com/madhavpai/tracecheck/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler   http.HandlerFunc
	ScheduleHandler http.HandlerFunc
	UpdateHandler   http.HandlerFunc
	GetTraceHandler http.HandlerFunc
	GetJobHandler   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/evaluations/schedule", orNotImplemented(deps.ScheduleHandler))
		r.Post("/api/v1/evaluations/update", orNotImplemented(deps.UpdateHandler))

		r.Get("/api/v1/traces/{projectID}/{traceID}", orNotImplemented(deps.GetTraceHandler))
		r.Get("/api/v1/jobs", orNotImplemented(deps.GetJobHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
