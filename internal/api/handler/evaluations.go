package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/madhavpai/tracecheck/internal/api/response"
	"github.com/madhavpai/tracecheck/internal/evals"
	"github.com/madhavpai/tracecheck/pkg/models"
)

// Scheduler defines the interface the schedule handler depends on.
type Scheduler interface {
	Schedule(ctx context.Context, check models.Check, trace models.Trace, opts evals.ScheduleOptions) (string, error)
}

// Recorder defines the interface the update handler depends on.
type Recorder interface {
	Update(ctx context.Context, p evals.UpdateParams) (*models.Evaluation, error)
}

type checkRequest struct {
	EvaluationID string `json:"evaluation_id"`
	EvaluatorID  string `json:"evaluator_id"`
	Type         string `json:"type"`
	Name         string `json:"name"`
	IsGuardrail  bool   `json:"is_guardrail"`
}

type traceRequest struct {
	TraceID    string   `json:"trace_id"`
	ProjectID  string   `json:"project_id"`
	ThreadID   *string  `json:"thread_id"`
	UserID     *string  `json:"user_id"`
	CustomerID *string  `json:"customer_id"`
	Labels     []string `json:"labels"`
}

func (c checkRequest) model() models.Check {
	return models.Check{
		EvaluationID: c.EvaluationID,
		EvaluatorID:  c.EvaluatorID,
		Type:         c.Type,
		Name:         c.Name,
		IsGuardrail:  c.IsGuardrail,
	}
}

func (t traceRequest) model() models.Trace {
	return models.Trace{
		TraceID:    t.TraceID,
		ProjectID:  t.ProjectID,
		ThreadID:   t.ThreadID,
		UserID:     t.UserID,
		CustomerID: t.CustomerID,
		Labels:     t.Labels,
	}
}

func validateCheckTrace(c checkRequest, t traceRequest) string {
	switch {
	case t.TraceID == "":
		return "trace.trace_id is required"
	case t.ProjectID == "":
		return "trace.project_id is required"
	case c.EvaluatorID == "":
		return "check.evaluator_id is required"
	case c.Type == "":
		return "check.type is required"
	}
	return ""
}

// NewScheduleHandler returns an http.HandlerFunc for
// POST /api/v1/evaluations/schedule.
func NewScheduleHandler(s Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Check   checkRequest `json:"check"`
			Trace   traceRequest `json:"trace"`
			DelayMS *int64       `json:"delay_ms"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if msg := validateCheckTrace(req.Check, req.Trace); msg != "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", msg, nil)
			return
		}

		opts := evals.ScheduleOptions{}
		if req.DelayMS != nil {
			if *req.DelayMS < 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "delay_ms must not be negative", nil)
				return
			}
			d := time.Duration(*req.DelayMS) * time.Millisecond
			opts.Delay = &d
		}

		jobID, err := s.Schedule(r.Context(), req.Check.model(), req.Trace.model(), opts)
		if err != nil {
			if errors.Is(err, evals.ErrConflictExhausted) {
				response.Error(w, http.StatusConflict, "CONFLICT_RETRIES_EXHAUSTED",
					"Could not publish scheduled status, evaluation not queued", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "SCHEDULE_FAILED",
				"Could not schedule evaluation", nil)
			return
		}

		response.Accepted(w, map[string]any{"job_id": jobID})
	}
}

// NewUpdateHandler returns an http.HandlerFunc for
// POST /api/v1/evaluations/update. Workers report lifecycle transitions and
// outcomes here; evaluator failures arrive as status=error with the failure
// message in the error field.
func NewUpdateHandler(rec Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Check   checkRequest `json:"check"`
			Trace   traceRequest `json:"trace"`
			Status  string       `json:"status"`
			Score   *float64     `json:"score"`
			Passed  *bool        `json:"passed"`
			Label   *string      `json:"label"`
			Details *string      `json:"details"`
			Error   *string      `json:"error"`
			Retries int          `json:"retries"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if msg := validateCheckTrace(req.Check, req.Trace); msg != "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", msg, nil)
			return
		}

		status := models.EvaluationStatus(req.Status)
		if !status.Valid() {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"status must be one of scheduled, in_progress, processed, skipped, error", nil)
			return
		}

		eval, err := rec.Update(r.Context(), evals.UpdateParams{
			Check:   req.Check.model(),
			Trace:   req.Trace.model(),
			Status:  status,
			Score:   req.Score,
			Passed:  req.Passed,
			Label:   req.Label,
			Details: req.Details,
			Error:   req.Error,
			Retries: req.Retries,
		})
		if err != nil {
			if errors.Is(err, evals.ErrConflictExhausted) {
				response.Error(w, http.StatusConflict, "CONFLICT_RETRIES_EXHAUSTED",
					"Evaluation update lost after exhausting merge retries", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "UPDATE_FAILED",
				"Could not record evaluation update", nil)
			return
		}

		response.JSON(w, eval)
	}
}
