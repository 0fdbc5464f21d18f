package evals

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/madhavpai/tracecheck/internal/config"
	"github.com/madhavpai/tracecheck/internal/store"
	"github.com/madhavpai/tracecheck/pkg/models"
)

// Recorder publishes evaluator outcomes into trace documents. It is a
// stateless request handler: every call builds one self-contained evaluation
// snapshot and hands it to the store's conditional merge. Safe for use from
// any number of concurrent callers; cross-writer coordination is entirely
// the store's optimistic conflict retry.
type Recorder struct {
	store              store.TraceStore
	maxConflictRetries int
	maxJitter          time.Duration
}

// NewRecorder creates a Recorder over the given trace store.
func NewRecorder(s store.TraceStore, cfg config.MergeConfig) *Recorder {
	return &Recorder{
		store:              s,
		maxConflictRetries: cfg.MaxConflictRetries,
		maxJitter:          cfg.MaxJitter,
	}
}

// UpdateParams carries one evaluator outcome. Callers pass full known state:
// the stored row is replaced wholesale, never field-patched.
type UpdateParams struct {
	Check  models.Check
	Trace  models.Trace
	Status models.EvaluationStatus

	Score   *float64
	Passed  *bool
	Label   *string
	Details *string
	Error   *string
	Retries int
}

// Update merges one evaluation snapshot into the trace's evaluations list.
// Identity is Check.EvaluationID, falling back to the evaluator id. Trace
// context is copied into the snapshot at call time. Timestamps: in_progress
// stamps started_at, processed/skipped stamp finished_at, every call stamps
// updated_at; inserted_at is stamped by the merge on first insertion.
// A failed evaluator run arrives here as status=error with the failure in
// the Error/Details fields; it is recorded as data, never re-raised.
func (r *Recorder) Update(ctx context.Context, p UpdateParams) (*models.Evaluation, error) {
	if p.Trace.TraceID == "" || p.Trace.ProjectID == "" {
		return nil, fmt.Errorf("update evaluation: trace_id and project_id are required")
	}
	if p.Check.EvaluatorID == "" {
		return nil, fmt.Errorf("update evaluation: evaluator_id is required")
	}
	if !p.Status.Valid() {
		return nil, fmt.Errorf("update evaluation: unknown status %q", p.Status)
	}

	eval := r.snapshot(p, time.Now().UTC())

	if err := r.jitter(ctx); err != nil {
		return nil, err
	}

	err := r.store.MergeEvaluation(ctx, p.Trace.ProjectID, p.Trace.TraceID, eval,
		store.MergeOptions{MaxConflictRetries: r.maxConflictRetries})
	if errors.Is(err, store.ErrVersionConflict) {
		return nil, fmt.Errorf("%w: %s on trace %s", ErrConflictExhausted, eval.EvaluationID, p.Trace.TraceID)
	}
	if err != nil {
		return nil, fmt.Errorf("merge evaluation: %w", err)
	}
	return &eval, nil
}

func (r *Recorder) snapshot(p UpdateParams, now time.Time) models.Evaluation {
	id := p.Check.EvaluationID
	if id == "" {
		id = p.Check.EvaluatorID
	}

	eval := models.Evaluation{
		EvaluationID: id,
		EvaluatorID:  p.Check.EvaluatorID,
		Type:         p.Check.Type,
		Name:         p.Check.Name,
		Status:       p.Status,
		Score:        p.Score,
		Passed:       p.Passed,
		Label:        p.Label,
		Details:      p.Details,
		Error:        p.Error,
		Retries:      p.Retries,
		IsGuardrail:  p.Check.IsGuardrail,
		ThreadID:     p.Trace.ThreadID,
		UserID:       p.Trace.UserID,
		CustomerID:   p.Trace.CustomerID,
		Labels:       p.Trace.Labels,
		UpdatedAt:    now,
	}

	switch p.Status {
	case models.EvaluationStatusInProgress:
		eval.StartedAt = &now
	case models.EvaluationStatusProcessed, models.EvaluationStatusSkipped:
		eval.FinishedAt = &now
	}
	return eval
}

// jitter sleeps a random duration up to the configured ceiling before the
// merge write. It only lowers collision probability under bursty
// simultaneous completions; correctness rests on the conflict retry alone.
func (r *Recorder) jitter(ctx context.Context) error {
	if r.maxJitter <= 0 {
		return nil
	}
	d := rand.N(r.maxJitter)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
