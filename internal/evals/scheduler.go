package evals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/madhavpai/tracecheck/internal/queue"
	"github.com/madhavpai/tracecheck/pkg/models"
)

// JobKindEvaluation is the queue kind for evaluator runs.
const JobKindEvaluation = "evaluation"

// Scheduler decides whether a (trace, evaluator) pair gets a new job, a
// retry of its existing job, or nothing. Stateless; the at-most-one-in-flight
// guarantee comes from the queue's per-id uniqueness plus the state check
// below, never from an in-process lock.
type Scheduler struct {
	queue        queue.Queue
	recorder     *Recorder
	defaultDelay time.Duration
}

// NewScheduler creates a Scheduler. defaultDelay is applied when the caller
// does not override it; it gives late-arriving trace data (spans still being
// collected) time to land before the evaluator runs.
func NewScheduler(q queue.Queue, r *Recorder, defaultDelay time.Duration) *Scheduler {
	return &Scheduler{queue: q, recorder: r, defaultDelay: defaultDelay}
}

// ScheduleOptions override per-call scheduling behavior. A nil Delay means
// the scheduler default; an explicit zero means enqueue immediately.
type ScheduleOptions struct {
	Delay *time.Duration
}

// Schedule queues one evaluator run against a trace and returns the job id.
//
// The "scheduled" status is published before the queue is touched, so it is
// observable even if the enqueue is delayed or fails; if that publish fails,
// scheduling aborts — a job must never exist without a visible scheduled
// record. An existing non-terminal job makes this a silent no-op; an
// existing terminal job is re-armed under the same id.
func (s *Scheduler) Schedule(ctx context.Context, check models.Check, trace models.Trace, opts ScheduleOptions) (string, error) {
	if _, err := s.recorder.Update(ctx, UpdateParams{
		Check:  check,
		Trace:  trace,
		Status: models.EvaluationStatusScheduled,
	}); err != nil {
		return "", fmt.Errorf("publish scheduled status: %w", err)
	}

	jobID := queue.JobID(trace.TraceID, check.EvaluatorID, trace.ProjectID)

	job, err := s.queue.GetJob(ctx, jobID)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		return jobID, s.enqueue(ctx, jobID, check, trace, opts)
	case err != nil:
		return "", fmt.Errorf("look up job %s: %w", jobID, err)
	case job.State.Terminal():
		if err := s.queue.Retry(ctx, jobID, job.State); err != nil {
			if errors.Is(err, queue.ErrStateMismatch) {
				// Someone re-armed or re-created it first; their job covers us.
				slog.Info("evaluation job moved during retry, skipping",
					"job_id", jobID, "observed_state", string(job.State))
				return jobID, nil
			}
			return "", fmt.Errorf("retry job %s: %w", jobID, err)
		}
		slog.Info("re-armed terminal evaluation job",
			"job_id", jobID, "from_state", string(job.State), "attempts", job.Attempts)
		return jobID, nil
	default:
		slog.Debug("evaluation already in flight, skipping",
			"job_id", jobID, "state", string(job.State))
		return jobID, nil
	}
}

func (s *Scheduler) enqueue(ctx context.Context, jobID string, check models.Check, trace models.Trace, opts ScheduleOptions) error {
	delay := s.defaultDelay
	if opts.Delay != nil {
		delay = *opts.Delay
	}

	payload := models.JobPayload{
		Check: models.JobCheck{
			EvaluationID: check.EvaluationID,
			EvaluatorID:  check.EvaluatorID,
			Type:         check.Type,
			Name:         check.Name,
		},
		Trace: models.JobTrace{
			TraceID:    trace.TraceID,
			ProjectID:  trace.ProjectID,
			ThreadID:   trace.ThreadID,
			UserID:     trace.UserID,
			CustomerID: trace.CustomerID,
			Labels:     trace.Labels,
		},
	}

	_, err := s.queue.Add(ctx, JobKindEvaluation, payload, queue.AddOptions{ID: jobID, Delay: delay})
	if errors.Is(err, queue.ErrJobExists) {
		// Concurrent Schedule won the enqueue; the invariant holds either way.
		slog.Debug("evaluation job created concurrently, skipping", "job_id", jobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}

	slog.Info("evaluation job enqueued",
		"job_id", jobID, "evaluator_id", check.EvaluatorID,
		"trace_id", trace.TraceID, "delay_ms", delay.Milliseconds())
	return nil
}
