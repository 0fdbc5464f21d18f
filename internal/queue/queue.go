package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no job exists under the requested id.
	ErrNotFound = errors.New("job not found")
	// ErrJobExists is returned by Add when a job with the same id already
	// exists; the existing job is untouched.
	ErrJobExists = errors.New("job already exists")
	// ErrStateMismatch is returned by Retry when the job is not in the
	// state the caller observed.
	ErrStateMismatch = errors.New("job state mismatch")
	// ErrNoJobs is returned by Claim when the waiting list is empty.
	ErrNoJobs = errors.New("no jobs waiting")
)

// JobState is the lifecycle state of a queued job.
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateDelayed   JobState = "delayed"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// Terminal reports whether the state admits no further progress without an
// explicit retry.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is one queued attempt to run an evaluator against a trace. The id is
// caller-supplied and deterministic, so re-scheduling the same work lands on
// the same record instead of creating a duplicate.
type Job struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	State       JobState        `json:"state"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	ReadyAt     time.Time       `json:"ready_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// AddOptions control job placement. ID is required; Delay holds the job in
// the delayed set until it elapses.
type AddOptions struct {
	ID    string
	Delay time.Duration
}

// Queue is the durable job queue contract. Add, GetJob and Retry are the
// scheduler-facing surface; Claim, Complete and Fail are the worker-facing
// surface; PromoteDue is queue maintenance. Implementations must be safe for
// concurrent use.
type Queue interface {
	Add(ctx context.Context, kind string, payload any, opts AddOptions) (*Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	Retry(ctx context.Context, id string, fromState JobState) error

	Claim(ctx context.Context) (*Job, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, jobErr string) error

	PromoteDue(ctx context.Context, now time.Time) (int, error)
	Ping(ctx context.Context) error
}

// Config holds queue policy. Zero values fall back to the defaults below.
type Config struct {
	MaxAttempts  int           // attempt ceiling before a job goes terminal failed
	BackoffBase  time.Duration // base for exponential retry backoff
	CompletedTTL time.Duration // retention for completed jobs
	FailedTTL    time.Duration // retention for failed jobs
}

const (
	defaultMaxAttempts  = 3
	defaultBackoffBase  = time.Second
	defaultCompletedTTL = time.Hour
	defaultFailedTTL    = 72 * time.Hour

	maxRetryDelay = time.Minute
)

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoffBase
	}
	if c.CompletedTTL <= 0 {
		c.CompletedTTL = defaultCompletedTTL
	}
	if c.FailedTTL <= 0 {
		c.FailedTTL = defaultFailedTTL
	}
	return c
}

// RetryDelay returns the backoff before retry attempt n (1-indexed):
// base * 2^(n-1), capped at one minute.
func (c Config) RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.BackoffBase << (attempt - 1)
	if d > maxRetryDelay || d <= 0 {
		return maxRetryDelay
	}
	return d
}
