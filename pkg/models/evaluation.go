package models

import "time"

// EvaluationStatus is the lifecycle state of one evaluation attempt.
// Transitions: scheduled -> in_progress -> {processed | skipped | error}.
// Terminal states are re-enterable: scheduling the same evaluator again
// overwrites the row with a fresh "scheduled" entry under the same id.
type EvaluationStatus string

const (
	EvaluationStatusScheduled  EvaluationStatus = "scheduled"
	EvaluationStatusInProgress EvaluationStatus = "in_progress"
	EvaluationStatusProcessed  EvaluationStatus = "processed"
	EvaluationStatusSkipped    EvaluationStatus = "skipped"
	EvaluationStatusError      EvaluationStatus = "error"
)

// Valid reports whether s is a known evaluation status.
func (s EvaluationStatus) Valid() bool {
	switch s {
	case EvaluationStatusScheduled, EvaluationStatusInProgress,
		EvaluationStatusProcessed, EvaluationStatusSkipped, EvaluationStatusError:
		return true
	}
	return false
}

// Terminal reports whether s ends the current attempt.
func (s EvaluationStatus) Terminal() bool {
	switch s {
	case EvaluationStatusProcessed, EvaluationStatusSkipped, EvaluationStatusError:
		return true
	}
	return false
}

// Evaluation is one evaluator's stored result on a trace. EvaluationID is
// unique within a trace's evaluations list; a later update for the same id
// replaces the row wholesale (no partial-field merge). Trace context is
// copied in at write time so the row stays self-contained even if the trace
// document is edited later.
type Evaluation struct {
	EvaluationID string           `json:"evaluation_id"`
	EvaluatorID  string           `json:"evaluator_id"`
	Type         string           `json:"type"`
	Name         string           `json:"name,omitempty"`
	Status       EvaluationStatus `json:"status"`

	Score       *float64 `json:"score,omitempty"`
	Passed      *bool    `json:"passed,omitempty"`
	Label       *string  `json:"label,omitempty"`
	Details     *string  `json:"details,omitempty"`
	Error       *string  `json:"error,omitempty"`
	Retries     int      `json:"retries,omitempty"`
	IsGuardrail bool     `json:"is_guardrail,omitempty"`

	ThreadID   *string  `json:"thread_id,omitempty"`
	UserID     *string  `json:"user_id,omitempty"`
	CustomerID *string  `json:"customer_id,omitempty"`
	Labels     []string `json:"labels,omitempty"`

	// InsertedAt is stamped by the merge on first insertion of this
	// evaluation_id and preserved across replaces; never set by callers.
	InsertedAt time.Time  `json:"inserted_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
