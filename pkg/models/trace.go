package models

import "time"

// Trace is one recorded interaction subject to evaluation. The trace document
// is owned by the ingestion pipeline; this service only ever mutates the
// Evaluations field, creating a minimal stub when no document exists yet.
type Trace struct {
	TraceID   string `json:"trace_id"`
	ProjectID string `json:"project_id"`

	ThreadID   *string  `json:"thread_id,omitempty"`
	UserID     *string  `json:"user_id,omitempty"`
	CustomerID *string  `json:"customer_id,omitempty"`
	Labels     []string `json:"labels,omitempty"`

	Evaluations []Evaluation `json:"evaluations"`

	InsertedAt time.Time `json:"inserted_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
