package models

// Check identifies one evaluator configured to run against traces.
// EvaluationID, when set, pins the identity of the stored evaluation row;
// when empty the evaluator id is used as the fallback identity.
type Check struct {
	EvaluationID string `json:"evaluation_id,omitempty"`
	EvaluatorID  string `json:"evaluator_id"`
	Type         string `json:"type"`
	Name         string `json:"name,omitempty"`
	IsGuardrail  bool   `json:"is_guardrail,omitempty"`
}

// JobPayload is the minimized projection stored with a queued job: only the
// fields a worker needs to run the evaluator, never the full domain objects.
type JobPayload struct {
	Check JobCheck `json:"check"`
	Trace JobTrace `json:"trace"`
}

type JobCheck struct {
	EvaluationID string `json:"evaluation_id,omitempty"`
	EvaluatorID  string `json:"evaluator_id"`
	Type         string `json:"type"`
	Name         string `json:"name,omitempty"`
}

type JobTrace struct {
	TraceID    string   `json:"trace_id"`
	ProjectID  string   `json:"project_id"`
	ThreadID   *string  `json:"thread_id,omitempty"`
	UserID     *string  `json:"user_id,omitempty"`
	CustomerID *string  `json:"customer_id,omitempty"`
	Labels     []string `json:"labels,omitempty"`
}
