package store

import (
	"context"
	"errors"

	"github.com/madhavpai/tracecheck/pkg/models"
)

var (
	ErrNotFound = errors.New("resource not found")
	// ErrVersionConflict is returned when the optimistic-retry budget for a
	// conditional merge write is exhausted.
	ErrVersionConflict = errors.New("version conflict retries exhausted")
)

// TraceStore is the data access interface for trace documents. All database
// operations go through here.
type TraceStore interface {
	Ping(ctx context.Context) error
	GetTrace(ctx context.Context, projectID, traceID string) (*models.Trace, error)

	// MergeEvaluation upserts one evaluation into a trace's evaluations list:
	// replace the entry with the same evaluation_id wholesale, or append.
	// If no trace document exists, a minimal stub (identifiers, timestamps,
	// the single evaluation) is created. The write is conditional on the
	// document version and retried up to MaxConflictRetries on mismatch;
	// exhaustion returns ErrVersionConflict.
	MergeEvaluation(ctx context.Context, projectID, traceID string, eval models.Evaluation, opts MergeOptions) error
}

// MergeOptions tune the optimistic-concurrency loop.
type MergeOptions struct {
	MaxConflictRetries int
}

const defaultMaxConflictRetries = 10

func (o MergeOptions) retries() int {
	if o.MaxConflictRetries <= 0 {
		return defaultMaxConflictRetries
	}
	return o.MaxConflictRetries
}
