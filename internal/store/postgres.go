package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/madhavpai/tracecheck/pkg/models"
)

// PostgresStore implements the TraceStore interface using pgx/v5. Trace
// documents keep their evaluations list in a JSONB column guarded by a
// version counter; merges are client-side compare-and-swap on that version.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) GetTrace(ctx context.Context, projectID, traceID string) (*models.Trace, error) {
	var (
		t         models.Trace
		labelsRaw []byte
		evalsRaw  []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT trace_id, project_id, thread_id, user_id, customer_id, labels, evaluations, inserted_at, updated_at
		 FROM traces WHERE project_id = $1 AND trace_id = $2`, projectID, traceID,
	).Scan(&t.TraceID, &t.ProjectID, &t.ThreadID, &t.UserID, &t.CustomerID,
		&labelsRaw, &evalsRaw, &t.InsertedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trace: %w", err)
	}

	if err := json.Unmarshal(labelsRaw, &t.Labels); err != nil {
		return nil, fmt.Errorf("decode trace labels: %w", err)
	}
	if err := json.Unmarshal(evalsRaw, &t.Evaluations); err != nil {
		return nil, fmt.Errorf("decode trace evaluations: %w", err)
	}
	return &t, nil
}

// MergeEvaluation runs the read-modify-write loop described on TraceStore.
// Only the evaluations list, updated_at and version are ever written on an
// existing row; the rest of the document belongs to the ingestion pipeline.
func (s *PostgresStore) MergeEvaluation(ctx context.Context, projectID, traceID string, eval models.Evaluation, opts MergeOptions) error {
	for attempt := 0; attempt < opts.retries(); attempt++ {
		var (
			evalsRaw []byte
			version  int64
		)
		err := s.pool.QueryRow(ctx,
			`SELECT evaluations, version FROM traces WHERE project_id = $1 AND trace_id = $2`,
			projectID, traceID,
		).Scan(&evalsRaw, &version)

		if errors.Is(err, pgx.ErrNoRows) {
			inserted, err := s.insertStub(ctx, projectID, traceID, eval)
			if err != nil {
				return err
			}
			if inserted {
				return nil
			}
			// Lost the insert race; re-read and merge into the winner's row.
			continue
		}
		if err != nil {
			return fmt.Errorf("read trace for merge: %w", err)
		}

		var existing []models.Evaluation
		if err := json.Unmarshal(evalsRaw, &existing); err != nil {
			return fmt.Errorf("decode trace evaluations: %w", err)
		}

		merged := mergeEvaluations(existing, eval)
		body, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("encode trace evaluations: %w", err)
		}

		tag, err := s.pool.Exec(ctx,
			`UPDATE traces SET evaluations = $3, updated_at = $4, version = version + 1
			 WHERE project_id = $1 AND trace_id = $2 AND version = $5`,
			projectID, traceID, string(body), eval.UpdatedAt, version)
		if err != nil {
			return fmt.Errorf("write trace evaluations: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
		// Version moved under us; retry.
	}
	return fmt.Errorf("merge evaluation %s into trace %s: %w", eval.EvaluationID, traceID, ErrVersionConflict)
}

// insertStub creates the minimal trace document: identifiers, timestamps and
// the single evaluation. Context fields stay empty; the ingestion pipeline
// enriches the row later without touching evaluations.
func (s *PostgresStore) insertStub(ctx context.Context, projectID, traceID string, eval models.Evaluation) (bool, error) {
	body, err := json.Marshal(mergeEvaluations(nil, eval))
	if err != nil {
		return false, fmt.Errorf("encode trace evaluations: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO traces (trace_id, project_id, evaluations, version, inserted_at, updated_at)
		 VALUES ($1, $2, $3, 1, $4, $4)
		 ON CONFLICT (project_id, trace_id) DO NOTHING`,
		traceID, projectID, string(body), eval.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("insert trace stub: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
