package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/madhavpai/tracecheck/internal/store"
	"github.com/madhavpai/tracecheck/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("tracecheck_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func scheduledEval(id string, at time.Time) models.Evaluation {
	return models.Evaluation{
		EvaluationID: id,
		EvaluatorID:  id,
		Type:         "llm_judge",
		Status:       models.EvaluationStatusScheduled,
		UpdatedAt:    at,
	}
}

func TestMergeEvaluation_CreatesStub(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	err := s.MergeEvaluation(ctx, "proj-1", "trace-1", scheduledEval("eval-1", now), store.MergeOptions{})
	require.NoError(t, err)

	trace, err := s.GetTrace(ctx, "proj-1", "trace-1")
	require.NoError(t, err)

	// The stub carries only identifiers, timestamps, and the one evaluation.
	assert.Equal(t, "trace-1", trace.TraceID)
	assert.Equal(t, "proj-1", trace.ProjectID)
	assert.Nil(t, trace.ThreadID)
	assert.Nil(t, trace.UserID)
	assert.Nil(t, trace.CustomerID)
	assert.Empty(t, trace.Labels)
	require.Len(t, trace.Evaluations, 1)
	assert.Equal(t, "eval-1", trace.Evaluations[0].EvaluationID)
	assert.Equal(t, now, trace.Evaluations[0].InsertedAt)
}

func TestMergeEvaluation_ReplaceWholesale(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	first := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.MergeEvaluation(ctx, "proj-1", "trace-1", scheduledEval("eval-1", first), store.MergeOptions{}))

	score := 0.8
	passed := true
	later := first.Add(2 * time.Second)
	update := models.Evaluation{
		EvaluationID: "eval-1",
		EvaluatorID:  "eval-1",
		Type:         "llm_judge",
		Status:       models.EvaluationStatusProcessed,
		Score:        &score,
		Passed:       &passed,
		FinishedAt:   &later,
		UpdatedAt:    later,
	}
	require.NoError(t, s.MergeEvaluation(ctx, "proj-1", "trace-1", update, store.MergeOptions{}))

	trace, err := s.GetTrace(ctx, "proj-1", "trace-1")
	require.NoError(t, err)
	require.Len(t, trace.Evaluations, 1, "same id replaces, never appends")

	got := trace.Evaluations[0]
	assert.Equal(t, models.EvaluationStatusProcessed, got.Status)
	require.NotNil(t, got.Score)
	assert.Equal(t, 0.8, *got.Score)
	assert.Equal(t, first, got.InsertedAt, "inserted_at preserved across replaces")
}

func TestMergeEvaluation_ConcurrentEvaluatorsNoLostUpdate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	const writers = 8
	now := time.Now().UTC().Truncate(time.Millisecond)

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a'+i)) + "-evaluator"
			errs[i] = s.MergeEvaluation(ctx, "proj-1", "trace-1", scheduledEval(id, now), store.MergeOptions{MaxConflictRetries: 20})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	trace, err := s.GetTrace(ctx, "proj-1", "trace-1")
	require.NoError(t, err)
	assert.Len(t, trace.Evaluations, writers, "every concurrent writer's entry is present")
}

func TestGetTrace_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetTrace(context.Background(), "proj-1", "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
