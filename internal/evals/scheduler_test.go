package evals_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/madhavpai/tracecheck/internal/evals"
	"github.com/madhavpai/tracecheck/internal/queue"
	"github.com/madhavpai/tracecheck/internal/store"
	"github.com/madhavpai/tracecheck/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── in-memory queue ─────────────────────────────────────────────────────────

type fakeQueue struct {
	mu         sync.Mutex
	jobs       map[string]*queue.Job
	addCalls   int
	lastAdd    queue.AddOptions
	retryCalls int
	addErr     error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: map[string]*queue.Job{}}
}

func (q *fakeQueue) Add(_ context.Context, kind string, payload any, opts queue.AddOptions) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.addCalls++
	q.lastAdd = opts
	if q.addErr != nil {
		return nil, q.addErr
	}
	if _, ok := q.jobs[opts.ID]; ok {
		return q.jobs[opts.ID], queue.ErrJobExists
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	state := queue.StateWaiting
	if opts.Delay > 0 {
		state = queue.StateDelayed
	}
	j := &queue.Job{ID: opts.ID, Kind: kind, Payload: body, State: state, MaxAttempts: 3}
	q.jobs[opts.ID] = j
	return j, nil
}

func (q *fakeQueue) GetJob(_ context.Context, id string) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, queue.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (q *fakeQueue) Retry(_ context.Context, id string, fromState queue.JobState) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retryCalls++
	j, ok := q.jobs[id]
	if !ok {
		return queue.ErrNotFound
	}
	if j.State != fromState {
		return queue.ErrStateMismatch
	}
	j.State = queue.StateWaiting
	return nil
}

func (q *fakeQueue) Claim(_ context.Context) (*queue.Job, error) { return nil, queue.ErrNoJobs }
func (q *fakeQueue) Complete(_ context.Context, _ string) error  { return nil }
func (q *fakeQueue) Fail(_ context.Context, _ string, _ string) error {
	return nil
}
func (q *fakeQueue) PromoteDue(_ context.Context, _ time.Time) (int, error) { return 0, nil }
func (q *fakeQueue) Ping(_ context.Context) error                           { return nil }

func newTestScheduler(q queue.Queue, s store.TraceStore) *evals.Scheduler {
	return evals.NewScheduler(q, newTestRecorder(s), 4*time.Second)
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestSchedule_PublishesScheduledBeforeEnqueue(t *testing.T) {
	q := newFakeQueue()
	s := newMemStore()
	sched := newTestScheduler(q, s)
	ctx := context.Background()

	jobID, err := sched.Schedule(ctx, testCheck(), testTrace(), evals.ScheduleOptions{})
	require.NoError(t, err)
	assert.Equal(t, queue.JobID("trace-1", "faithfulness", "proj-1"), jobID)

	trace, err := s.GetTrace(ctx, "proj-1", "trace-1")
	require.NoError(t, err)
	require.Len(t, trace.Evaluations, 1)
	assert.Equal(t, models.EvaluationStatusScheduled, trace.Evaluations[0].Status)

	job, err := q.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, evals.JobKindEvaluation, job.Kind)
}

func TestSchedule_Idempotent(t *testing.T) {
	q := newFakeQueue()
	sched := newTestScheduler(q, newMemStore())
	ctx := context.Background()

	id1, err := sched.Schedule(ctx, testCheck(), testTrace(), evals.ScheduleOptions{})
	require.NoError(t, err)
	id2, err := sched.Schedule(ctx, testCheck(), testTrace(), evals.ScheduleOptions{})
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, q.addCalls, "second schedule must not enqueue")
	assert.Len(t, q.jobs, 1)
}

func TestSchedule_DefaultDelay(t *testing.T) {
	q := newFakeQueue()
	sched := newTestScheduler(q, newMemStore())

	_, err := sched.Schedule(context.Background(), testCheck(), testTrace(), evals.ScheduleOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, q.lastAdd.Delay)
}

func TestSchedule_ExplicitZeroDelay(t *testing.T) {
	q := newFakeQueue()
	sched := newTestScheduler(q, newMemStore())

	zero := time.Duration(0)
	_, err := sched.Schedule(context.Background(), testCheck(), testTrace(),
		evals.ScheduleOptions{Delay: &zero})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), q.lastAdd.Delay, "explicit zero means enqueue immediately")
}

func TestSchedule_RetryNotDuplicate(t *testing.T) {
	q := newFakeQueue()
	sched := newTestScheduler(q, newMemStore())
	ctx := context.Background()

	jobID, err := sched.Schedule(ctx, testCheck(), testTrace(), evals.ScheduleOptions{})
	require.NoError(t, err)
	q.jobs[jobID].State = queue.StateFailed

	_, err = sched.Schedule(ctx, testCheck(), testTrace(), evals.ScheduleOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, q.addCalls, "terminal job is re-armed, not re-created")
	assert.Equal(t, 1, q.retryCalls)
	assert.Len(t, q.jobs, 1)
	assert.Equal(t, queue.StateWaiting, q.jobs[jobID].State)
}

func TestSchedule_InFlightIsNoOp(t *testing.T) {
	q := newFakeQueue()
	sched := newTestScheduler(q, newMemStore())
	ctx := context.Background()

	jobID, err := sched.Schedule(ctx, testCheck(), testTrace(), evals.ScheduleOptions{})
	require.NoError(t, err)
	q.jobs[jobID].State = queue.StateActive

	_, err = sched.Schedule(ctx, testCheck(), testTrace(), evals.ScheduleOptions{})
	require.NoError(t, err, "in-flight job makes scheduling a silent no-op")
	assert.Equal(t, 1, q.addCalls)
	assert.Equal(t, 0, q.retryCalls)
}

func TestSchedule_AbortsWhenPublishFails(t *testing.T) {
	q := newFakeQueue()
	s := newMemStore()
	s.mergeErr = store.ErrVersionConflict
	sched := newTestScheduler(q, s)

	_, err := sched.Schedule(context.Background(), testCheck(), testTrace(), evals.ScheduleOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, evals.ErrConflictExhausted)
	assert.Equal(t, 0, q.addCalls, "no job without a visible scheduled record")
	assert.Empty(t, q.jobs)
}

func TestSchedule_ConcurrentAddRaceIsNoOp(t *testing.T) {
	q := newFakeQueue()
	q.addErr = queue.ErrJobExists
	sched := newTestScheduler(q, newMemStore())

	_, err := sched.Schedule(context.Background(), testCheck(), testTrace(), evals.ScheduleOptions{})
	assert.NoError(t, err, "losing the enqueue race still satisfies the invariant")
}

func TestSchedule_MinimizedPayload(t *testing.T) {
	q := newFakeQueue()
	sched := newTestScheduler(q, newMemStore())
	ctx := context.Background()

	jobID, err := sched.Schedule(ctx, testCheck(), testTrace(), evals.ScheduleOptions{})
	require.NoError(t, err)

	job, err := q.GetJob(ctx, jobID)
	require.NoError(t, err)

	var payload models.JobPayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, "faithfulness", payload.Check.EvaluatorID)
	assert.Equal(t, "trace-1", payload.Trace.TraceID)
	assert.Equal(t, "proj-1", payload.Trace.ProjectID)
	require.NotNil(t, payload.Trace.ThreadID)
	assert.Equal(t, "thread-9", *payload.Trace.ThreadID)
}
