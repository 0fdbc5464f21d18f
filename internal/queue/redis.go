package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements the Queue interface using go-redis/v9. Job records
// are hashes; delayed jobs sit in a sorted set scored by ready time, waiting
// jobs in a list. Per-id uniqueness comes from HSETNX on the job hash.
type RedisQueue struct {
	client *redis.Client
	cfg    Config
}

// NewRedisQueue creates a new RedisQueue from a Redis URL.
func NewRedisQueue(redisURL string, cfg Config) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisQueue{client: redis.NewClient(opts), cfg: cfg.withDefaults()}, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Add enqueues a new job under the caller-supplied id. If a job with that id
// already exists, the existing record is returned with ErrJobExists and
// nothing is written.
func (q *RedisQueue) Add(ctx context.Context, kind string, payload any, opts AddOptions) (*Job, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("add job: id is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}

	key := jobKey(opts.ID)
	created, err := q.client.HSetNX(ctx, key, "id", opts.ID).Result()
	if err != nil {
		return nil, fmt.Errorf("add job: %w", err)
	}
	if !created {
		existing, err := q.GetJob(ctx, opts.ID)
		if err != nil {
			return nil, fmt.Errorf("add job: %w", err)
		}
		return existing, ErrJobExists
	}

	now := time.Now().UTC()
	readyAt := now.Add(opts.Delay)
	state := StateWaiting
	if opts.Delay > 0 {
		state = StateDelayed
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key,
		"kind", kind,
		"payload", string(body),
		"state", string(state),
		"attempts", 0,
		"max_attempts", q.cfg.MaxAttempts,
		"enqueued_at", now.UnixMilli(),
		"ready_at", readyAt.UnixMilli(),
	)
	if state == StateDelayed {
		pipe.ZAdd(ctx, delayedKey, redis.Z{Score: float64(readyAt.UnixMilli()), Member: opts.ID})
	} else {
		pipe.RPush(ctx, waitingKey, opts.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("add job: %w", err)
	}

	return &Job{
		ID:          opts.ID,
		Kind:        kind,
		Payload:     body,
		State:       state,
		MaxAttempts: q.cfg.MaxAttempts,
		EnqueuedAt:  now,
		ReadyAt:     readyAt,
	}, nil
}

func (q *RedisQueue) GetJob(ctx context.Context, id string) (*Job, error) {
	fields, err := q.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return jobFromFields(fields)
}

// Retry re-arms a terminal job back to waiting under the same id, preserving
// its attempt history. fromState is the terminal state the caller observed;
// a mismatch means someone else moved the job first.
func (q *RedisQueue) Retry(ctx context.Context, id string, fromState JobState) error {
	if !fromState.Terminal() {
		return fmt.Errorf("retry job %s from %s: %w", id, fromState, ErrStateMismatch)
	}
	key := jobKey(id)
	state, err := q.client.HGet(ctx, key, "state").Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if JobState(state) != fromState {
		return fmt.Errorf("retry job %s: have %s, want %s: %w", id, state, fromState, ErrStateMismatch)
	}

	now := time.Now().UTC()
	pipe := q.client.TxPipeline()
	pipe.Persist(ctx, key) // clear terminal retention TTL
	pipe.HSet(ctx, key,
		"state", string(StateWaiting),
		"last_error", "",
		"ready_at", now.UnixMilli(),
		"finished_at", 0,
	)
	pipe.RPush(ctx, waitingKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	return nil
}

// Claim pops the next waiting job and marks it active, bumping its attempt
// count. Returns ErrNoJobs when the waiting list is empty.
func (q *RedisQueue) Claim(ctx context.Context) (*Job, error) {
	id, err := q.client.LPop(ctx, waitingKey).Result()
	if err == redis.Nil {
		return nil, ErrNoJobs
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	key := jobKey(id)
	now := time.Now().UTC()
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, "state", string(StateActive), "started_at", now.UnixMilli())
	pipe.HIncrBy(ctx, key, "attempts", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return q.GetJob(ctx, id)
}

// Complete marks a job completed and starts its retention clock.
func (q *RedisQueue) Complete(ctx context.Context, id string) error {
	key := jobKey(id)
	now := time.Now().UTC()
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, "state", string(StateCompleted), "finished_at", now.UnixMilli())
	pipe.Expire(ctx, key, q.cfg.CompletedTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Fail records a failed attempt. Below the attempt ceiling the job is
// re-armed into the delayed set with exponential backoff; at the ceiling it
// goes terminal failed and its retention clock starts.
func (q *RedisQueue) Fail(ctx context.Context, id string, jobErr string) error {
	key := jobKey(id)
	vals, err := q.client.HMGet(ctx, key, "attempts", "max_attempts").Result()
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	attempts := fieldInt(vals[0])
	maxAttempts := fieldInt(vals[1])
	if maxAttempts == 0 {
		return ErrNotFound
	}

	now := time.Now().UTC()
	pipe := q.client.TxPipeline()
	if attempts >= maxAttempts {
		pipe.HSet(ctx, key,
			"state", string(StateFailed),
			"last_error", jobErr,
			"finished_at", now.UnixMilli(),
		)
		pipe.Expire(ctx, key, q.cfg.FailedTTL)
	} else {
		readyAt := now.Add(q.cfg.RetryDelay(attempts))
		pipe.HSet(ctx, key,
			"state", string(StateDelayed),
			"last_error", jobErr,
			"ready_at", readyAt.UnixMilli(),
		)
		pipe.ZAdd(ctx, delayedKey, redis.Z{Score: float64(readyAt.UnixMilli()), Member: id})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// PromoteDue moves delayed jobs whose ready time has elapsed onto the
// waiting list. Returns the number promoted. ZREM is the claim: only the
// caller that removes the member moves the job, so concurrent promoters
// cannot double-enqueue.
func (q *RedisQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("promote due jobs: %w", err)
	}

	promoted := 0
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, delayedKey, id).Result()
		if err != nil {
			return promoted, fmt.Errorf("promote due jobs: %w", err)
		}
		if removed == 0 {
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, jobKey(id), "state", string(StateWaiting))
		pipe.RPush(ctx, waitingKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return promoted, fmt.Errorf("promote due jobs: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// IncrWithExpiry atomically increments a counter and refreshes its expiry.
// Used by the rate-limit middleware, which shares this Redis connection.
func (q *RedisQueue) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := q.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func jobFromFields(fields map[string]string) (*Job, error) {
	j := &Job{
		ID:          fields["id"],
		Kind:        fields["kind"],
		Payload:     json.RawMessage(fields["payload"]),
		State:       JobState(fields["state"]),
		LastError:   fields["last_error"],
		Attempts:    fieldInt(fields["attempts"]),
		MaxAttempts: fieldInt(fields["max_attempts"]),
	}
	j.EnqueuedAt = milliTime(fields["enqueued_at"])
	j.ReadyAt = milliTime(fields["ready_at"])
	if t := milliTime(fields["started_at"]); !t.IsZero() {
		j.StartedAt = &t
	}
	if t := milliTime(fields["finished_at"]); !t.IsZero() {
		j.FinishedAt = &t
	}
	return j, nil
}

func fieldInt(v any) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func milliTime(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
