package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/classlab/gradeflow/internal/domain"
)

// ErrJobNotFound is returned when no job record exists for an id.
var ErrJobNotFound = errors.New("job not found")

// QueueStore persists queue state in Redis. It is the durable side of the
// job queue: job records as JSON values, a waiting list, a delayed sorted
// set scored by ready-at time, and an active sorted set scored by heartbeat.
type QueueStore struct {
	rdb  *redis.Client
	keys *Keys
}

// NewQueueStore creates a QueueStore over the shared client.
func NewQueueStore(rdb *redis.Client, keys *Keys) *QueueStore {
	return &QueueStore{rdb: rdb, keys: keys}
}

// SaveJob writes the full job record.
func (s *QueueStore) SaveJob(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := s.rdb.Set(ctx, s.keys.Job(job.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob loads one job record.
func (s *QueueStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	raw, err := s.rdb.Get(ctx, s.keys.Job(id)).Result()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job %s: %w", id, err)
	}

	var job domain.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// PushWaiting appends a job id to the waiting list.
func (s *QueueStore) PushWaiting(ctx context.Context, id string) error {
	if err := s.rdb.LPush(ctx, s.keys.Waiting(), id).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", id, err)
	}
	return nil
}

// PopWaiting removes and returns the next waiting job id, or "" when the
// queue is empty.
func (s *QueueStore) PopWaiting(ctx context.Context) (string, error) {
	id, err := s.rdb.RPop(ctx, s.keys.Waiting()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to pop waiting job: %w", err)
	}
	return id, nil
}

// PushDelayed schedules a job id to re-enter the waiting list at readyAt.
func (s *QueueStore) PushDelayed(ctx context.Context, id string, readyAt time.Time) error {
	err := s.rdb.ZAdd(ctx, s.keys.Delayed(), redis.Z{
		Score:  float64(readyAt.Unix()),
		Member: id,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to delay job %s: %w", id, err)
	}
	return nil
}

// PopDueDelayed atomically collects delayed job ids whose ready-at time has
// passed and removes them from the delayed set.
func (s *QueueStore) PopDueDelayed(ctx context.Context, now time.Time) ([]string, error) {
	max := fmt.Sprintf("%d", now.Unix())
	ids, err := s.rdb.ZRangeByScore(ctx, s.keys.Delayed(), &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan delayed jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := s.rdb.ZRem(ctx, s.keys.Delayed(), members...).Err(); err != nil {
		return nil, fmt.Errorf("failed to remove due delayed jobs: %w", err)
	}
	return ids, nil
}

// Heartbeat records a job as active as of now. Called on job start and
// periodically while the handler runs.
func (s *QueueStore) Heartbeat(ctx context.Context, id string, now time.Time) error {
	err := s.rdb.ZAdd(ctx, s.keys.Active(), redis.Z{
		Score:  float64(now.Unix()),
		Member: id,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to heartbeat job %s: %w", id, err)
	}
	return nil
}

// ClearActive removes a job from the active set.
func (s *QueueStore) ClearActive(ctx context.Context, id string) error {
	if err := s.rdb.ZRem(ctx, s.keys.Active(), id).Err(); err != nil {
		return fmt.Errorf("failed to clear active job %s: %w", id, err)
	}
	return nil
}

// StaleActive returns ids of active jobs whose last heartbeat is older than
// cutoff. Used by the stalled-job reaper.
func (s *QueueStore) StaleActive(ctx context.Context, cutoff time.Time) ([]string, error) {
	max := fmt.Sprintf("%d", cutoff.Unix())
	ids, err := s.rdb.ZRangeByScore(ctx, s.keys.Active(), &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan active jobs: %w", err)
	}
	return ids, nil
}

// MarkTerminal records a job id in the completed or failed set.
func (s *QueueStore) MarkTerminal(ctx context.Context, id string, state domain.JobState) error {
	var key string
	switch state {
	case domain.JobStateCompleted:
		key = s.keys.Completed()
	case domain.JobStateFailed:
		key = s.keys.Failed()
	default:
		return fmt.Errorf("state %s is not terminal", state)
	}
	if err := s.rdb.SAdd(ctx, key, id).Err(); err != nil {
		return fmt.Errorf("failed to mark job %s %s: %w", id, state, err)
	}
	return nil
}

// Counts returns the per-state job counts.
func (s *QueueStore) Counts(ctx context.Context) (domain.QueueCounts, error) {
	var counts domain.QueueCounts

	pipe := s.rdb.Pipeline()
	waiting := pipe.LLen(ctx, s.keys.Waiting())
	active := pipe.ZCard(ctx, s.keys.Active())
	completed := pipe.SCard(ctx, s.keys.Completed())
	failed := pipe.SCard(ctx, s.keys.Failed())
	delayed := pipe.ZCard(ctx, s.keys.Delayed())

	if _, err := pipe.Exec(ctx); err != nil {
		return counts, fmt.Errorf("failed to read queue counts: %w", err)
	}

	counts.Waiting = waiting.Val()
	counts.Active = active.Val()
	counts.Completed = completed.Val()
	counts.Failed = failed.Val()
	counts.Delayed = delayed.Val()
	return counts, nil
}
