// Package queue implements the durable grading-job queue: enqueueing,
// a worker pool with retry and backoff, and stalled-job recovery. Job
// records live in a backing store (Redis in production); the queue owns
// every state transition a job goes through.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/classlab/gradeflow/internal/breaker"
	"github.com/classlab/gradeflow/internal/config"
	"github.com/classlab/gradeflow/internal/domain"
	"github.com/classlab/gradeflow/internal/logger"
	"github.com/classlab/gradeflow/internal/redisq"
)

// ErrCircuitOpen is returned when the breaker rejects a backing-store call.
var ErrCircuitOpen = errors.New("queue backing store circuit open")

// ErrJobNotFound is returned when no job record exists for an id.
var ErrJobNotFound = redisq.ErrJobNotFound

// Store is the backing-store surface the queue needs. The production
// implementation is redisq.QueueStore.
type Store interface {
	SaveJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	PushWaiting(ctx context.Context, id string) error
	PopWaiting(ctx context.Context) (string, error)
	PushDelayed(ctx context.Context, id string, readyAt time.Time) error
	PopDueDelayed(ctx context.Context, now time.Time) ([]string, error)
	Heartbeat(ctx context.Context, id string, now time.Time) error
	ClearActive(ctx context.Context, id string) error
	StaleActive(ctx context.Context, cutoff time.Time) ([]string, error)
	MarkTerminal(ctx context.Context, id string, state domain.JobState) error
	Counts(ctx context.Context) (domain.QueueCounts, error)
}

// EnqueueRequest holds the fields needed to create a grading job.
type EnqueueRequest struct {
	SubmissionID string
	AssignmentID string
	UserID       string
	ContentType  domain.ContentType
	ContentRef   string
}

// Queue manages grading jobs in the backing store. All store access goes
// through the circuit breaker; this layer owns the CanExecute check.
type Queue struct {
	store Store
	brk   *breaker.Breaker
	cfg   config.QueueConfig
	log   *logger.Logger
	bus   eventBus

	nowFunc func() time.Time
}

// New creates a Queue.
func New(store Store, brk *breaker.Breaker, cfg config.QueueConfig, log *logger.Logger) *Queue {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Queue{
		store:   store,
		brk:     brk,
		cfg:     cfg,
		log:     log.WithField(logger.FieldComponent, "queue"),
		nowFunc: time.Now,
	}
}

// Subscribe registers a listener for job lifecycle events.
func (q *Queue) Subscribe() <-chan Event {
	return q.bus.Subscribe()
}

// guard runs fn under the circuit breaker, recording the outcome.
func (q *Queue) guard(fn func() error) error {
	if !q.brk.CanExecute() {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		// A missing job record is a business outcome, not store trouble.
		if errors.Is(err, ErrJobNotFound) {
			q.brk.RecordSuccess()
		} else {
			q.brk.RecordFailure(err)
		}
		return err
	}
	q.brk.RecordSuccess()
	return nil
}

// Enqueue creates a job in the waiting state and returns it immediately.
// The caller never blocks on grading work.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.Job, error) {
	if !req.ContentType.Valid() {
		return nil, fmt.Errorf("unsupported content type %q", req.ContentType)
	}

	job := &domain.Job{
		ID:           uuid.NewString(),
		SubmissionID: req.SubmissionID,
		AssignmentID: req.AssignmentID,
		UserID:       req.UserID,
		ContentType:  req.ContentType,
		ContentRef:   req.ContentRef,
		MaxAttempts:  q.cfg.MaxAttempts,
		State:        domain.JobStateWaiting,
		EnqueuedAt:   q.nowFunc(),
	}

	err := q.guard(func() error {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return err
		}
		return q.store.PushWaiting(ctx, job.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.log.WithFields(logger.Fields{
		logger.FieldJobID:        job.ID,
		logger.FieldSubmissionID: job.SubmissionID,
	}).Info("grading job enqueued")

	q.bus.publish(Event{
		Type:         EventJobAdded,
		JobID:        job.ID,
		SubmissionID: job.SubmissionID,
		State:        domain.JobStateWaiting,
	})
	return job, nil
}

// GetJob returns the current record for a job id.
func (q *Queue) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var job *domain.Job
	err := q.guard(func() error {
		var err error
		job, err = q.store.GetJob(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Counts returns the per-state job counts.
func (q *Queue) Counts(ctx context.Context) (domain.QueueCounts, error) {
	var counts domain.QueueCounts
	err := q.guard(func() error {
		var err error
		counts, err = q.store.Counts(ctx)
		return err
	})
	return counts, err
}

// backoffDelay computes the retry delay after the given number of
// attempts: base doubled once per attempt made, up to the cap.
func (q *Queue) backoffDelay(attemptsMade int) time.Duration {
	delay := q.cfg.BackoffBase
	for i := 0; i < attemptsMade; i++ {
		delay *= 2
		if delay >= q.cfg.BackoffCap {
			return q.cfg.BackoffCap
		}
	}
	if delay > q.cfg.BackoffCap {
		delay = q.cfg.BackoffCap
	}
	return delay
}

// retry schedules a failed job for another attempt after backoff.
func (q *Queue) retry(ctx context.Context, job *domain.Job, cause error) error {
	job.State = domain.JobStateDelayed
	job.FailedReason = cause.Error()
	readyAt := q.nowFunc().Add(q.backoffDelay(job.AttemptsMade))

	err := q.guard(func() error {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return err
		}
		if err := q.store.ClearActive(ctx, job.ID); err != nil {
			return err
		}
		return q.store.PushDelayed(ctx, job.ID, readyAt)
	})
	if err != nil {
		return err
	}

	q.log.WithFields(logger.Fields{
		logger.FieldJobID:   job.ID,
		logger.FieldAttempt: job.AttemptsMade,
		"retry_at":          readyAt,
	}).WithError(cause).Warn("grading job scheduled for retry")

	q.bus.publish(Event{
		Type:         EventJobRetried,
		JobID:        job.ID,
		SubmissionID: job.SubmissionID,
		State:        domain.JobStateDelayed,
		Reason:       cause.Error(),
	})
	return nil
}

// complete marks a job successfully finished.
func (q *Queue) complete(ctx context.Context, job *domain.Job) error {
	now := q.nowFunc()
	job.State = domain.JobStateCompleted
	job.CompletedAt = &now

	err := q.guard(func() error {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return err
		}
		if err := q.store.ClearActive(ctx, job.ID); err != nil {
			return err
		}
		return q.store.MarkTerminal(ctx, job.ID, domain.JobStateCompleted)
	})
	if err != nil {
		return err
	}

	q.bus.publish(Event{
		Type:         EventJobCompleted,
		JobID:        job.ID,
		SubmissionID: job.SubmissionID,
		State:        domain.JobStateCompleted,
		ProcessingMs: processingMs(job, now),
	})
	return nil
}

// fail marks a job permanently failed.
func (q *Queue) fail(ctx context.Context, job *domain.Job, cause error) error {
	now := q.nowFunc()
	job.State = domain.JobStateFailed
	job.FailedReason = cause.Error()
	job.CompletedAt = &now

	err := q.guard(func() error {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return err
		}
		if err := q.store.ClearActive(ctx, job.ID); err != nil {
			return err
		}
		return q.store.MarkTerminal(ctx, job.ID, domain.JobStateFailed)
	})
	if err != nil {
		return err
	}

	q.log.WithFields(logger.Fields{
		logger.FieldJobID:   job.ID,
		logger.FieldAttempt: job.AttemptsMade,
	}).WithError(cause).Error("grading job failed permanently")

	q.bus.publish(Event{
		Type:         EventJobFailed,
		JobID:        job.ID,
		SubmissionID: job.SubmissionID,
		State:        domain.JobStateFailed,
		Reason:       cause.Error(),
		ProcessingMs: processingMs(job, now),
	})
	return nil
}

func processingMs(job *domain.Job, finished time.Time) int64 {
	if job.StartedAt == nil {
		return 0
	}
	return finished.Sub(*job.StartedAt).Milliseconds()
}
