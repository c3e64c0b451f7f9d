package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/classlab/gradeflow/internal/domain"
	"github.com/classlab/gradeflow/internal/logger"
)

// Handler processes one grading job. Returning a TerminalError fails the
// job immediately; any other error schedules a retry until the job runs
// out of attempts.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *domain.Job) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job) error {
	return f(ctx, job)
}

const heartbeatInterval = 15 * time.Second

// Pool runs a fixed set of workers against the queue plus a reaper that
// promotes due delayed jobs and requeues stalled active ones.
type Pool struct {
	queue   *Queue
	handler Handler
	log     *logger.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool creates a worker pool over q.
func NewPool(q *Queue, handler Handler) *Pool {
	return &Pool{
		queue:   q,
		handler: handler,
		log:     q.log.WithField(logger.FieldComponent, "worker"),
	}
}

// Start launches the workers and the reaper. It returns immediately;
// call Stop to drain.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	workers := p.queue.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}

	p.wg.Add(1)
	go p.runReaper(ctx)

	p.log.Infof("worker pool started with %d workers", workers)
}

// Stop signals all workers to finish their current job and waits for them.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info("worker pool stopped")
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.WithField(logger.FieldWorker, id)

	interval := p.queue.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// Drain the waiting list before sleeping again.
		for {
			if ctx.Err() != nil {
				return
			}
			jobID, err := p.popWaiting(ctx, log)
			if err != nil || jobID == "" {
				break
			}
			p.process(ctx, log, jobID)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) popWaiting(ctx context.Context, log *logger.Logger) (string, error) {
	var jobID string
	err := p.queue.guard(func() error {
		var err error
		jobID, err = p.queue.store.PopWaiting(ctx)
		return err
	})
	if err != nil && err != ErrCircuitOpen && ctx.Err() == nil {
		log.WithError(err).Warn("failed to pop waiting job")
	}
	return jobID, err
}

// process runs one job through the handler and settles its outcome.
func (p *Pool) process(ctx context.Context, log *logger.Logger, jobID string) {
	job, err := p.queue.GetJob(ctx, jobID)
	if err != nil {
		log.WithError(err).WithField(logger.FieldJobID, jobID).Error("failed to load job record")
		return
	}
	if job.State.Terminal() {
		return
	}

	now := p.queue.nowFunc()
	job.State = domain.JobStateActive
	job.StartedAt = &now
	job.AttemptsMade++

	err = p.queue.guard(func() error {
		if err := p.queue.store.SaveJob(ctx, job); err != nil {
			return err
		}
		return p.queue.store.Heartbeat(ctx, job.ID, now)
	})
	if err != nil {
		log.WithError(err).WithField(logger.FieldJobID, job.ID).Error("failed to activate job")
		return
	}

	p.queue.bus.publish(Event{
		Type:         EventJobActive,
		JobID:        job.ID,
		SubmissionID: job.SubmissionID,
		State:        domain.JobStateActive,
		WaitMs:       now.Sub(job.EnqueuedAt).Milliseconds(),
	})

	log = log.WithFields(logger.Fields{
		logger.FieldJobID:        job.ID,
		logger.FieldSubmissionID: job.SubmissionID,
		logger.FieldAttempt:      job.AttemptsMade,
	})
	log.Info("processing grading job")

	stopBeat := p.keepAlive(ctx, job.ID)
	handlerErr := p.safeHandle(ctx, job)
	stopBeat()

	if handlerErr == nil {
		if err := p.queue.complete(ctx, job); err != nil {
			log.WithError(err).Error("failed to mark job completed")
		} else {
			log.WithField(logger.FieldDurationMs, time.Since(now).Milliseconds()).Info("grading job completed")
		}
		return
	}

	if IsTerminal(handlerErr) || job.AttemptsMade >= job.MaxAttempts {
		if err := p.queue.fail(ctx, job, handlerErr); err != nil {
			log.WithError(err).Error("failed to mark job failed")
		}
		return
	}

	if err := p.queue.retry(ctx, job, handlerErr); err != nil {
		log.WithError(err).Error("failed to schedule job retry")
	}
}

// safeHandle invokes the handler, converting a panic into a job error so a
// bad job can never take a worker down.
func (p *Pool) safeHandle(ctx context.Context, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return p.handler.Handle(ctx, job)
}

// keepAlive refreshes the job's heartbeat while the handler runs so the
// reaper does not mistake a long job for a stalled one.
func (p *Pool) keepAlive(ctx context.Context, jobID string) func() {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = p.queue.guard(func() error {
					return p.queue.store.Heartbeat(ctx, jobID, p.queue.nowFunc())
				})
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

func (p *Pool) runReaper(ctx context.Context) {
	defer p.wg.Done()

	interval := p.queue.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.promoteDelayed(ctx)
			p.requeueStalled(ctx)
		}
	}
}

// promoteDelayed moves delayed jobs whose backoff has elapsed back onto
// the waiting list.
func (p *Pool) promoteDelayed(ctx context.Context) {
	var due []string
	err := p.queue.guard(func() error {
		var err error
		due, err = p.queue.store.PopDueDelayed(ctx, p.queue.nowFunc())
		return err
	})
	if err != nil {
		if err != ErrCircuitOpen {
			p.log.WithError(err).Warn("failed to promote delayed jobs")
		}
		return
	}

	for _, id := range due {
		job, err := p.queue.GetJob(ctx, id)
		if err != nil {
			p.log.WithError(err).WithField(logger.FieldJobID, id).Warn("delayed job record missing")
			continue
		}
		job.State = domain.JobStateWaiting
		err = p.queue.guard(func() error {
			if err := p.queue.store.SaveJob(ctx, job); err != nil {
				return err
			}
			return p.queue.store.PushWaiting(ctx, id)
		})
		if err != nil {
			p.log.WithError(err).WithField(logger.FieldJobID, id).Warn("failed to requeue delayed job")
		}
	}
}

// requeueStalled returns jobs whose heartbeat went silent to the waiting
// list. The job keeps its attempt count; a job that stalls repeatedly
// still exhausts MaxAttempts.
func (p *Pool) requeueStalled(ctx context.Context) {
	if p.queue.cfg.StallAfter <= 0 {
		return
	}
	cutoff := p.queue.nowFunc().Add(-p.queue.cfg.StallAfter)

	var stale []string
	err := p.queue.guard(func() error {
		var err error
		stale, err = p.queue.store.StaleActive(ctx, cutoff)
		return err
	})
	if err != nil {
		if err != ErrCircuitOpen {
			p.log.WithError(err).Warn("failed to scan for stalled jobs")
		}
		return
	}

	for _, id := range stale {
		job, err := p.queue.GetJob(ctx, id)
		if err != nil {
			p.log.WithError(err).WithField(logger.FieldJobID, id).Warn("stalled job record missing")
			continue
		}
		if job.State.Terminal() {
			_ = p.queue.guard(func() error {
				return p.queue.store.ClearActive(ctx, id)
			})
			continue
		}

		job.State = domain.JobStateWaiting
		job.StartedAt = nil
		err = p.queue.guard(func() error {
			if err := p.queue.store.SaveJob(ctx, job); err != nil {
				return err
			}
			if err := p.queue.store.ClearActive(ctx, id); err != nil {
				return err
			}
			return p.queue.store.PushWaiting(ctx, id)
		})
		if err != nil {
			p.log.WithError(err).WithField(logger.FieldJobID, id).Warn("failed to requeue stalled job")
			continue
		}

		p.log.WithField(logger.FieldJobID, id).Warn("stalled job returned to waiting list")
		p.queue.bus.publish(Event{
			Type:         EventJobStalled,
			JobID:        id,
			SubmissionID: job.SubmissionID,
			State:        domain.JobStateWaiting,
		})
	}
}
