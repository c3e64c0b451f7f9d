package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/classlab/gradeflow/internal/breaker"
	"github.com/classlab/gradeflow/internal/config"
	"github.com/classlab/gradeflow/internal/domain"
)

// memStore is an in-memory Store used in place of Redis.
type memStore struct {
	mu      sync.Mutex
	jobs    map[string]domain.Job
	waiting []string
	delayed map[string]time.Time
	active  map[string]time.Time
	done    map[string]domain.JobState
	failErr error
}

func newMemStore() *memStore {
	return &memStore{
		jobs:    make(map[string]domain.Job),
		delayed: make(map[string]time.Time),
		active:  make(map[string]time.Time),
		done:    make(map[string]domain.JobState),
	}
}

func (s *memStore) SaveJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *memStore) GetJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

func (s *memStore) PushWaiting(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.waiting = append(s.waiting, id)
	return nil
}

func (s *memStore) PopWaiting(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return "", s.failErr
	}
	if len(s.waiting) == 0 {
		return "", nil
	}
	id := s.waiting[0]
	s.waiting = s.waiting[1:]
	return id, nil
}

func (s *memStore) PushDelayed(_ context.Context, id string, readyAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delayed[id] = readyAt
	return nil
}

func (s *memStore) PopDueDelayed(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []string
	for id, readyAt := range s.delayed {
		if !readyAt.After(now) {
			due = append(due, id)
			delete(s.delayed, id)
		}
	}
	return due, nil
}

func (s *memStore) Heartbeat(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[id] = now
	return nil
}

func (s *memStore) ClearActive(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
	return nil
}

func (s *memStore) StaleActive(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []string
	for id, beat := range s.active {
		if beat.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale, nil
}

func (s *memStore) MarkTerminal(_ context.Context, id string, state domain.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[id] = state
	return nil
}

func (s *memStore) Counts(_ context.Context) (domain.QueueCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := domain.QueueCounts{
		Waiting: int64(len(s.waiting)),
		Active:  int64(len(s.active)),
		Delayed: int64(len(s.delayed)),
	}
	for _, state := range s.done {
		if state == domain.JobStateCompleted {
			counts.Completed++
		} else {
			counts.Failed++
		}
	}
	return counts, nil
}

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		Workers:      1,
		MaxAttempts:  3,
		BackoffBase:  time.Second,
		BackoffCap:   30 * time.Second,
		PollInterval: 10 * time.Millisecond,
		StallAfter:   time.Minute,
	}
}

func newTestQueue(store Store) *Queue {
	brk := breaker.New(&breaker.Config{
		FailureThreshold: 3,
		ResetTimeout:     30 * time.Second,
		MonitoringPeriod: time.Minute,
		MaxRequests:      100000,
	}, nil)
	return New(store, brk, testQueueConfig(), nil)
}

func drainEvents(ch <-chan Event) []Event {
	var events []Event
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestEnqueue_CreatesWaitingJob(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(store)
	events := q.Subscribe()

	job, err := q.Enqueue(context.Background(), EnqueueRequest{
		SubmissionID: "sub-1",
		AssignmentID: "asn-1",
		UserID:       "user-1",
		ContentType:  domain.ContentTypeText,
		ContentRef:   "hello",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected a generated job id")
	}
	if job.State != domain.JobStateWaiting {
		t.Fatalf("state = %s, want waiting", job.State)
	}
	if job.MaxAttempts != 3 {
		t.Fatalf("max attempts = %d, want 3", job.MaxAttempts)
	}

	stored, err := q.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.SubmissionID != "sub-1" {
		t.Fatalf("stored submission id = %q", stored.SubmissionID)
	}

	evs := drainEvents(events)
	if len(evs) != 1 || evs[0].Type != EventJobAdded {
		t.Fatalf("events = %+v, want one added event", evs)
	}
}

func TestEnqueue_RejectsInvalidContentType(t *testing.T) {
	q := newTestQueue(newMemStore())
	_, err := q.Enqueue(context.Background(), EnqueueRequest{
		SubmissionID: "sub-1",
		ContentType:  domain.ContentType("hologram"),
	})
	if err == nil {
		t.Fatal("expected error for invalid content type")
	}
}

func TestGetJob_NotFound(t *testing.T) {
	q := newTestQueue(newMemStore())
	_, err := q.GetJob(context.Background(), "missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	q := newTestQueue(newMemStore())

	tests := []struct {
		attemptsMade int
		want         time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := q.backoffDelay(tt.attemptsMade); got != tt.want {
			t.Errorf("backoffDelay(%d) = %s, want %s", tt.attemptsMade, got, tt.want)
		}
	}
}

func TestRetry_BackoffSchedule(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(store)

	now := time.Now()
	q.nowFunc = func() time.Time { return now }

	pool := NewPool(q, HandlerFunc(func(_ context.Context, job *domain.Job) error {
		return errors.New("model timeout")
	}))

	job, err := q.Enqueue(context.Background(), EnqueueRequest{
		SubmissionID: "sub-1",
		ContentType:  domain.ContentTypeText,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// With a 1s base, attempt N is rescheduled 2^N seconds out.
	wantDelays := []time.Duration{2 * time.Second, 4 * time.Second}
	for attempt, want := range wantDelays {
		id, _ := store.PopWaiting(context.Background())
		if id == "" {
			now = now.Add(time.Hour)
			pool.promoteDelayed(context.Background())
			id, _ = store.PopWaiting(context.Background())
		}
		pool.process(context.Background(), q.log, id)

		store.mu.Lock()
		readyAt, ok := store.delayed[job.ID]
		store.mu.Unlock()
		if !ok {
			t.Fatalf("attempt %d: job not delayed", attempt+1)
		}
		if got := readyAt.Sub(now); got != want {
			t.Fatalf("attempt %d: delay = %s, want %s", attempt+1, got, want)
		}
	}
}

func TestProcess_Success(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(store)
	events := q.Subscribe()

	var handled int
	pool := NewPool(q, HandlerFunc(func(_ context.Context, job *domain.Job) error {
		handled++
		return nil
	}))

	job, err := q.Enqueue(context.Background(), EnqueueRequest{
		SubmissionID: "sub-1",
		AssignmentID: "asn-1",
		ContentType:  domain.ContentTypeText,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	id, _ := store.PopWaiting(context.Background())
	pool.process(context.Background(), q.log, id)

	if handled != 1 {
		t.Fatalf("handler ran %d times, want 1", handled)
	}
	final, err := q.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if final.State != domain.JobStateCompleted {
		t.Fatalf("state = %s, want completed", final.State)
	}
	if final.AttemptsMade != 1 {
		t.Fatalf("attempts = %d, want 1", final.AttemptsMade)
	}
	if final.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}
	if store.done[job.ID] != domain.JobStateCompleted {
		t.Fatal("job not marked terminal completed in store")
	}
	if len(store.active) != 0 {
		t.Fatal("active set not cleared")
	}

	var types []EventType
	for _, ev := range drainEvents(events) {
		types = append(types, ev.Type)
	}
	want := []EventType{EventJobAdded, EventJobActive, EventJobCompleted}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v, want %v", types, want)
		}
	}
}

func TestProcess_RetriesThenFails(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(store)

	now := time.Now()
	q.nowFunc = func() time.Time { return now }

	pool := NewPool(q, HandlerFunc(func(_ context.Context, job *domain.Job) error {
		return errors.New("model timeout")
	}))

	job, err := q.Enqueue(context.Background(), EnqueueRequest{
		SubmissionID: "sub-1",
		ContentType:  domain.ContentTypeText,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		id, _ := store.PopWaiting(context.Background())
		if id == "" {
			// Delayed jobs become due once their backoff elapses.
			now = now.Add(time.Hour)
			pool.promoteDelayed(context.Background())
			id, _ = store.PopWaiting(context.Background())
		}
		if id == "" {
			t.Fatalf("attempt %d: no job available", attempt)
		}
		pool.process(context.Background(), q.log, id)

		current, err := q.GetJob(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if current.AttemptsMade != attempt {
			t.Fatalf("attempts = %d, want %d", current.AttemptsMade, attempt)
		}
		if attempt < 3 && current.State != domain.JobStateDelayed {
			t.Fatalf("attempt %d: state = %s, want delayed", attempt, current.State)
		}
	}

	final, _ := q.GetJob(context.Background(), job.ID)
	if final.State != domain.JobStateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
	if final.FailedReason == "" {
		t.Fatal("expected failure reason to be recorded")
	}
}

func TestProcess_TerminalErrorFailsImmediately(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(store)

	pool := NewPool(q, HandlerFunc(func(_ context.Context, job *domain.Job) error {
		return Terminal(errors.New("unsupported content type"))
	}))

	job, _ := q.Enqueue(context.Background(), EnqueueRequest{
		SubmissionID: "sub-1",
		ContentType:  domain.ContentTypeText,
	})

	id, _ := store.PopWaiting(context.Background())
	pool.process(context.Background(), q.log, id)

	final, _ := q.GetJob(context.Background(), job.ID)
	if final.State != domain.JobStateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
	if final.AttemptsMade != 1 {
		t.Fatalf("attempts = %d, want 1", final.AttemptsMade)
	}
	if len(store.delayed) != 0 {
		t.Fatal("terminal failure must not schedule a retry")
	}
}

func TestProcess_PanicBecomesRetry(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(store)

	pool := NewPool(q, HandlerFunc(func(_ context.Context, job *domain.Job) error {
		panic("nil pointer somewhere in the handler")
	}))

	job, _ := q.Enqueue(context.Background(), EnqueueRequest{
		SubmissionID: "sub-1",
		ContentType:  domain.ContentTypeText,
	})

	id, _ := store.PopWaiting(context.Background())
	pool.process(context.Background(), q.log, id)

	final, _ := q.GetJob(context.Background(), job.ID)
	if final.State != domain.JobStateDelayed {
		t.Fatalf("state = %s, want delayed", final.State)
	}
	if final.FailedReason == "" {
		t.Fatal("expected panic message in failure reason")
	}
}

func TestRequeueStalled(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(store)
	events := q.Subscribe()

	now := time.Now()
	q.nowFunc = func() time.Time { return now }

	pool := NewPool(q, HandlerFunc(func(_ context.Context, job *domain.Job) error {
		return nil
	}))

	job, _ := q.Enqueue(context.Background(), EnqueueRequest{
		SubmissionID: "sub-1",
		ContentType:  domain.ContentTypeText,
	})

	// Simulate a worker that activated the job and then died.
	id, _ := store.PopWaiting(context.Background())
	stored, _ := q.GetJob(context.Background(), id)
	stored.State = domain.JobStateActive
	started := now
	stored.StartedAt = &started
	stored.AttemptsMade = 1
	_ = store.SaveJob(context.Background(), stored)
	_ = store.Heartbeat(context.Background(), id, now)

	now = now.Add(2 * time.Minute)
	pool.requeueStalled(context.Background())

	final, _ := q.GetJob(context.Background(), job.ID)
	if final.State != domain.JobStateWaiting {
		t.Fatalf("state = %s, want waiting", final.State)
	}
	if final.AttemptsMade != 1 {
		t.Fatalf("attempts = %d, stall must not reset the count", final.AttemptsMade)
	}
	if len(store.waiting) != 1 {
		t.Fatal("job not returned to waiting list")
	}
	if len(store.active) != 0 {
		t.Fatal("active entry not cleared")
	}

	found := false
	for _, ev := range drainEvents(events) {
		if ev.Type == EventJobStalled {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a stalled event")
	}
}

func TestRequeueStalled_SkipsHealthyJobs(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(store)

	now := time.Now()
	q.nowFunc = func() time.Time { return now }

	pool := NewPool(q, HandlerFunc(func(_ context.Context, job *domain.Job) error {
		return nil
	}))

	_, _ = q.Enqueue(context.Background(), EnqueueRequest{
		SubmissionID: "sub-1",
		ContentType:  domain.ContentTypeText,
	})
	id, _ := store.PopWaiting(context.Background())
	_ = store.Heartbeat(context.Background(), id, now)

	// Heartbeat is fresh; nothing should move.
	pool.requeueStalled(context.Background())
	if len(store.waiting) != 0 {
		t.Fatal("healthy active job must not be requeued")
	}
}

func TestEnqueue_OpenCircuit(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(store)

	store.failErr = errors.New("connection refused")
	for i := 0; i < 3; i++ {
		_, _ = q.Enqueue(context.Background(), EnqueueRequest{
			SubmissionID: "sub-1",
			ContentType:  domain.ContentTypeText,
		})
	}

	_, err := q.Enqueue(context.Background(), EnqueueRequest{
		SubmissionID: "sub-2",
		ContentType:  domain.ContentTypeText,
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestPool_EndToEnd(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(store)

	done := make(chan string, 1)
	pool := NewPool(q, HandlerFunc(func(_ context.Context, job *domain.Job) error {
		done <- job.SubmissionID
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	job, err := q.Enqueue(context.Background(), EnqueueRequest{
		SubmissionID: "sub-e2e",
		AssignmentID: "asn-1",
		ContentType:  domain.ContentTypeText,
		ContentRef:   "some essay text",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case got := <-done:
		if got != "sub-e2e" {
			t.Fatalf("handled submission = %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job was never handled")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		final, err := q.GetJob(context.Background(), job.ID)
		if err == nil && final.State == domain.JobStateCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never reached completed state")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
