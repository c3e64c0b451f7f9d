package queue

import (
	"sync"
	"time"

	"github.com/classlab/gradeflow/internal/domain"
)

// EventType identifies a job lifecycle transition.
type EventType string

const (
	EventJobAdded     EventType = "added"
	EventJobActive    EventType = "active"
	EventJobCompleted EventType = "completed"
	EventJobFailed    EventType = "failed"
	EventJobRetried   EventType = "retried"
	EventJobStalled   EventType = "stalled"
)

// Event is a job lifecycle notification. Timings are only set on the
// transitions where they are known: WaitMs when a job turns active,
// ProcessingMs when it completes or fails.
type Event struct {
	Type         EventType       `json:"type"`
	JobID        string          `json:"job_id"`
	SubmissionID string          `json:"submission_id"`
	State        domain.JobState `json:"state"`
	WaitMs       int64           `json:"wait_ms,omitempty"`
	ProcessingMs int64           `json:"processing_ms,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	At           time.Time       `json:"at"`
}

const subscriberBuffer = 64

type eventBus struct {
	mu   sync.RWMutex
	subs []chan Event
}

// Subscribe registers a listener for job lifecycle events. The returned
// channel is buffered; events are dropped for a subscriber that falls behind
// rather than blocking queue processing.
func (b *eventBus) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *eventBus) publish(ev Event) {
	ev.At = time.Now()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
