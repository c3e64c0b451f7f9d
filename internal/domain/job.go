package domain

import "time"

// JobState represents the lifecycle state of a grading job.
// A job is owned exclusively by the queue until it reaches a terminal state.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateDelayed   JobState = "delayed"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Job is one unit of queued grading work tied to a single submission.
// The payload is a reference (inline text or a storage key), never raw bytes,
// so job records stay small in the backing store.
type Job struct {
	ID           string      `json:"id"`
	SubmissionID string      `json:"submission_id"`
	AssignmentID string      `json:"assignment_id"`
	UserID       string      `json:"user_id"`
	ContentType  ContentType `json:"content_type"`
	ContentRef   string      `json:"content_ref"`
	AttemptsMade int         `json:"attempts_made"`
	MaxAttempts  int         `json:"max_attempts"`
	State        JobState    `json:"state"`
	FailedReason string      `json:"failed_reason,omitempty"`
	EnqueuedAt   time.Time   `json:"enqueued_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

// QueueCounts holds the per-state job counts reported by health endpoints.
type QueueCounts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}
