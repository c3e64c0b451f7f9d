package domain

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// CriteriaScore is the per-rubric-criterion portion of a feedback result.
type CriteriaScore struct {
	CriteriaID string  `json:"criteria_id"`
	Score      float64 `json:"score"`
	Feedback   string  `json:"feedback"`
}

// FeedbackResult is the validated output of a single adapter invocation.
// It is created once per successful job and never mutated.
type FeedbackResult struct {
	Strengths        []string        `json:"strengths"`
	Improvements     []string        `json:"improvements"`
	Suggestions      []string        `json:"suggestions"`
	Summary          string          `json:"summary"`
	Score            float64         `json:"score"`
	CriteriaScores   []CriteriaScore `json:"criteria_scores,omitempty"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	ModelName        string          `json:"model_name"`
	TokenCount       int             `json:"token_count"`
	RawResponse      string          `json:"-"`
}

// Feedback is the persisted feedback row, one per submission.
// Persistence is idempotent: a second write for the same submission is a no-op.
type Feedback struct {
	ID               string    `gorm:"type:text;primaryKey" json:"id"`
	SubmissionID     string    `gorm:"type:text;not null;uniqueIndex" json:"submission_id"`
	AssignmentID     string    `gorm:"type:text;not null;index" json:"assignment_id"`
	Summary          string    `gorm:"type:text" json:"summary"`
	Score            float64   `json:"score"`
	ResultJSON       string    `gorm:"type:text" json:"-"`
	RawResponse      string    `gorm:"type:text" json:"-"`
	ModelName        string    `gorm:"type:text" json:"model_name"`
	TokenCount       int       `json:"token_count"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// TableName returns the database table name for Feedback.
func (Feedback) TableName() string {
	return "feedbacks"
}

// IsNotFound reports whether err is the gorm record-not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
