package domain

import "time"

// SubmissionStatus tracks where a submission sits in the grading flow.
type SubmissionStatus string

const (
	SubmissionStatusSubmitted SubmissionStatus = "submitted"
	SubmissionStatusGrading   SubmissionStatus = "grading"
	SubmissionStatusGraded    SubmissionStatus = "graded"
	SubmissionStatusFailed    SubmissionStatus = "failed"
)

// Submission is a student's uploaded work for an assignment.
// Large payloads live in object storage; StorageKey references them.
// InlineText holds short text submissions directly.
type Submission struct {
	ID           string           `gorm:"type:text;primaryKey" json:"id"`
	AssignmentID string           `gorm:"type:text;not null;index" json:"assignment_id"`
	UserID       string           `gorm:"type:text;not null;index" json:"user_id"`
	ContentType  ContentType      `gorm:"type:text;not null" json:"content_type"`
	MIMEType     string           `gorm:"type:text" json:"mime_type"`
	StorageKey   string           `gorm:"type:text" json:"storage_key,omitempty"`
	InlineText   string           `gorm:"type:text" json:"inline_text,omitempty"`
	FileName     string           `gorm:"type:text" json:"file_name,omitempty"`
	FileSize     int64            `json:"file_size"`
	Status       SubmissionStatus `gorm:"default:submitted" json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// TableName returns the database table name for Submission.
func (Submission) TableName() string {
	return "submissions"
}
