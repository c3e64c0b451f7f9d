package domain

import "time"

// Assignment holds the grading context an adapter needs: what the task was,
// optional instructor-only guidance, and the rubric.
type Assignment struct {
	ID                 string            `gorm:"type:text;primaryKey" json:"id"`
	Title              string            `gorm:"type:text;not null" json:"title"`
	Description        string            `gorm:"type:text" json:"description"`
	InstructorGuidance string            `gorm:"type:text" json:"-"`
	Rubric             []RubricCriterion `gorm:"foreignKey:AssignmentID" json:"rubric,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// TableName returns the database table name for Assignment.
func (Assignment) TableName() string {
	return "assignments"
}

// RubricCriterion is one graded dimension of an assignment rubric.
type RubricCriterion struct {
	ID           string  `gorm:"type:text;primaryKey" json:"id"`
	AssignmentID string  `gorm:"type:text;not null;index" json:"assignment_id"`
	Name         string  `gorm:"type:text;not null" json:"name"`
	Description  string  `gorm:"type:text" json:"description"`
	MaxScore     float64 `gorm:"default:100" json:"max_score"`
}

// TableName returns the database table name for RubricCriterion.
func (RubricCriterion) TableName() string {
	return "rubric_criteria"
}

// AssignmentContext is the slice of assignment data handed to the prompt
// builder. InstructorGuidance is never echoed into generated feedback.
type AssignmentContext struct {
	Title              string
	Description        string
	InstructorGuidance string
	Rubric             []RubricCriterion
}
