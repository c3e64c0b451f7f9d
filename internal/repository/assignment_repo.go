package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/classlab/gradeflow/internal/domain"
)

// AssignmentRepository provides access to assignments and their rubrics.
type AssignmentRepository struct {
	db *gorm.DB
}

// NewAssignmentRepository creates an assignment repository.
func NewAssignmentRepository(db *gorm.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Create persists an assignment along with its rubric criteria.
func (r *AssignmentRepository) Create(ctx context.Context, a *domain.Assignment) error {
	return r.db.WithContext(ctx).Create(a).Error
}

// GetByID returns the assignment with its rubric preloaded.
func (r *AssignmentRepository) GetByID(ctx context.Context, id string) (*domain.Assignment, error) {
	var a domain.Assignment
	if err := r.db.WithContext(ctx).Preload("Rubric").First(&a, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// GetContext loads the grading context for an assignment.
func (r *AssignmentRepository) GetContext(ctx context.Context, id string) (*domain.AssignmentContext, error) {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.AssignmentContext{
		Title:              a.Title,
		Description:        a.Description,
		InstructorGuidance: a.InstructorGuidance,
		Rubric:             a.Rubric,
	}, nil
}
