package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/classlab/gradeflow/internal/domain"
)

// SubmissionRepository provides access to stored submissions.
type SubmissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository creates a submission repository.
func NewSubmissionRepository(db *gorm.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Create persists a new submission.
func (r *SubmissionRepository) Create(ctx context.Context, sub *domain.Submission) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

// GetByID returns the submission with the given ID.
func (r *SubmissionRepository) GetByID(ctx context.Context, id string) (*domain.Submission, error) {
	var sub domain.Submission
	if err := r.db.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpdateStatus moves a submission to a new status.
func (r *SubmissionRepository) UpdateStatus(ctx context.Context, id string, status domain.SubmissionStatus) error {
	return r.db.WithContext(ctx).
		Model(&domain.Submission{}).
		Where("id = ?", id).
		Update("status", status).Error
}
