package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/classlab/gradeflow/internal/domain"
)

// FeedbackRepository persists generated feedback, one row per submission.
type FeedbackRepository struct {
	db *gorm.DB
}

// NewFeedbackRepository creates a feedback repository.
func NewFeedbackRepository(db *gorm.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// ExistsBySubmissionID reports whether feedback was already stored for a
// submission.
func (r *FeedbackRepository) ExistsBySubmissionID(ctx context.Context, submissionID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Feedback{}).
		Where("submission_id = ?", submissionID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Save stores a feedback result for a submission. A concurrent or repeated
// save for the same submission is silently ignored, so retried jobs never
// produce duplicate rows.
func (r *FeedbackRepository) Save(ctx context.Context, submissionID, assignmentID string, result *domain.FeedbackResult) (*domain.Feedback, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feedback result: %w", err)
	}

	fb := &domain.Feedback{
		ID:               uuid.NewString(),
		SubmissionID:     submissionID,
		AssignmentID:     assignmentID,
		Summary:          result.Summary,
		Score:            result.Score,
		ResultJSON:       string(resultJSON),
		RawResponse:      result.RawResponse,
		ModelName:        result.ModelName,
		TokenCount:       result.TokenCount,
		ProcessingTimeMs: result.ProcessingTimeMs,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "submission_id"}},
			DoNothing: true,
		}).
		Create(fb).Error
	if err != nil {
		return nil, err
	}
	return fb, nil
}

// GetBySubmissionID returns the stored feedback for a submission.
func (r *FeedbackRepository) GetBySubmissionID(ctx context.Context, submissionID string) (*domain.Feedback, error) {
	var fb domain.Feedback
	if err := r.db.WithContext(ctx).First(&fb, "submission_id = ?", submissionID).Error; err != nil {
		return nil, err
	}
	return &fb, nil
}

// Result unmarshals the stored structured result for a feedback row.
func (f *FeedbackRepository) Result(fb *domain.Feedback) (*domain.FeedbackResult, error) {
	var result domain.FeedbackResult
	if err := json.Unmarshal([]byte(fb.ResultJSON), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal feedback result: %w", err)
	}
	return &result, nil
}
