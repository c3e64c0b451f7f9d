package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/classlab/gradeflow/internal/domain"
	"github.com/classlab/gradeflow/internal/queue"
	"github.com/classlab/gradeflow/internal/repository"
	"github.com/classlab/gradeflow/internal/storage"
)

// GradingHandler handles grading-job endpoints.
type GradingHandler struct {
	queue       *queue.Queue
	submissions *repository.SubmissionRepository
	feedbacks   *repository.FeedbackRepository
	storage     storage.ObjectStorage
}

// NewGradingHandler creates a new grading handler. A nil store skips
// storage-key validation on job creation.
func NewGradingHandler(q *queue.Queue, submissions *repository.SubmissionRepository, feedbacks *repository.FeedbackRepository, store storage.ObjectStorage) *GradingHandler {
	return &GradingHandler{
		queue:       q,
		submissions: submissions,
		feedbacks:   feedbacks,
		storage:     store,
	}
}

// CreateJobRequest is the POST /grading-jobs payload. Exactly one of
// InlineText or StorageKey carries the submission content.
type CreateJobRequest struct {
	AssignmentID string `json:"assignment_id" binding:"required"`
	UserID       string `json:"user_id" binding:"required"`
	ContentType  string `json:"content_type" binding:"required"`
	MIMEType     string `json:"mime_type"`
	InlineText   string `json:"inline_text"`
	StorageKey   string `json:"storage_key"`
	FileName     string `json:"file_name"`
}

// CreateJob handles POST /api/v1/grading-jobs. The submission row is written
// durably before the job is enqueued; the caller gets a job id immediately
// and polls for the outcome.
func (h *GradingHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	contentType := domain.ContentType(req.ContentType)
	if !contentType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unsupported content type: " + req.ContentType,
		})
		return
	}
	if req.InlineText == "" && req.StorageKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Either inline_text or storage_key is required",
		})
		return
	}
	if req.StorageKey != "" && h.storage != nil {
		exists, err := h.storage.Exists(c.Request.Context(), req.StorageKey)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to check storage key: " + err.Error(),
			})
			return
		}
		if !exists {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": "No uploaded content for storage key " + req.StorageKey,
			})
			return
		}
	}

	sub := &domain.Submission{
		ID:           uuid.NewString(),
		AssignmentID: req.AssignmentID,
		UserID:       req.UserID,
		ContentType:  contentType,
		MIMEType:     req.MIMEType,
		InlineText:   req.InlineText,
		StorageKey:   req.StorageKey,
		FileName:     req.FileName,
		Status:       domain.SubmissionStatusSubmitted,
	}
	if err := h.submissions.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store submission: " + err.Error(),
		})
		return
	}

	contentRef := req.StorageKey
	if contentRef == "" {
		contentRef = req.InlineText
	}
	job, err := h.queue.Enqueue(c.Request.Context(), queue.EnqueueRequest{
		SubmissionID: sub.ID,
		AssignmentID: req.AssignmentID,
		UserID:       req.UserID,
		ContentType:  contentType,
		ContentRef:   contentRef,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, queue.ErrCircuitOpen) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"error": "Failed to enqueue grading job: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":        job.ID,
		"submission_id": sub.ID,
		"state":         job.State,
	})
}

// GetJob handles GET /api/v1/grading-jobs/:id.
func (h *GradingHandler) GetJob(c *gin.Context) {
	job, err := h.queue.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		status := http.StatusInternalServerError
		if errors.Is(err, queue.ErrCircuitOpen) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "Failed to load job: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":        job.ID,
		"submission_id": job.SubmissionID,
		"state":         job.State,
		"attempts_made": job.AttemptsMade,
		"max_attempts":  job.MaxAttempts,
		"failed_reason": job.FailedReason,
	})
}

// GetFeedback handles GET /api/v1/submissions/:id/feedback.
func (h *GradingHandler) GetFeedback(c *gin.Context) {
	fb, err := h.feedbacks.GetBySubmissionID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if domain.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No feedback for this submission"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load feedback: " + err.Error()})
		return
	}

	result, err := h.feedbacks.Result(fb)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Stored feedback is unreadable: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"submission_id": fb.SubmissionID,
		"assignment_id": fb.AssignmentID,
		"feedback":      result,
		"created_at":    fb.CreatedAt,
	})
}
