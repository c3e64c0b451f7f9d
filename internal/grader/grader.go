// Package grader runs one grading job end to end: load the submission,
// normalize its payload, ask the AI adapter for feedback, validate and
// scrub the result, and persist it exactly once.
package grader

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/classlab/gradeflow/internal/ai"
	"github.com/classlab/gradeflow/internal/cache"
	"github.com/classlab/gradeflow/internal/content"
	"github.com/classlab/gradeflow/internal/domain"
	"github.com/classlab/gradeflow/internal/logger"
	"github.com/classlab/gradeflow/internal/queue"
)

// SubmissionStore is the submission surface the grader needs.
type SubmissionStore interface {
	GetByID(ctx context.Context, id string) (*domain.Submission, error)
	UpdateStatus(ctx context.Context, id string, status domain.SubmissionStatus) error
}

// ContextStore loads the grading context for an assignment.
type ContextStore interface {
	GetContext(ctx context.Context, id string) (*domain.AssignmentContext, error)
}

// FeedbackStore persists feedback, one row per submission.
type FeedbackStore interface {
	ExistsBySubmissionID(ctx context.Context, submissionID string) (bool, error)
	Save(ctx context.Context, submissionID, assignmentID string, result *domain.FeedbackResult) (*domain.Feedback, error)
}

const contextCacheTTL = 0 // use the cache manager's default

// Grader implements queue.Handler for grading jobs.
type Grader struct {
	submissions SubmissionStore
	assignments ContextStore
	feedbacks   FeedbackStore
	normalizer  *content.Normalizer
	adapter     ai.Adapter
	cache       *cache.Manager
	log         *logger.Logger
}

// New creates a Grader. cache may be nil; assignment contexts are then read
// from the database on every job.
func New(
	submissions SubmissionStore,
	assignments ContextStore,
	feedbacks FeedbackStore,
	normalizer *content.Normalizer,
	adapter ai.Adapter,
	cacheManager *cache.Manager,
	log *logger.Logger,
) *Grader {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Grader{
		submissions: submissions,
		assignments: assignments,
		feedbacks:   feedbacks,
		normalizer:  normalizer,
		adapter:     adapter,
		cache:       cacheManager,
		log:         log.WithField(logger.FieldComponent, "grader"),
	}
}

// Handle processes one grading job. Content problems return a terminal
// error; provider and validation problems return plain errors so the queue
// retries them.
func (g *Grader) Handle(ctx context.Context, job *domain.Job) error {
	log := g.log.WithFields(logger.Fields{
		logger.FieldJobID:        job.ID,
		logger.FieldSubmissionID: job.SubmissionID,
		logger.FieldAssignmentID: job.AssignmentID,
	})

	sub, err := g.submissions.GetByID(ctx, job.SubmissionID)
	if err != nil {
		if domain.IsNotFound(err) {
			return queue.Terminal(fmt.Errorf("submission %s not found", job.SubmissionID))
		}
		return g.retryable(ctx, job, fmt.Errorf("failed to load submission: %w", err))
	}

	// A reassigned job whose previous run already persisted feedback is done.
	exists, err := g.feedbacks.ExistsBySubmissionID(ctx, job.SubmissionID)
	if err != nil {
		return g.retryable(ctx, job, fmt.Errorf("failed to check existing feedback: %w", err))
	}
	if exists {
		log.Info("feedback already stored, skipping")
		_ = g.submissions.UpdateStatus(ctx, sub.ID, domain.SubmissionStatusGraded)
		return nil
	}

	if err := g.submissions.UpdateStatus(ctx, sub.ID, domain.SubmissionStatusGrading); err != nil {
		log.WithError(err).Warn("failed to mark submission grading")
	}

	actx, err := g.assignmentContext(ctx, job.AssignmentID)
	if err != nil {
		if domain.IsNotFound(err) {
			return g.terminal(ctx, job, fmt.Errorf("assignment %s not found", job.AssignmentID))
		}
		return g.retryable(ctx, job, fmt.Errorf("failed to load assignment context: %w", err))
	}

	desc, err := g.normalizer.Normalize(ctx, sourceFor(sub, job))
	if err != nil {
		if errors.Is(err, content.ErrUnsupportedContentType) {
			return g.terminal(ctx, job, err)
		}
		return g.retryable(ctx, job, err)
	}

	result, err := g.grade(ctx, log, desc, sub, actx)
	if err != nil {
		return g.retryable(ctx, job, err)
	}

	if ai.ScrubGuidance(result, actx.InstructorGuidance) {
		log.Warn("instructor guidance leaked into feedback, redacted")
	}

	if _, err := g.feedbacks.Save(ctx, job.SubmissionID, job.AssignmentID, result); err != nil {
		return g.retryable(ctx, job, fmt.Errorf("failed to persist feedback: %w", err))
	}
	if err := g.submissions.UpdateStatus(ctx, sub.ID, domain.SubmissionStatusGraded); err != nil {
		log.WithError(err).Warn("failed to mark submission graded")
	}
	g.invalidate(ctx, job)

	log.WithFields(logger.Fields{
		"score":                result.Score,
		logger.FieldDurationMs: result.ProcessingTimeMs,
	}).Info("feedback generated")
	return nil
}

// assignmentContext reads the grading context through the cache so rubric
// edits invalidate it by tag instead of waiting out the TTL.
func (g *Grader) assignmentContext(ctx context.Context, assignmentID string) (*domain.AssignmentContext, error) {
	if g.cache == nil {
		return g.assignments.GetContext(ctx, assignmentID)
	}

	var actx domain.AssignmentContext
	err := g.cache.GetOrSet(ctx,
		"assignment-context:"+assignmentID,
		&actx,
		contextCacheTTL,
		func(ctx context.Context) (interface{}, error) {
			return g.assignments.GetContext(ctx, assignmentID)
		},
		"assignment:"+assignmentID,
	)
	if err != nil {
		return nil, err
	}
	return &actx, nil
}

// grade picks the completion path for the descriptor's content type,
// degrading to text analysis when the adapter cannot handle the modality.
func (g *Grader) grade(ctx context.Context, log *logger.Logger, desc *domain.ContentDescriptor, sub *domain.Submission, actx *domain.AssignmentContext) (*domain.FeedbackResult, error) {
	systemPrompt := ai.BuildSystemPrompt(actx)

	switch {
	case desc.ContentType == domain.ContentTypeText:
		return g.adapter.GenerateCompletion(ctx, string(desc.RawContent), systemPrompt)

	case desc.HasText():
		// Extracted document text grades through the plain text path even
		// when the adapter could take the raw bytes.
		return g.adapter.GenerateCompletion(ctx, desc.ExtractedText, systemPrompt)

	case g.adapter.SupportsContentType(desc.ContentType):
		parts := []ai.Part{
			{Text: "The student's submission is attached."},
			{ImageURL: dataURI(desc)},
		}
		return g.adapter.GenerateMultimodalCompletion(ctx, parts, systemPrompt)

	default:
		placeholder := ai.PlaceholderFor(desc.ContentType, sub.FileName)
		log.WithFields(logger.Fields{
			"content_type": desc.ContentType,
			"model":        g.adapter.ModelName(),
		}).Warn("adapter cannot handle content type, degrading to placeholder text")
		return g.adapter.GenerateCompletion(ctx, placeholder, systemPrompt)
	}
}

// retryable surfaces err to the queue for retry, marking the submission
// failed first when this was the job's last attempt.
func (g *Grader) retryable(ctx context.Context, job *domain.Job, err error) error {
	if job.AttemptsMade >= job.MaxAttempts {
		_ = g.submissions.UpdateStatus(ctx, job.SubmissionID, domain.SubmissionStatusFailed)
	}
	return err
}

func (g *Grader) terminal(ctx context.Context, job *domain.Job, err error) error {
	_ = g.submissions.UpdateStatus(ctx, job.SubmissionID, domain.SubmissionStatusFailed)
	return queue.Terminal(err)
}

// invalidate drops cached reads derived from this submission's feedback.
func (g *Grader) invalidate(ctx context.Context, job *domain.Job) {
	if g.cache == nil {
		return
	}
	err := g.cache.InvalidateByTags(ctx,
		"submission:"+job.SubmissionID,
		"assignment-feedback:"+job.AssignmentID,
	)
	if err != nil {
		g.log.WithError(err).Warn("feedback cache invalidation failed")
	}
}

// sourceFor maps a submission row to a normalizer source.
func sourceFor(sub *domain.Submission, job *domain.Job) *content.Source {
	src := &content.Source{
		DeclaredMIME: sub.MIMEType,
		FileName:     sub.FileName,
	}
	switch {
	case sub.InlineText != "":
		src.Buffer = []byte(sub.InlineText)
		if src.DeclaredMIME == "" {
			src.DeclaredMIME = "text/plain"
		}
	case sub.StorageKey != "":
		src.StorageKey = sub.StorageKey
	default:
		// Fall back to the job's content reference for jobs enqueued
		// before the submission row carried payload fields.
		src.Buffer = []byte(job.ContentRef)
		if src.DeclaredMIME == "" {
			src.DeclaredMIME = "text/plain"
		}
	}
	return src
}

func dataURI(desc *domain.ContentDescriptor) string {
	return fmt.Sprintf("data:%s;base64,%s", desc.MIMEType,
		base64.StdEncoding.EncodeToString(desc.RawContent))
}
