package ai

import (
	"context"

	"github.com/classlab/gradeflow/internal/domain"
	"github.com/classlab/gradeflow/internal/logger"
)

// FallbackAdapter delegates to a primary provider and retries failed
// completions on a secondary one. Multimodal requests never fall back to a
// provider that cannot take them; the primary's error is returned instead.
type FallbackAdapter struct {
	primary   Adapter
	secondary Adapter
	log       *logger.Logger
}

// NewFallbackAdapter wraps primary with secondary as its fallback.
func NewFallbackAdapter(primary, secondary Adapter, log *logger.Logger) *FallbackAdapter {
	if log == nil {
		log = logger.GetDefault()
	}
	return &FallbackAdapter{
		primary:   primary,
		secondary: secondary,
		log:       log.WithField(logger.FieldComponent, "ai-fallback"),
	}
}

// ModelName returns the primary model identifier.
func (a *FallbackAdapter) ModelName() string {
	return a.primary.ModelName()
}

// SupportsContentType reports the primary provider's native support.
func (a *FallbackAdapter) SupportsContentType(t domain.ContentType) bool {
	return a.primary.SupportsContentType(t)
}

// GenerateCompletion tries the primary provider and falls back on error.
func (a *FallbackAdapter) GenerateCompletion(ctx context.Context, text, systemPrompt string) (*domain.FeedbackResult, error) {
	result, err := a.primary.GenerateCompletion(ctx, text, systemPrompt)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	a.log.WithError(err).WithField("fallback_model", a.secondary.ModelName()).
		Warn("primary provider failed, retrying on fallback")
	return a.secondary.GenerateCompletion(ctx, text, systemPrompt)
}

// GenerateMultimodalCompletion tries the primary provider and falls back
// only when the secondary can handle image content.
func (a *FallbackAdapter) GenerateMultimodalCompletion(ctx context.Context, parts []Part, systemPrompt string) (*domain.FeedbackResult, error) {
	result, err := a.primary.GenerateMultimodalCompletion(ctx, parts, systemPrompt)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil || !a.secondary.SupportsContentType(domain.ContentTypeImage) {
		return nil, err
	}

	a.log.WithError(err).WithField("fallback_model", a.secondary.ModelName()).
		Warn("primary provider failed, retrying on fallback")
	return a.secondary.GenerateMultimodalCompletion(ctx, parts, systemPrompt)
}
