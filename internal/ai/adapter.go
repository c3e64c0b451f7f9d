// Package ai holds the provider-agnostic completion interface, the concrete
// provider adapters, and the feedback schema machinery.
package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/classlab/gradeflow/internal/domain"
)

// Part is one piece of a multimodal prompt. Text and ImageURL are mutually
// exclusive; ImageURL accepts data URIs so no provider-side fetch is needed.
type Part struct {
	Text     string
	ImageURL string
}

// Adapter is the capability-polymorphic completion interface. Callers must
// check SupportsContentType before invoking GenerateMultimodalCompletion and
// degrade to GenerateCompletion when unsupported.
type Adapter interface {
	GenerateCompletion(ctx context.Context, text, systemPrompt string) (*domain.FeedbackResult, error)
	GenerateMultimodalCompletion(ctx context.Context, parts []Part, systemPrompt string) (*domain.FeedbackResult, error)
	SupportsContentType(t domain.ContentType) bool
	ModelName() string
}

// Config holds adapter construction settings. Provider selection happens
// here, at construction time, not at call sites. When Fallback names a
// second provider the returned adapter retries failed completions there.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration

	Fallback       string
	FallbackAPIKey string
}

// NewAdapter constructs the configured provider adapter, wrapped with the
// fallback provider when one is configured.
func NewAdapter(cfg *Config) (Adapter, error) {
	primary, err := newProvider(cfg.Provider, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Fallback == "" || cfg.Fallback == cfg.Provider {
		return primary, nil
	}

	// The fallback provider gets its own key and its provider defaults
	// for model and base URL.
	fbCfg := &Config{
		APIKey:  cfg.FallbackAPIKey,
		Timeout: cfg.Timeout,
	}
	if fbCfg.APIKey == "" {
		fbCfg.APIKey = cfg.APIKey
	}
	secondary, err := newProvider(cfg.Fallback, fbCfg)
	if err != nil {
		return nil, fmt.Errorf("invalid fallback provider: %w", err)
	}
	return NewFallbackAdapter(primary, secondary, nil), nil
}

func newProvider(provider string, cfg *Config) (Adapter, error) {
	switch provider {
	case "openai":
		return NewOpenAIAdapter(cfg), nil
	case "deepseek":
		return NewDeepSeekAdapter(cfg), nil
	default:
		return nil, fmt.Errorf("unknown AI provider: %q", provider)
	}
}
