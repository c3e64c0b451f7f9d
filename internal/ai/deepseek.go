package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/classlab/gradeflow/internal/domain"
)

// DeepSeekAdapter talks to the DeepSeek chat API. The provider is text-only
// and has limited JSON-Schema support, so the pruned schema is embedded into
// the system prompt and json_object output mode is requested instead.
type DeepSeekAdapter struct {
	client   *resty.Client
	model    string
	endpoint string
}

// NewDeepSeekAdapter creates the text-only adapter.
func NewDeepSeekAdapter(cfg *Config) *DeepSeekAdapter {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client.SetTimeout(timeout)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.deepseek.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "deepseek-chat"
	}

	return &DeepSeekAdapter{
		client:   client,
		model:    model,
		endpoint: baseURL + "/chat/completions",
	}
}

// ModelName returns the model identifier in use.
func (a *DeepSeekAdapter) ModelName() string {
	return a.model
}

// SupportsContentType reports native support: text only.
func (a *DeepSeekAdapter) SupportsContentType(t domain.ContentType) bool {
	return t == domain.ContentTypeText
}

type deepSeekRequest struct {
	Model          string                 `json:"model"`
	Messages       []deepSeekMessage      `json:"messages"`
	MaxTokens      int                    `json:"max_tokens"`
	ResponseFormat map[string]interface{} `json:"response_format,omitempty"`
}

type deepSeekMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type deepSeekResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GenerateCompletion runs a text-only grading completion.
func (a *DeepSeekAdapter) GenerateCompletion(ctx context.Context, text, systemPrompt string) (*domain.FeedbackResult, error) {
	schemaJSON, err := json.Marshal(Prune(FeedbackSchema()))
	if err != nil {
		return nil, fmt.Errorf("failed to encode feedback schema: %w", err)
	}

	prompt := fmt.Sprintf("%s\n\nRespond with a single JSON object matching this schema:\n%s",
		systemPrompt, schemaJSON)

	req := deepSeekRequest{
		Model: a.model,
		Messages: []deepSeekMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: text},
		},
		MaxTokens:      1500,
		ResponseFormat: map[string]interface{}{"type": "json_object"},
	}

	start := time.Now()

	var resp deepSeekResponse
	httpResp, err := a.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(a.endpoint)

	if err != nil {
		return nil, fmt.Errorf("failed to call DeepSeek API: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		if resp.Error != nil {
			return nil, fmt.Errorf("DeepSeek API error: HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		}
		return nil, fmt.Errorf("DeepSeek API error: HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in DeepSeek response (status %d)", httpResp.StatusCode())
	}

	result, err := ValidateFeedback(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	result.ModelName = a.model
	result.TokenCount = resp.Usage.TotalTokens
	result.RawResponse = string(httpResp.Body())
	return result, nil
}

// GenerateMultimodalCompletion always fails: the provider is text-only.
// Callers must check SupportsContentType and degrade before reaching here.
func (a *DeepSeekAdapter) GenerateMultimodalCompletion(ctx context.Context, parts []Part, systemPrompt string) (*domain.FeedbackResult, error) {
	return nil, fmt.Errorf("deepseek adapter does not support multimodal content")
}
