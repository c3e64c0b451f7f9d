package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/classlab/gradeflow/internal/domain"
)

// OpenAIAdapter talks to an OpenAI-compatible chat-completions endpoint.
// It handles text, image, and document content natively.
type OpenAIAdapter struct {
	client   *resty.Client
	model    string
	endpoint string
}

// NewOpenAIAdapter creates the multimodal adapter.
func NewOpenAIAdapter(cfg *Config) *OpenAIAdapter {
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
		baseURL = "https://api.openai.com/v1"
	}

	return &OpenAIAdapter{
		client:   client,
		model:    cfg.Model,
		endpoint: baseURL + "/chat/completions",
	}
}

// ModelName returns the model identifier in use.
func (a *OpenAIAdapter) ModelName() string {
	return a.model
}

// SupportsContentType reports native support for a content type.
func (a *OpenAIAdapter) SupportsContentType(t domain.ContentType) bool {
	switch t {
	case domain.ContentTypeText, domain.ContentTypeImage, domain.ContentTypeDocument:
		return true
	}
	return false
}

// OpenAI-compatible chat completion request/response structures
type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	MaxTokens      int                   `json:"max_tokens"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string for system, []interface{} for user with images
}

type openAITextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type openAIImageContent struct {
	Type     string         `json:"type"`
	ImageURL openAIImageURL `json:"image_url"`
}

type openAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type openAIResponseFormat struct {
	Type       string                 `json:"type"`
	JSONSchema map[string]interface{} `json:"json_schema,omitempty"`
}

type openAIResponse struct {
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
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// GenerateCompletion runs a text-only grading completion.
func (a *OpenAIAdapter) GenerateCompletion(ctx context.Context, text, systemPrompt string) (*domain.FeedbackResult, error) {
	return a.complete(ctx, systemPrompt, []interface{}{
		openAITextContent{Type: "text", Text: text},
	})
}

// GenerateMultimodalCompletion runs a grading completion over mixed parts.
func (a *OpenAIAdapter) GenerateMultimodalCompletion(ctx context.Context, parts []Part, systemPrompt string) (*domain.FeedbackResult, error) {
	content := make([]interface{}, 0, len(parts))
	for _, p := range parts {
		if p.ImageURL != "" {
			content = append(content, openAIImageContent{
				Type:     "image_url",
				ImageURL: openAIImageURL{URL: p.ImageURL, Detail: "auto"},
			})
			continue
		}
		content = append(content, openAITextContent{Type: "text", Text: p.Text})
	}
	return a.complete(ctx, systemPrompt, content)
}

func (a *OpenAIAdapter) complete(ctx context.Context, systemPrompt string, userContent []interface{}) (*domain.FeedbackResult, error) {
	req := openAIRequest{
		Model: a.model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		MaxTokens: 1500,
		ResponseFormat: &openAIResponseFormat{
			Type: "json_schema",
			JSONSchema: map[string]interface{}{
				"name":   "grading_feedback",
				"strict": true,
				"schema": Prune(FeedbackSchema()),
			},
		},
	}

	start := time.Now()

	var resp openAIResponse
	httpResp, err := a.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(a.endpoint)

	if err != nil {
		return nil, fmt.Errorf("failed to call completion API: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		errorMsg := fmt.Sprintf("HTTP %d", httpResp.StatusCode())
		if resp.Error != nil {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		} else if len(httpResp.Body()) > 0 {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
		}
		return nil, fmt.Errorf("completion API returned error: %s", errorMsg)
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("completion API error: %s", resp.Error.Message)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in completion response (status %d)", httpResp.StatusCode())
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
