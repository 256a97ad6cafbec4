// Package llm provides the external classifier used by the
// tool-poisoning engine. The classifier is a black box that receives a
// fixed analysis prompt plus one tool's name and description and
// returns free-form text the engine parses.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mcpwatch/mcpwatch-go/internal/config"
)

// Classifier submits one tool for analysis and returns the raw
// response text. Rate-limit conditions surface as errors for which
// IsRateLimit returns true.
type Classifier interface {
	Classify(ctx context.Context, prompt, toolName, description string) (string, error)
}

// RateLimitError marks a 429-equivalent upstream condition.
type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("classifier rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// IsRateLimit reports whether the error is a rate-limit condition,
// either a wrapped RateLimitError, an HTTP 429 from the API, or a
// rate-limit token in the error text.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) && apierr.StatusCode == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit")
}

// OpenAIClassifier talks to an OpenAI-compatible chat completion
// endpoint (the hosted Mistral API is one such endpoint).
type OpenAIClassifier struct {
	client openai.Client
	model  string
}

// NewOpenAIClassifier builds a classifier from configuration. SDK
// retries are disabled; the engine owns the retry policy.
func NewOpenAIClassifier(cfg *config.LLMConfig) (*OpenAIClassifier, error) {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("classifier API key not set (env %s)", cfg.APIKeyEnv)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClassifier{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

// Classify submits the analysis prompt and tool text and returns the
// raw completion text.
func (c *OpenAIClassifier) Classify(ctx context.Context, prompt, toolName, description string) (string, error) {
	userText := fmt.Sprintf("Tool Name: %s\nTool Description: %s", toolName, description)

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt),
			openai.UserMessage(userText),
		},
	})
	if err != nil {
		var apierr *openai.Error
		if errors.As(err, &apierr) && apierr.StatusCode == 429 {
			return "", &RateLimitError{Err: err}
		}
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
