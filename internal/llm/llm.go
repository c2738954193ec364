// Package llm provides the completion service used by entity extraction,
// briefing generation, and period report summaries.
package llm

import (
	"context"
	"errors"
	"fmt"

	"cyberbrief/internal/config"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// DefaultTemperature keeps completions near-deterministic.
const DefaultTemperature float32 = 0.3

// ErrNotConfigured is returned when no API key is available. Callers skip the
// corresponding capability and log.
var ErrNotConfigured = errors.New("llm: no API key configured")

// Request describes a single completion call.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	JSONMode     bool // Constrain the response to a JSON object
	MaxTokens    int
	Temperature  float32 // Zero means DefaultTemperature
}

// CompletionService is the minimal LLM contract the pipeline depends on.
type CompletionService interface {
	// Complete performs one completion call and returns the raw response
	// text (a JSON string when JSONMode is set).
	Complete(ctx context.Context, req Request) (string, error)
}

// Disabled is the CompletionService used when no API key is configured.
// Every call fails with ErrNotConfigured, which callers log and skip.
type Disabled struct{}

// Complete always returns ErrNotConfigured.
func (Disabled) Complete(ctx context.Context, req Request) (string, error) {
	return "", ErrNotConfigured
}

// Client implements CompletionService on top of the OpenAI chat API.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
}

// NewClient creates an LLM client from configuration. Returns
// ErrNotConfigured when the API key is absent.
func NewClient(cfg config.OpenAIConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}

	return &Client{
		api:         openai.NewClientWithConfig(clientCfg),
		model:       model,
		temperature: temperature,
	}, nil
}

// Complete performs one chat completion call.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	apiReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: temperature,
	}
	if req.JSONMode {
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return "", fmt.Errorf("completion call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}

	text := resp.Choices[0].Message.Content
	if text == "" {
		return "", fmt.Errorf("completion returned empty content")
	}
	return text, nil
}
