package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/v0xg/digitwin/internal/config"
)

// OpenAIPlanner implements Planner using OpenAI's GPT models
type OpenAIPlanner struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIPlanner creates a new OpenAI planner
func NewOpenAIPlanner(cfg config.PlannerConfig) (*OpenAIPlanner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("DIGITWIN_OPENAI_KEY or OPENAI_API_KEY environment variable required")
	}
	return NewOpenAIPlannerWithClient(openai.NewClient(cfg.APIKey), cfg), nil
}

// NewOpenAIPlannerWithClient wraps an existing client
func NewOpenAIPlannerWithClient(client *openai.Client, cfg config.PlannerConfig) *OpenAIPlanner {
	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &OpenAIPlanner{client: client, model: model, maxTokens: maxTokens}
}

// Plan implements Planner
func (p *OpenAIPlanner) Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error) {
	userPrompt, err := buildUserPrompt(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
		MaxTokens: p.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, openAIError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no response from OpenAI", ErrMalformedResponse)
	}

	responseText := resp.Choices[0].Message.Content
	if responseText == "" {
		return nil, fmt.Errorf("%w: empty response from OpenAI", ErrMalformedResponse)
	}

	plan, err := parsePlanJSON(responseText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OpenAI response: %w", err)
	}
	return plan, nil
}

// openAIError maps client errors carrying an HTTP status onto StatusError
func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &StatusError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &StatusError{StatusCode: reqErr.HTTPStatusCode, Message: "OpenAI request failed"}
	}
	return fmt.Errorf("OpenAI API error: %w", err)
}
