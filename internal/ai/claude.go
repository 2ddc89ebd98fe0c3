package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/v0xg/digitwin/internal/config"
)

// ClaudePlanner implements Planner using Anthropic's Claude
type ClaudePlanner struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// NewClaudePlanner creates a new Claude planner
func NewClaudePlanner(cfg config.PlannerConfig, opts ...option.RequestOption) (*ClaudePlanner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("DIGITWIN_ANTHROPIC_KEY or ANTHROPIC_API_KEY environment variable required")
	}

	// Retries are owned by RetryPlanner.
	opts = append([]option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}, opts...)
	client := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &ClaudePlanner{
		client:    &client,
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Plan implements Planner
func (p *ClaudePlanner) Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error) {
	userPrompt, err := buildUserPrompt(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &StatusError{StatusCode: apiErr.StatusCode, Message: "Claude API error"}
		}
		return nil, fmt.Errorf("Claude API error: %w", err)
	}

	var responseText string
	for _, block := range resp.Content {
		if block.Type == "text" {
			responseText = block.Text
			break
		}
	}

	if responseText == "" {
		return nil, fmt.Errorf("%w: empty response from Claude", ErrMalformedResponse)
	}

	plan, err := parsePlanJSON(responseText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Claude response: %w", err)
	}
	return plan, nil
}
