package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/v0xg/digitwin/internal/config"
	"github.com/v0xg/digitwin/internal/crawler"
	"github.com/v0xg/digitwin/internal/executor"
)

// Planning response types
const (
	ResponseActions  = "actions"
	ResponseNoAction = "no_action"
	ResponseComplete = "complete"
	ResponseError    = "error"
)

// ErrMalformedResponse marks planner output that cannot be used. It is never retried.
var ErrMalformedResponse = errors.New("malformed planner response")

// Message is one conversation turn sent back to the planner
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PlanRequest is the planning service input
type PlanRequest struct {
	Goal                string           `json:"goal"`
	UIState             crawler.Snapshot `json:"ui_state"`
	ConversationHistory []Message        `json:"conversation_history"`
}

// PlanResponse is the planning service output
type PlanResponse struct {
	Type      string            `json:"type"`
	Reasoning string            `json:"reasoning,omitempty"`
	Actions   []executor.Action `json:"actions,omitempty"`
	Completed bool              `json:"completed,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Validate rejects responses with an unknown type
func (r *PlanResponse) Validate() error {
	switch r.Type {
	case ResponseActions, ResponseNoAction, ResponseComplete, ResponseError:
		return nil
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformedResponse)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedResponse, r.Type)
	}
}

// Planner decides the next UI actions for a goal
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error)
}

// StatusError is a non-2xx answer from a planning backend
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("planner returned status %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether retrying may succeed
func (e *StatusError) Transient() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// IsTransient classifies a planner error for retry purposes. Transport
// failures and 5xx/429 answers are transient; malformed output, 4xx answers
// and cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrMalformedResponse) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return true
}

// NewPlanner creates the planner named by cfg
func NewPlanner(cfg config.PlannerConfig, logger *zap.Logger) (Planner, error) {
	switch cfg.Provider {
	case config.ProviderClaude, "anthropic":
		return NewClaudePlanner(cfg)
	case config.ProviderOpenAI, "gpt":
		return NewOpenAIPlanner(cfg)
	case config.ProviderRemote:
		return NewRemotePlanner(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: claude, openai, remote)", cfg.Provider)
	}
}
