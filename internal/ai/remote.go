package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/v0xg/digitwin/internal/config"
)

// RemotePlanner posts PlanRequests to a planning service over HTTP
type RemotePlanner struct {
	client   *resty.Client
	endpoint string
	logger   *zap.Logger
}

// NewRemotePlanner creates a planner for cfg.Endpoint. cfg.APIKey, if set, is sent as a bearer token.
func NewRemotePlanner(cfg config.PlannerConfig, logger *zap.Logger) (*RemotePlanner, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("remote planner requires an endpoint")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(2 * time.Minute)
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &RemotePlanner{
		client:   client,
		endpoint: cfg.Endpoint,
		logger:   logger.Named("remote_planner"),
	}, nil
}

// Plan implements Planner
func (p *RemotePlanner) Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error) {
	if req.ConversationHistory == nil {
		req.ConversationHistory = []Message{}
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		Post(p.endpoint)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("planner request failed: %w", err)
	}

	if resp.IsError() {
		p.logger.Debug("planner returned error status",
			zap.Int("status", resp.StatusCode()),
			zap.Duration("elapsed", resp.Time()))
		return nil, &StatusError{StatusCode: resp.StatusCode(), Message: errorMessage(resp.Body())}
	}

	var out PlanResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// errorMessage prefers the {"error": "..."} field of an error body
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	if len(body) > 200 {
		body = body[:200]
	}
	if len(body) == 0 {
		return "empty body"
	}
	return string(body)
}

// IsStatus reports whether err is a StatusError with the given code
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
