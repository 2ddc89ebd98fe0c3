package ai

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryPlanner retries transient failures of the wrapped planner with exponential backoff
type RetryPlanner struct {
	next       Planner
	maxRetries int
	initial    time.Duration
	logger     *zap.Logger
}

// NewRetryPlanner wraps next. maxRetries counts attempts after the first.
func NewRetryPlanner(next Planner, maxRetries int, initial time.Duration, logger *zap.Logger) *RetryPlanner {
	if initial <= 0 {
		initial = 250 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryPlanner{next: next, maxRetries: maxRetries, initial: initial, logger: logger.Named("retry")}
}

// Plan implements Planner
func (p *RetryPlanner) Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error) {
	if p.maxRetries <= 0 {
		return p.next.Plan(ctx, req)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.initial
	eb.MaxInterval = 8 * p.initial
	eb.MaxElapsedTime = 0

	var resp *PlanResponse
	attempt := 0
	op := func() error {
		attempt++
		r, err := p.next.Plan(ctx, req)
		if err != nil {
			if !IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Warn("planner call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.maxRetries)), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return resp, nil
}
