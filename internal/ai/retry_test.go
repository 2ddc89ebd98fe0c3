package ai

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedPlanner struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scriptedPlanner) Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return &PlanResponse{Type: ResponseNoAction}, nil
}

func TestRetryPlanner_RetriesTransient(t *testing.T) {
	next := &scriptedPlanner{errs: []error{&StatusError{StatusCode: 503}, errors.New("connection refused")}}
	p := NewRetryPlanner(next, 2, time.Millisecond, zap.NewNop())

	resp, err := p.Plan(context.Background(), PlanRequest{Goal: "x"})
	require.NoError(t, err)
	assert.Equal(t, ResponseNoAction, resp.Type)
	assert.Equal(t, 3, next.calls)
}

func TestRetryPlanner_GivesUp(t *testing.T) {
	next := &scriptedPlanner{errs: []error{
		&StatusError{StatusCode: 500}, &StatusError{StatusCode: 500}, &StatusError{StatusCode: 502},
	}}
	p := NewRetryPlanner(next, 2, time.Millisecond, nil)

	_, err := p.Plan(context.Background(), PlanRequest{Goal: "x"})
	require.Error(t, err)
	assert.True(t, IsStatus(err, 502))
	assert.Equal(t, 3, next.calls)
}

func TestRetryPlanner_PermanentNotRetried(t *testing.T) {
	next := &scriptedPlanner{errs: []error{&StatusError{StatusCode: 400}}}
	p := NewRetryPlanner(next, 2, time.Millisecond, nil)

	_, err := p.Plan(context.Background(), PlanRequest{Goal: "x"})
	require.Error(t, err)
	assert.True(t, IsStatus(err, 400))
	assert.Equal(t, 1, next.calls)

	next = &scriptedPlanner{errs: []error{ErrMalformedResponse}}
	p = NewRetryPlanner(next, 2, time.Millisecond, nil)
	_, err = p.Plan(context.Background(), PlanRequest{Goal: "x"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Equal(t, 1, next.calls)
}

func TestRetryPlanner_ZeroRetries(t *testing.T) {
	next := &scriptedPlanner{errs: []error{&StatusError{StatusCode: 503}}}
	p := NewRetryPlanner(next, 0, time.Millisecond, nil)

	_, err := p.Plan(context.Background(), PlanRequest{Goal: "x"})
	require.Error(t, err)
	assert.Equal(t, 1, next.calls)
}
