package agent

import (
	"context"
	"errors"
	"time"

	"github.com/v0xg/digitwin/internal/ai"
	"github.com/v0xg/digitwin/internal/crawler"
	"github.com/v0xg/digitwin/internal/executor"
)

// Status is the control loop state
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusErrored   Status = "errored"
)

var (
	ErrAlreadyRunning        = errors.New("agent is already running")
	ErrNotRunning            = errors.New("agent is not running")
	ErrNoPendingConfirmation = errors.New("no action is awaiting confirmation")
	ErrEmptyGoal             = errors.New("goal must not be empty")
)

// StepRecord is one goal -> plan -> act iteration
type StepRecord struct {
	Step          int                     `json:"step"`
	UIState       crawler.Snapshot        `json:"uiState"`
	Response      ai.PlanResponse         `json:"response"`
	ActionResults []executor.ActionResult `json:"actionResults"`
	Timestamp     time.Time               `json:"timestamp"`
}

// PendingConfirmation is a sensitive action waiting for Confirm
type PendingConfirmation struct {
	Action executor.Action `json:"action"`
}

// RunState describes the active or most recent run
type RunState struct {
	RunID               string               `json:"runId,omitempty"`
	Status              Status               `json:"status"`
	CurrentGoal         string               `json:"currentGoal,omitempty"`
	Steps               []StepRecord         `json:"steps"`
	Error               string               `json:"error,omitempty"`
	PendingConfirmation *PendingConfirmation `json:"pendingConfirmation,omitempty"`
	// Exhausted is set when the step budget ran out without a terminal response
	Exhausted bool `json:"exhausted,omitempty"`
}

// IsRunning reports whether a run is in progress
func (s RunState) IsRunning() bool {
	return s.Status == StatusRunning
}

func (s RunState) clone() RunState {
	c := s
	c.Steps = make([]StepRecord, len(s.Steps))
	for i, st := range s.Steps {
		c.Steps[i] = st.clone()
	}
	if s.PendingConfirmation != nil {
		p := *s.PendingConfirmation
		c.PendingConfirmation = &p
	}
	return c
}

func (r StepRecord) clone() StepRecord {
	c := r
	c.UIState = r.UIState.Clone()
	c.Response.Actions = append([]executor.Action(nil), r.Response.Actions...)
	c.ActionResults = append([]executor.ActionResult(nil), r.ActionResults...)
	return c
}

// Observer is notified as a run progresses. Calls happen on the run goroutine.
type Observer interface {
	OnStep(ctx context.Context, step StepRecord)
	OnFinish(state RunState)
}

// ConfirmationListener is implemented by observers that answer the confirmation gate.
// It may call Loop.Confirm directly.
type ConfirmationListener interface {
	OnConfirmationRequest(ctx context.Context, pending PendingConfirmation)
}

// Executor applies one action to the UI
type Executor interface {
	Execute(ctx context.Context, action executor.Action) executor.Result
}
