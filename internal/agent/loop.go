package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/v0xg/digitwin/internal/ai"
	"github.com/v0xg/digitwin/internal/config"
	"github.com/v0xg/digitwin/internal/crawler"
	"github.com/v0xg/digitwin/internal/executor"
	"github.com/v0xg/digitwin/internal/metrics"
)

const (
	defaultReasoning    = "Executed actions"
	defaultPlannerError = "planner reported an error"
	reasonRejected      = "rejected by user"
	reasonStopped       = "run stopped"
	resultTypeConfirm   = "confirmation"
	assistantRole       = "assistant"
	outcomeExhausted    = "exhausted"
)

// Option customizes a Loop
type Option func(*Loop)

// WithSettler replaces the default PollSettler
func WithSettler(s Settler) Option {
	return func(l *Loop) { l.settler = s }
}

// WithClassifier replaces the default KeywordClassifier
func WithClassifier(c Classifier) Option {
	return func(l *Loop) { l.classifier = c }
}

// WithObserver adds an observer
func WithObserver(o Observer) Option {
	return func(l *Loop) { l.observers = append(l.observers, o) }
}

// Loop is the goal-directed control loop. At most one run is active at a time.
type Loop struct {
	surface    crawler.Surface
	planner    ai.Planner
	exec       Executor
	settler    Settler
	classifier Classifier
	observers  []Observer
	cfg        config.AgentConfig
	logger     *zap.Logger

	mu        sync.Mutex
	state     RunState
	cancel    context.CancelFunc
	done      chan struct{}
	confirmCh chan bool
}

// New creates a control loop over surface
func New(surface crawler.Surface, planner ai.Planner, exec Executor, cfg config.AgentConfig, logger *zap.Logger, opts ...Option) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		surface:    surface,
		planner:    planner,
		exec:       exec,
		settler:    NewPollSettler(surface, cfg.SettleInterval, cfg.SettleMaxWait),
		classifier: NewKeywordClassifier(cfg.SensitiveKeywords),
		cfg:        cfg,
		logger:     logger.Named("agent"),
		state:      RunState{Status: StatusIdle, Steps: []StepRecord{}},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns a copy of the current run state
func (l *Loop) State() RunState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.clone()
}

// Start begins a run in the background. maxSteps <= 0 uses the configured budget.
func (l *Loop) Start(ctx context.Context, goal string, maxSteps int) error {
	runCtx, done, maxSteps, err := l.begin(ctx, goal, maxSteps)
	if err != nil {
		return err
	}
	go l.run(runCtx, goal, maxSteps, done)
	return nil
}

// Run executes a run to its end and returns the final state. The error is
// non-nil only when the run could not start.
func (l *Loop) Run(ctx context.Context, goal string, maxSteps int) (RunState, error) {
	if err := l.Start(ctx, goal, maxSteps); err != nil {
		return RunState{}, err
	}
	l.Wait()
	return l.State(), nil
}

// Wait blocks until the current run, if any, has finished
func (l *Loop) Wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Stop cancels the active run. The in-flight planner call and any delay abort.
func (l *Loop) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Status != StatusRunning || l.cancel == nil {
		return ErrNotRunning
	}
	l.cancel()
	return nil
}

// Confirm answers the pending confirmation request
func (l *Loop) Confirm(accept bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.confirmCh == nil {
		return ErrNoPendingConfirmation
	}
	l.confirmCh <- accept
	l.confirmCh = nil
	l.state.PendingConfirmation = nil
	return nil
}

func (l *Loop) begin(ctx context.Context, goal string, maxSteps int) (context.Context, chan struct{}, int, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, nil, 0, ErrEmptyGoal
	}
	if maxSteps <= 0 {
		maxSteps = l.cfg.MaxSteps
	}
	if maxSteps <= 0 {
		maxSteps = 10
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Status == StatusRunning {
		return nil, nil, 0, ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.confirmCh = nil
	l.state = RunState{
		RunID:       uuid.NewString(),
		Status:      StatusRunning,
		CurrentGoal: goal,
		Steps:       []StepRecord{},
	}

	l.logger.Info("run started",
		zap.String("run_id", l.state.RunID),
		zap.String("goal", goal),
		zap.Int("max_steps", maxSteps))
	return runCtx, l.done, maxSteps, nil
}

func (l *Loop) run(ctx context.Context, goal string, maxSteps int, done chan struct{}) {
	defer close(done)

	history := []ai.Message{}
	for step := 1; step <= maxSteps; step++ {
		if ctx.Err() != nil {
			l.finish(StatusStopped, "", false)
			return
		}

		snap := crawler.Extract(ctx, l.surface)
		resp, err := l.plan(ctx, goal, snap, history)
		if ctx.Err() != nil {
			l.finish(StatusStopped, "", false)
			return
		}
		if err != nil {
			l.logger.Error("planning failed", zap.Int("step", step), zap.Error(err))
			l.finish(StatusErrored, fmt.Sprintf("planning failed: %v", err), false)
			return
		}

		rec := StepRecord{
			Step:      step,
			UIState:   snap,
			Response:  *resp,
			Timestamp: time.Now(),
		}

		if resp.Type == ai.ResponseActions {
			rec.ActionResults = l.executeAll(ctx, resp.Actions)
			reasoning := resp.Reasoning
			if reasoning == "" {
				reasoning = defaultReasoning
			}
			history = append(history, ai.Message{Role: assistantRole, Content: reasoning})
		}
		l.appendStep(ctx, rec)
		if ctx.Err() != nil {
			l.finish(StatusStopped, "", false)
			return
		}

		switch {
		case resp.Type == ai.ResponseError:
			msg := resp.Error
			if msg == "" {
				msg = defaultPlannerError
			}
			l.finish(StatusErrored, msg, false)
			return
		case resp.Type == ai.ResponseNoAction, resp.Type == ai.ResponseComplete, resp.Completed:
			l.finish(StatusCompleted, "", false)
			return
		}

		if step < maxSteps {
			if err := sleep(ctx, l.cfg.StepDelay); err != nil {
				l.finish(StatusStopped, "", false)
				return
			}
		}
	}

	l.logger.Warn("step budget exhausted", zap.Int("max_steps", maxSteps))
	l.finish(StatusIdle, "", true)
}

func (l *Loop) plan(ctx context.Context, goal string, snap crawler.Snapshot, history []ai.Message) (*ai.PlanResponse, error) {
	if l.cfg.PlannerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.PlannerTimeout)
		defer cancel()
	}

	req := ai.PlanRequest{
		Goal:                goal,
		UIState:             snap,
		ConversationHistory: append([]ai.Message{}, history...),
	}

	start := time.Now()
	resp, err := l.planner.Plan(ctx, req)
	metrics.PlannerDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return nil, fmt.Errorf("planner timed out after %s: %w", l.cfg.PlannerTimeout, err)
		}
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ai.ErrMalformedResponse)
	}
	return resp, nil
}

// executeAll runs every action in order. Results stay aligned with actions
// even when the run is stopped part way.
func (l *Loop) executeAll(ctx context.Context, actions []executor.Action) []executor.ActionResult {
	results := make([]executor.ActionResult, len(actions))
	for i, a := range actions {
		if ctx.Err() != nil {
			results[i] = executor.ActionResult{Result: executor.Result{Success: false, Type: resultTypeFor(a), Reason: reasonStopped}}
			continue
		}
		if i > 0 {
			l.settler.Settle(ctx)
		}

		res := l.executeOne(ctx, a)
		results[i] = executor.ActionResult{Result: res}
		metrics.AgentActions.WithLabelValues(a.Name, strconv.FormatBool(res.Success)).Inc()

		fields := []zap.Field{zap.String("action", a.String()), zap.Bool("success", res.Success)}
		if !res.Success {
			fields = append(fields, zap.String("reason", res.Reason))
		}
		l.logger.Debug("action executed", fields...)
	}
	if len(actions) > 0 && ctx.Err() == nil {
		l.settler.Settle(ctx)
	}
	return results
}

func (l *Loop) executeOne(ctx context.Context, a executor.Action) executor.Result {
	if l.cfg.ConfirmSensitive && l.classifier != nil && l.classifier.Sensitive(a) {
		accepted, err := l.awaitConfirmation(ctx, a)
		if err != nil {
			return executor.Result{Success: false, Type: resultTypeFor(a), Reason: reasonStopped}
		}
		if !accepted {
			return executor.Result{Success: false, Type: resultTypeConfirm, Reason: reasonRejected}
		}
	}
	return l.exec.Execute(ctx, a)
}

func (l *Loop) awaitConfirmation(ctx context.Context, a executor.Action) (bool, error) {
	ch := make(chan bool, 1)
	pending := PendingConfirmation{Action: a}

	l.mu.Lock()
	l.confirmCh = ch
	l.state.PendingConfirmation = &pending
	l.mu.Unlock()

	l.logger.Info("awaiting confirmation", zap.String("action", a.String()))
	for _, o := range l.observers {
		if cl, ok := o.(ConfirmationListener); ok {
			cl.OnConfirmationRequest(ctx, pending)
		}
	}

	select {
	case accepted := <-ch:
		return accepted, nil
	case <-ctx.Done():
		l.mu.Lock()
		if l.confirmCh == ch {
			l.confirmCh = nil
			l.state.PendingConfirmation = nil
		}
		l.mu.Unlock()
		return false, ctx.Err()
	}
}

func (l *Loop) appendStep(ctx context.Context, rec StepRecord) {
	l.mu.Lock()
	l.state.Steps = append(l.state.Steps, rec.clone())
	l.mu.Unlock()

	metrics.AgentSteps.WithLabelValues(rec.Response.Type).Inc()
	l.logger.Info("step recorded",
		zap.Int("step", rec.Step),
		zap.String("type", rec.Response.Type),
		zap.String("screen", rec.UIState.ScreenName()),
		zap.Int("actions", len(rec.Response.Actions)))

	for _, o := range l.observers {
		o.OnStep(ctx, rec.clone())
	}
}

func (l *Loop) finish(status Status, errMsg string, exhausted bool) {
	l.mu.Lock()
	l.state.Status = status
	l.state.Error = errMsg
	l.state.Exhausted = exhausted
	l.state.PendingConfirmation = nil
	l.confirmCh = nil
	if status == StatusStopped || status == StatusIdle {
		l.state.CurrentGoal = ""
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	final := l.state.clone()
	l.mu.Unlock()

	outcome := string(status)
	if exhausted {
		outcome = outcomeExhausted
	}
	metrics.AgentRuns.WithLabelValues(outcome).Inc()
	l.logger.Info("run finished",
		zap.String("run_id", final.RunID),
		zap.String("status", string(status)),
		zap.Int("steps", len(final.Steps)),
		zap.String("error", errMsg))

	for _, o := range l.observers {
		o.OnFinish(final)
	}
}

func resultTypeFor(a executor.Action) string {
	switch a.Name {
	case executor.ActionClick:
		return "click"
	case executor.ActionSetValue:
		return "set_value"
	case executor.ActionNavigate:
		return "navigate"
	}
	return "unknown"
}
