package executor

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/v0xg/digitwin/internal/crawler"
)

// Failure reasons reported in Result.Reason
const (
	ReasonNotFound        = "element not found"
	ReasonNotTextInput    = "element is not a text input"
	ReasonNoNavigator     = "navigation unavailable"
	ReasonUnknownAction   = "unknown action"
	reasonMissingArgument = "missing argument: "
)

// Navigator performs client-side navigation
type Navigator interface {
	Navigate(ctx context.Context, target string) error
}

// PageRouter maps screen names to paths
type PageRouter struct {
	routes map[string]string
}

// NewPageRouter builds a router from a screen -> path table. Lookups are
// case-insensitive; unknown screens map to "/" + screen.
func NewPageRouter(routes map[string]string) *PageRouter {
	r := &PageRouter{routes: make(map[string]string, len(routes))}
	for k, v := range routes {
		r.routes[strings.ToLower(k)] = v
	}
	return r
}

// Resolve returns the target location for screen
func (r *PageRouter) Resolve(screen string) string {
	if r != nil {
		if p, ok := r.routes[strings.ToLower(screen)]; ok {
			return p
		}
	}
	if strings.HasPrefix(screen, "/") || strings.Contains(screen, "://") {
		return screen
	}
	return "/" + screen
}

// Handler executes one action kind
type Handler func(ctx context.Context, action Action) Result

// Executor applies actions to a Surface. Each call performs at most one
// DOM mutation or navigation and never retries.
type Executor struct {
	surface  crawler.Surface
	nav      Navigator
	router   *PageRouter
	logger   *zap.Logger
	handlers map[string]Handler
}

// New creates an executor with the default click/set_value/navigate handlers.
// nav may be nil, in which case navigate_to fails.
func New(surface crawler.Surface, nav Navigator, router *PageRouter, logger *zap.Logger) *Executor {
	e := &Executor{
		surface:  surface,
		nav:      nav,
		router:   router,
		logger:   logger.Named("executor"),
		handlers: make(map[string]Handler),
	}
	e.Register(ActionClick, e.click)
	e.Register(ActionSetValue, e.setValue)
	e.Register(ActionNavigate, e.navigate)
	return e
}

// Register adds or replaces the handler for an action name
func (e *Executor) Register(name string, h Handler) {
	e.handlers[name] = h
}

// Execute runs action and reports the outcome
func (e *Executor) Execute(ctx context.Context, action Action) Result {
	h, ok := e.handlers[action.Name]
	if !ok {
		e.logger.Warn("unknown action", zap.String("name", action.Name))
		return failed("unknown", fmt.Sprintf("%s: %s", ReasonUnknownAction, action.Name))
	}

	res := h(ctx, action)
	e.logger.Debug("action executed",
		zap.String("action", action.String()),
		zap.Bool("success", res.Success),
		zap.String("reason", res.Reason))
	return res
}

func (e *Executor) click(ctx context.Context, action Action) Result {
	id, ok := action.Arg(ArgElementID)
	if !ok || id == "" {
		return failed("click", reasonMissingArgument+ArgElementID)
	}

	h, found, err := e.surface.Find(ctx, id)
	if err != nil {
		return failed("click", err.Error())
	}
	if !found {
		return failed("click", ReasonNotFound)
	}
	if err := h.Click(ctx); err != nil {
		return failed("click", fmt.Sprintf("click failed: %v", err))
	}
	return succeeded("click", "clicked "+id)
}

func (e *Executor) setValue(ctx context.Context, action Action) Result {
	id, ok := action.Arg(ArgElementID)
	if !ok || id == "" {
		return failed("set_value", reasonMissingArgument+ArgElementID)
	}
	value, ok := action.Arg(ArgValue)
	if !ok {
		return failed("set_value", reasonMissingArgument+ArgValue)
	}

	h, found, err := e.surface.Find(ctx, id)
	if err != nil {
		return failed("set_value", err.Error())
	}
	if !found {
		return failed("set_value", ReasonNotFound)
	}

	textual, err := h.IsTextInput(ctx)
	if err != nil {
		return failed("set_value", err.Error())
	}
	if !textual {
		return failed("set_value", ReasonNotTextInput)
	}

	if err := h.SetValue(ctx, value); err != nil {
		return failed("set_value", fmt.Sprintf("set value failed: %v", err))
	}
	return succeeded("set_value", fmt.Sprintf("%s = %q", id, value))
}

func (e *Executor) navigate(ctx context.Context, action Action) Result {
	screen, ok := action.Arg(ArgScreen)
	if !ok || screen == "" {
		return failed("navigate", reasonMissingArgument+ArgScreen)
	}
	if e.nav == nil {
		return failed("navigate", ReasonNoNavigator)
	}

	target := e.router.Resolve(screen)
	if err := e.nav.Navigate(ctx, target); err != nil {
		return failed("navigate", fmt.Sprintf("navigation failed: %v", err))
	}
	return succeeded("navigate", "navigated to "+target)
}
