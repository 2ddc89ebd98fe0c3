// Package server exposes similarity search and the planning function over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/v0xg/digitwin/internal/ai"
	"github.com/v0xg/digitwin/internal/config"
	"github.com/v0xg/digitwin/internal/metrics"
	"github.com/v0xg/digitwin/internal/search"
)

const shutdownTimeout = 10 * time.Second

// Searcher is the similarity search operation
type Searcher interface {
	Search(ctx context.Context, identity string, req search.Request) (*search.Response, error)
}

// Server is the hertz HTTP surface
type Server struct {
	h        *server.Hertz
	searcher Searcher
	planner  ai.Planner
	auth     *Authenticator
	logger   *zap.Logger
}

// New builds the server and registers routes. planner may be nil, in which
// case the plan route is not served.
func New(cfg config.ServerConfig, searcher Searcher, planner ai.Planner, logger *zap.Logger) (*Server, error) {
	auth, err := NewAuthenticator(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		h:        server.New(server.WithHostPorts(cfg.Addr)),
		searcher: searcher,
		planner:  planner,
		auth:     auth,
		logger:   logger.Named("server"),
	}
	s.h.Use(s.recovery())

	s.h.GET("/healthz", s.health)
	s.h.GET("/metrics", s.metrics)

	api := s.h.Group("/api", auth.Middleware())
	if cfg.RateLimit > 0 {
		api.Use(newLimiter(cfg.RateLimit, cfg.RateBurst).middleware())
	}
	api.POST("/search", s.search)
	if planner != nil {
		api.POST("/agent/plan", s.plan)
	}
	return s, nil
}

// Hertz returns the underlying hertz server
func (s *Server) Hertz() *server.Hertz {
	return s.h
}

// Serve listens until ctx is done, then shuts down gracefully
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("listening", zap.Bool("planner", s.planner != nil))

	errCh := make(chan error, 1)
	go func() { errCh <- s.h.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down")
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.h.Shutdown(ctx)
}

func (s *Server) health(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WriteText(&buf); err != nil {
		s.logger.Error("failed to gather metrics", zap.Error(err))
		abortWithError(c, err)
		return
	}
	c.Data(consts.StatusOK, metrics.TextContentType(), buf.Bytes())
}

func (s *Server) search(ctx context.Context, c *app.RequestContext) {
	var req search.Request
	if err := decodeBody(c.Request.Body(), &req); err != nil {
		s.fail(c, err, metrics.SearchRequests)
		return
	}

	resp, err := s.searcher.Search(ctx, Identity(c), req)
	if err != nil {
		s.fail(c, err, metrics.SearchRequests)
		return
	}
	metrics.SearchRequests.WithLabelValues(strconv.Itoa(consts.StatusOK)).Inc()
	c.JSON(consts.StatusOK, resp)
}

func (s *Server) plan(ctx context.Context, c *app.RequestContext) {
	var req ai.PlanRequest
	if err := decodeBody(c.Request.Body(), &req); err != nil {
		s.fail(c, err, nil)
		return
	}
	if strings.TrimSpace(req.Goal) == "" {
		s.fail(c, fmt.Errorf("%w: goal is required", errInvalid), nil)
		return
	}

	resp, err := s.planner.Plan(ctx, req)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(consts.StatusOK, resp)
}

// fail writes the error response; internal errors are logged with their stack
func (s *Server) fail(c *app.RequestContext, err error, counter *prometheus.CounterVec) {
	code, msg := statusFor(err)
	switch code {
	case consts.StatusInternalServerError:
		s.logger.Error("request failed",
			zap.ByteString("path", c.Path()),
			zap.Error(err),
			zap.Stack("stack"))
	case consts.StatusBadGateway:
		s.logger.Warn("upstream failed",
			zap.ByteString("path", c.Path()),
			zap.Error(err))
	default:
		s.logger.Debug("request rejected",
			zap.ByteString("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err))
	}
	if counter != nil {
		counter.WithLabelValues(strconv.Itoa(code)).Inc()
	}
	c.JSON(code, map[string]string{"error": msg})
}

func decodeBody(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("%w: empty body", errInvalid)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: malformed JSON: %v", errInvalid, err)
	}
	return nil
}
