package server

import (
	"context"
	"errors"
	"runtime/debug"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"go.uber.org/zap"

	"github.com/v0xg/digitwin/internal/ai"
	"github.com/v0xg/digitwin/internal/search"
)

var (
	errUnauthorized = errors.New("authentication required")
	errRateLimited  = errors.New("rate limit exceeded")
	errInvalid      = errors.New("invalid request")
)

const (
	internalErrorMessage = "internal error"
	upstreamErrorMessage = "upstream service unavailable"
	malformedPlanMessage = "planner returned a malformed response"
)

// statusFor maps an error to its HTTP status and client-facing message.
// Internal and upstream errors never leak their detail.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errUnauthorized), errors.Is(err, search.ErrUnauthenticated):
		return consts.StatusUnauthorized, "authentication required"
	case errors.Is(err, errRateLimited):
		return consts.StatusTooManyRequests, err.Error()
	case errors.Is(err, errInvalid), errors.Is(err, search.ErrInvalidRequest):
		return consts.StatusBadRequest, err.Error()
	case errors.Is(err, ai.ErrMalformedResponse):
		return consts.StatusBadGateway, malformedPlanMessage
	case errors.Is(err, search.ErrUpstream):
		return consts.StatusBadGateway, upstreamErrorMessage
	}
	var se *ai.StatusError
	if errors.As(err, &se) {
		return consts.StatusBadGateway, upstreamErrorMessage
	}
	return consts.StatusInternalServerError, internalErrorMessage
}

func abortWithError(c *app.RequestContext, err error) {
	code, msg := statusFor(err)
	c.AbortWithStatusJSON(code, map[string]string{"error": msg})
}

// recovery converts panics into a generic 500 and logs the stack
func (s *Server) recovery() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in handler",
					zap.Any("panic", r),
					zap.ByteString("path", c.Path()),
					zap.ByteString("stack", debug.Stack()))
				c.AbortWithStatusJSON(consts.StatusInternalServerError, map[string]string{"error": internalErrorMessage})
			}
		}()
		c.Next(ctx)
	}
}
