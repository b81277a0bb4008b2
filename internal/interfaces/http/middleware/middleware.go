// Package middleware provides the gin middleware chain: request IDs, request
// logging, metrics and JWT auth for the administrative surface.
package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/internal/infrastructure/monitoring"
	"github.com/turtacn/obo/pkg/constants"
	"github.com/turtacn/obo/pkg/errors"
	"github.com/turtacn/obo/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestID assigns each request an ID, honoring one supplied by the caller.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		ctx := context.WithValue(c.Request.Context(), constants.ContextKeyRequestID, id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Logger emits one structured entry per request.
func Logger(log logger.Logger) gin.HandlerFunc {
	log = log.WithComponent("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		fields := logger.Fields{
			"method":     c.Request.Method,
			"path":       path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}
		switch {
		case c.Writer.Status() >= 500:
			log.Error(c.Request.Context(), "request failed", nil, fields)
		case c.Writer.Status() >= 400:
			log.Warn(c.Request.Context(), "request rejected", fields)
		default:
			log.Info(c.Request.Context(), "request completed", fields)
		}
	}
}

// Metrics records per-request counters and latency, labeled by route template
// rather than raw path so slip IDs do not explode cardinality.
func Metrics(m *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// JWTAuth guards the administrative surface with self-issued tokens. The
// verified principal is stashed on the request context.
func JWTAuth(issuer service.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			abortWithError(c, errors.ErrTokenVerificationFailed("missing bearer token"))
			return
		}

		claims, err := issuer.Verify(c.Request.Context(), strings.TrimPrefix(header, prefix))
		if err != nil {
			abortWithError(c, err)
			return
		}

		ctx := context.WithValue(c.Request.Context(), constants.ContextKeyPrincipal, claims.Principal)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func abortWithError(c *gin.Context, err error) {
	status := 500
	if oe, ok := errors.As(err); ok {
		status = oe.HTTPStatus()
	}
	c.AbortWithStatusJSON(status, errors.ToErrorResponse(err))
}
