package middleware

import (
	"context"
	"strings"

	"ojsubmit/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"
	userIDHeader    = "X-User-Id"
)

// TraceContextConfig controls how trace/request/user id are extracted and written.
type TraceContextConfig struct {
	// AllowUserIDHeader trusts X-User-Id from an upstream gateway.
	AllowUserIDHeader bool
	WriteUserIDHeader bool
}

// TraceContextMiddleware ensures trace/request/user id are in context and response headers.
func TraceContextMiddleware() gin.HandlerFunc {
	return TraceContextMiddlewareWithConfig(TraceContextConfig{
		AllowUserIDHeader: true,
		WriteUserIDHeader: true,
	})
}

// TraceContextMiddlewareWithConfig is the configurable version of TraceContextMiddleware.
func TraceContextMiddlewareWithConfig(cfg TraceContextConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ctx = propagate(c, ctx, traceIDHeader, contextkey.TraceID, true)
		ctx = propagate(c, ctx, requestIDHeader, contextkey.RequestID, true)
		if cfg.AllowUserIDHeader {
			ctx = propagate(c, ctx, userIDHeader, contextkey.UserID, false)
			if !cfg.WriteUserIDHeader {
				c.Writer.Header().Del(userIDHeader)
			}
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

type ctxKey interface {
	String() string
}

// propagate copies header into the gin context, the request context and the
// response headers. A missing header is generated when generate is set.
func propagate(c *gin.Context, ctx context.Context, header string, key ctxKey, generate bool) context.Context {
	value := strings.TrimSpace(c.GetHeader(header))
	if value == "" {
		if !generate {
			return ctx
		}
		value = uuid.NewString()
	}
	c.Set(key.String(), value)
	c.Writer.Header().Set(header, value)
	return context.WithValue(ctx, key, value)
}

// UserID returns the caller id set by the trace middleware.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(contextkey.UserID.String()); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
