package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ojsubmit/internal/common/http/middleware"
	"ojsubmit/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

type traceResponse struct {
	TraceID    string `json:"trace_id"`
	RequestID  string `json:"request_id"`
	UserID     string `json:"user_id"`
	CtxTraceID string `json:"ctx_trace_id"`
	CtxUserID  string `json:"ctx_user_id"`
}

func newTraceRouter(cfg middleware.TraceContextConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.TraceContextMiddlewareWithConfig(cfg))
	router.GET("/trace", func(c *gin.Context) {
		traceID, _ := c.Get("trace_id")
		requestID, _ := c.Get("request_id")
		ctx := c.Request.Context()
		c.JSON(http.StatusOK, traceResponse{
			TraceID:    toString(traceID),
			RequestID:  toString(requestID),
			UserID:     middleware.UserID(c),
			CtxTraceID: toString(ctx.Value(contextkey.TraceID)),
			CtxUserID:  toString(ctx.Value(contextkey.UserID)),
		})
	})
	return router
}

func TestTraceContextMiddleware(t *testing.T) {
	router := newTraceRouter(middleware.TraceContextConfig{AllowUserIDHeader: true, WriteUserIDHeader: true})

	cases := []struct {
		name            string
		headers         map[string]string
		expectedTraceID string
		expectedUserID  string
	}{
		{
			name: "generate trace and request id",
		},
		{
			name: "preserve trace and user id",
			headers: map[string]string{
				"X-Trace-Id": "trace-123",
				"X-User-Id":  "0b7e6a52-8a7e-4f3a-9d55-3c2f3f1f6e01",
			},
			expectedTraceID: "trace-123",
			expectedUserID:  "0b7e6a52-8a7e-4f3a-9d55-3c2f3f1f6e01",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/trace", nil)
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			router.ServeHTTP(rec, req)

			var resp traceResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response failed: %v", err)
			}
			if resp.TraceID == "" || resp.RequestID == "" {
				t.Fatalf("expected trace and request id, got %+v", resp)
			}
			if resp.CtxTraceID != resp.TraceID {
				t.Fatalf("request context trace id %q differs from gin %q", resp.CtxTraceID, resp.TraceID)
			}
			if rec.Header().Get("X-Trace-Id") != resp.TraceID {
				t.Fatalf("expected trace id header")
			}
			if tc.expectedTraceID != "" && resp.TraceID != tc.expectedTraceID {
				t.Fatalf("expected trace id %s, got %s", tc.expectedTraceID, resp.TraceID)
			}
			if resp.UserID != tc.expectedUserID || resp.CtxUserID != tc.expectedUserID {
				t.Fatalf("expected user id %q, got %q / %q", tc.expectedUserID, resp.UserID, resp.CtxUserID)
			}
		})
	}
}

func TestTraceContextMiddlewareIgnoresUserHeader(t *testing.T) {
	router := newTraceRouter(middleware.TraceContextConfig{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trace", nil)
	req.Header.Set("X-User-Id", "spoofed")
	router.ServeHTTP(rec, req)

	var resp traceResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if resp.UserID != "" || resp.CtxUserID != "" {
		t.Fatalf("user header must be ignored, got %+v", resp)
	}
	if rec.Header().Get("X-User-Id") != "" {
		t.Fatalf("user header must not be echoed")
	}
}

func toString(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	return ""
}
