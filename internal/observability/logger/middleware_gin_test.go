package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/featuregate/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGinMiddlewareSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-Id"); got == "" {
		t.Fatalf("expected X-Request-Id header to be set")
	}
}

func TestGinMiddlewarePropagatesClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))

	var gotUA, gotRequestID string
	r.GET("/ping", func(c *gin.Context) {
		_, gotUA = obscontext.ClientFromContext(c.Request.Context())
		gotRequestID = obscontext.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("User-Agent", "featuregate-test")
	req.Header.Set("X-Request-Id", "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if gotUA != "featuregate-test" {
		t.Fatalf("expected user agent in context, got %q", gotUA)
	}
	if gotRequestID != "abc" {
		t.Fatalf("expected inbound request id to be kept, got %q", gotRequestID)
	}
}

func TestGinMiddlewareLogsInvocationOutcome(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	orig := zap.L()
	zap.ReplaceGlobals(zap.New(core))
	defer zap.ReplaceGlobals(orig)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.POST("/api/features/:code/invoke", func(c *gin.Context) {
		c.Set("feature_code", c.Param("code"))
		c.Set("usage_log_id", "991")
		c.Set("credits_used", int64(3))
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/features/translate/invoke", nil))

	entries := logs.FilterMessage("http_request").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 request log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["feature_code"] != "translate" {
		t.Fatalf("expected feature_code translate, got %v", fields["feature_code"])
	}
	if fields["usage_log_id"] != "991" {
		t.Fatalf("expected usage_log_id 991, got %v", fields["usage_log_id"])
	}
	if fields["credits_used"] != int64(3) {
		t.Fatalf("expected credits_used 3, got %v", fields["credits_used"])
	}
}
