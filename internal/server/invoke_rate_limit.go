package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/featuregate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/featuregate/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	rateLimitReasonTenantRate   = "tenant-rate"
	rateLimitReasonUserInflight = "user-inflight"
)

// InvokeRateLimit throttles invocations per tenant and, when configured,
// allows one in-flight call per user and feature.
func (s *Server) InvokeRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.invokeLimiter.Enabled() {
			c.Next()
			return
		}

		tenantID, userID, ok := identityFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		endpoint := normalizeRateLimitEndpoint(c)
		ctx := c.Request.Context()

		res, err := s.invokeLimiter.AllowTenant(ctx, tenantID.String())
		if err != nil {
			logger.FromContext(ctx).Warn("invoke rate limit check failed", zap.Error(err))
		}
		if res != nil {
			setRateLimitHeaders(c, res.Limit, res.Remaining, res.ResetTime.Unix())
		}
		if res != nil && !res.Allowed {
			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			denyInvokeRateLimit(c, endpoint, tenantID.String(), rateLimitReasonTenantRate, retryAfter, s.obsMetrics)
			return
		}

		release, acquired := s.invokeLimiter.AcquireInflight(ctx, tenantID.String(), userID.String(), c.Param("code"))
		if !acquired {
			denyInvokeRateLimit(c, endpoint, tenantID.String(), rateLimitReasonUserInflight, 1, s.obsMetrics)
			return
		}
		defer release()

		recordRateLimitAllowed(ctx, endpoint, tenantID.String(), s.obsMetrics)
		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, limit, remaining int, reset int64) {
	if limit <= 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if reset > 0 {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
	}
}

func denyInvokeRateLimit(c *gin.Context, endpoint, tenantID, reason string, retryAfter int, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)
	log.Warn("invoke rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, tenantID, reason, metrics)

	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func recordRateLimitAllowed(ctx context.Context, endpoint, tenantID string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, tenantID, endpoint)
}

func recordRateLimitDenied(ctx context.Context, endpoint, tenantID, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, tenantID, endpoint, reason)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
