package tracing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/featuregate/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// gateway route params copied onto the server span
var spanRouteParams = map[string]string{
	"code":      "featuregate.feature_code",
	"featureId": "featuregate.feature_id",
	"userId":    "featuregate.user_id",
}

// GinMiddleware opens a server span per request. Tenant and actor identity
// are attached after the handlers run because the identity middleware sits
// behind this one.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("featuregate/http")
	return func(c *gin.Context) {
		method := strings.ToUpper(c.Request.Method)
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			ctx = withRequestBaggage(ctx, requestID)
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + method + " " + route)

		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		}
		attrs = append(attrs, identityAttributes(c)...)
		span.SetAttributes(SafeAttributes(attrs...)...)

		if status < http.StatusInternalServerError {
			return
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			if safeErr := SafeError(lastErr.Err); safeErr != nil {
				span.RecordError(safeErr)
			}
		}
		span.SetStatus(codes.Error, "request error")
	}
}

func withRequestBaggage(ctx context.Context, requestID string) context.Context {
	member, err := baggage.NewMember("request_id", requestID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.New(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

func identityAttributes(c *gin.Context) []attribute.KeyValue {
	ctx := c.Request.Context()
	var attrs []attribute.KeyValue
	if tenantID := obscontext.TenantIDFromContext(ctx); tenantID != "" {
		attrs = append(attrs, attribute.String("featuregate.tenant_id", tenantID))
	}
	if actorType, actorID := obscontext.ActorFromContext(ctx); actorType != "" {
		attrs = append(attrs,
			attribute.String("featuregate.actor_type", actorType),
			attribute.String("featuregate.actor_id", actorID),
		)
	}
	for param, key := range spanRouteParams {
		if value := c.Param(param); value != "" {
			attrs = append(attrs, attribute.String(key, value))
		}
	}
	return attrs
}
