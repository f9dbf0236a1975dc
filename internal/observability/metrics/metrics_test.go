package metrics

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("tenant_id", "123"),
		attribute.String("user_id", "456"),
		attribute.String("feature_code", "summarize"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "tenant_id" && attrs[1].Key != "tenant_id" {
		t.Fatalf("expected tenant_id to be retained")
	}
	if attrs[0].Key != "feature_code" && attrs[1].Key != "feature_code" {
		t.Fatalf("expected feature_code to be retained")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordInvocation(ctx, "summarize", "chat_completion", "success", time.Second)
	m.RecordDenial(ctx, "summarize", "quota_exceeded")
	m.RecordCreditsDebited(ctx, "summarize", 5)
	m.RecordAlertRaised(ctx, "low_balance")
	m.RecordRateLimitAllowed(ctx, "1", "invoke")
	m.RecordRateLimitDenied(ctx, "1", "invoke", "tenant")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "featuregate"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordInvocation(context.Background(), "summarize", "chat_completion", "success", 20*time.Millisecond)
}
