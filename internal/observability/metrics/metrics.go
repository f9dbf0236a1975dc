package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	invocations      metric.Int64Counter
	invokeLatency    metric.Float64Histogram
	denials          metric.Int64Counter
	creditsDebited   metric.Int64Counter
	alertsRaised     metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "featuregate"
	}
	meter := provider.Meter(name)

	invocations, err := meter.Int64Counter("featuregate_invocations_total")
	if err != nil {
		return nil, err
	}
	invokeLatency, err := meter.Float64Histogram("featuregate_provider_latency_ms",
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	denials, err := meter.Int64Counter("featuregate_entitlement_denials_total")
	if err != nil {
		return nil, err
	}
	creditsDebited, err := meter.Int64Counter("featuregate_credits_debited_total")
	if err != nil {
		return nil, err
	}
	alertsRaised, err := meter.Int64Counter("featuregate_admin_alerts_raised_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("featuregate_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("featuregate_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invocations:      invocations,
		invokeLatency:    invokeLatency,
		denials:          denials,
		creditsDebited:   creditsDebited,
		alertsRaised:     alertsRaised,
		rateLimitAllowed: rateLimitAllowed,
		rateLimitDenied:  rateLimitDenied,
	}, nil
}

// RecordInvocation counts a finished provider call and its latency.
func (m *Metrics) RecordInvocation(ctx context.Context, featureCode, providerType, outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("feature_code", strings.TrimSpace(featureCode)),
		attribute.String("provider_type", strings.TrimSpace(providerType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.invocations.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.invokeLatency.Record(ctx, float64(latency.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordDenial increments entitlement denials by reason.
func (m *Metrics) RecordDenial(ctx context.Context, featureCode, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("feature_code", strings.TrimSpace(featureCode)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.denials.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCreditsDebited adds debited credits for a feature.
func (m *Metrics) RecordCreditsDebited(ctx context.Context, featureCode string, credits int64) {
	if m == nil || credits <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("feature_code", strings.TrimSpace(featureCode)))
	m.creditsDebited.Add(ctx, credits, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordAlertRaised(ctx context.Context, alertType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("alert_type", strings.TrimSpace(alertType)))
	m.alertsRaised.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, tenantID, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("tenant_id", strings.TrimSpace(tenantID)),
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	)
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, tenantID, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("tenant_id", strings.TrimSpace(tenantID)),
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"tenant_id":     {},
	"endpoint":      {},
	"status_code":   {},
	"feature_code":  {},
	"provider_type": {},
	"outcome":       {},
	"alert_type":    {},
	"reason":        {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
