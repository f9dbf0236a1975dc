package adapters

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	"github.com/smallbiznis/featuregate/internal/observability/tracing"
	providerdomain "github.com/smallbiznis/featuregate/internal/provider/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	probePrompt    = "ping"
	probeMaxTokens = 1
)

// Factory builds an adapter around a shared outbound client.
type Factory func(client *http.Client) Adapter

// Registry dispatches calls to the adapter registered for a provider type.
type Registry struct {
	log      *zap.Logger
	adapters map[providerdomain.ProviderType]Adapter
	fallback Adapter
}

// ProbeResult reports a connectivity check.
type ProbeResult struct {
	Success   bool
	Message   string
	LatencyMs int64
}

type Params struct {
	fx.In

	Log        *zap.Logger
	HTTPClient *http.Client `name:"provider_http_client" optional:"true"`
}

func New(p Params) *Registry {
	client := p.HTTPClient
	if client == nil {
		client = tracing.WrapHTTPClient(&http.Client{})
	}
	return NewRegistry(p.Log, client)
}

// NewRegistry registers the built-in vendor families.
func NewRegistry(log *zap.Logger, client *http.Client) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	factories := map[providerdomain.ProviderType]Factory{
		providerdomain.ProviderTypeChatCompletion:  newChatCompletionAdapter,
		providerdomain.ProviderTypeMessages:        newMessagesAdapter,
		providerdomain.ProviderTypeGenerateContent: newGenerateContentAdapter,
		providerdomain.ProviderTypeCustom:          newCustomAdapter,
	}
	r := &Registry{
		log:      log.Named("provider.adapters"),
		adapters: make(map[providerdomain.ProviderType]Adapter, len(factories)),
	}
	for providerType, factory := range factories {
		r.adapters[providerType] = factory(client)
	}
	r.fallback = r.adapters[providerdomain.ProviderTypeCustom]
	return r
}

// Register replaces or adds the adapter for a provider type.
func (r *Registry) Register(providerType providerdomain.ProviderType, adapter Adapter) {
	r.adapters[providerType] = adapter
}

// Resolve returns the adapter for a type; unknown types use the custom adapter.
func (r *Registry) Resolve(providerType providerdomain.ProviderType) Adapter {
	if adapter, ok := r.adapters[providerType]; ok {
		return adapter
	}
	return r.fallback
}

// Execute renders the feature's prompt and calls the provider.
func (r *Registry) Execute(ctx context.Context, req ExecuteRequest) (*Result, error) {
	call := BuildCall(req.Feature, req.Provider, req.Input, req.File, req.Options)

	ctx, span := otel.Tracer("featuregate/provider").Start(ctx, "provider.execute",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(tracing.SafeAttributes(
			tracing.InvocationAttributes(req.Feature.Code, string(req.Provider.Type), call.Model)...,
		)...),
	)
	defer span.End()

	result, err := r.Resolve(req.Provider.Type).Execute(ctx, call)
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, errorKind(err))
		return nil, err
	}
	span.SetAttributes(tracing.TokenAttributes(result.TokensIn, result.TokensOut)...)
	return result, nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrProviderConfiguration):
		return ErrProviderConfiguration.Error()
	case errors.Is(err, ErrTransport):
		return ErrTransport.Error()
	default:
		return ErrProviderExecution.Error()
	}
}

// Probe issues a minimal real call against the provider.
func (r *Registry) Probe(ctx context.Context, provider providerdomain.Provider) ProbeResult {
	call := Call{
		Provider:  provider,
		Model:     provider.DefaultModelValue(),
		Prompt:    probePrompt,
		Input:     probePrompt,
		MaxTokens: probeMaxTokens,
	}

	start := time.Now()
	_, err := r.Resolve(provider.Type).Execute(ctx, call)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		r.log.Warn("provider probe failed",
			zap.String("provider_id", provider.ID.String()),
			zap.String("provider_type", string(provider.Type)),
			zap.Error(err),
		)
		return ProbeResult{Success: false, Message: Message(err), LatencyMs: latency}
	}
	return ProbeResult{Success: true, Message: "connection successful", LatencyMs: latency}
}

// BuildCall resolves model, prompt and attachment for one invocation.
func BuildCall(feature featuredomain.Feature, provider providerdomain.Provider, input, file string, options map[string]any) Call {
	model := strings.TrimSpace(ptrToString(feature.Model))
	if model == "" {
		model = provider.DefaultModelValue()
	}

	call := Call{
		Provider:     provider,
		Model:        model,
		SystemPrompt: strings.TrimSpace(ptrToString(feature.SystemPrompt)),
		Prompt:       RenderPrompt(ptrToString(feature.PromptTemplate), input),
		Input:        input,
		Temperature:  feature.Temperature,
		Options:      options,
	}
	if feature.MaxTokens != nil {
		call.MaxTokens = *feature.MaxTokens
	}
	if provider.SupportsVision {
		if image, ok := ParseImage(file); ok {
			call.Image = image
		}
	}
	return call
}

func ptrToString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
