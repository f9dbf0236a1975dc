package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	providerdomain "github.com/smallbiznis/featuregate/internal/provider/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

const onePixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func strPtr(value string) *string { return &value }

func provider(providerType providerdomain.ProviderType, endpoint string) providerdomain.Provider {
	p := providerdomain.Provider{
		ID:           11,
		Name:         string(providerType),
		Type:         providerType,
		Credential:   strPtr("test-key"),
		DefaultModel: strPtr("model-x"),
		Status:       providerdomain.StatusActive,
	}
	if endpoint != "" {
		p.Endpoint = strPtr(endpoint)
	}
	return p
}

func jsonServer(t *testing.T, status int, body string, inspect func(*http.Request, []byte)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if inspect != nil {
			inspect(r, raw)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestChatCompletionParsesChoicesAndUsage(t *testing.T) {
	var gotPath, gotAuth string
	server := jsonServer(t, http.StatusOK,
		`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hello"}}],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`,
		func(r *http.Request, _ []byte) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
		})

	registry := NewRegistry(zap.NewNop(), server.Client())
	result, err := registry.Execute(context.Background(), ExecuteRequest{
		Feature:  featuredomain.Feature{Code: "greet"},
		Provider: provider(providerdomain.ProviderTypeChatCompletion, server.URL),
		Input:    "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Output)
	assert.Equal(t, 5, result.TokensIn)
	assert.Equal(t, 3, result.TokensOut)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestChatCompletionErrorEnvelope(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"object envelope", http.StatusTooManyRequests, `{"error":{"message":"rate limited","type":"rate_limit"}}`, "rate limited"},
		{"string error", http.StatusTooManyRequests, `{"error":"rate limited"}`, "rate limited"},
		{"top-level message", http.StatusBadRequest, `{"message":"bad model"}`, "bad model"},
		{"non-json body", http.StatusBadGateway, `<html>upstream</html>`, "provider returned status 502"},
		{"malformed success", http.StatusOK, `{"choices":`, "provider returned a malformed response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := jsonServer(t, tc.status, tc.body, nil)

			registry := NewRegistry(zap.NewNop(), server.Client())
			_, err := registry.Execute(context.Background(), ExecuteRequest{
				Provider: provider(providerdomain.ProviderTypeChatCompletion, server.URL),
				Input:    "hi",
			})
			require.Error(t, err)

			var execErr *ExecutionError
			require.True(t, errors.As(err, &execErr), "expected ExecutionError, got %T", err)
			assert.Equal(t, tc.message, execErr.Message)
			assert.Equal(t, tc.status, execErr.StatusCode)
			assert.ErrorIs(t, err, ErrProviderExecution)
			assert.NotErrorIs(t, err, ErrTransport)
			assert.Equal(t, tc.message, Message(err))
		})
	}
}

func TestChatCompletionTransportFailure(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})}
	registry := NewRegistry(zap.NewNop(), client)

	_, err := registry.Execute(context.Background(), ExecuteRequest{
		Provider: provider(providerdomain.ProviderTypeChatCompletion, "http://vendor.invalid/v1"),
		Input:    "x",
	})
	assert.ErrorIs(t, err, ErrTransport)
	assert.NotErrorIs(t, err, ErrProviderExecution)
}

func TestExecuteRecordsProviderSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	ok := jsonServer(t, http.StatusOK,
		`{"choices":[{"index":0,"message":{"role":"assistant","content":"done"}}],"usage":{"prompt_tokens":4,"completion_tokens":2}}`, nil)
	failing := jsonServer(t, http.StatusBadRequest, `{"error":{"message":"bad model"}}`, nil)
	registry := NewRegistry(zap.NewNop(), ok.Client())

	_, err := registry.Execute(context.Background(), ExecuteRequest{
		Feature:  featuredomain.Feature{Code: "summarize"},
		Provider: provider(providerdomain.ProviderTypeChatCompletion, ok.URL),
		Input:    "secret user text",
	})
	require.NoError(t, err)
	_, err = registry.Execute(context.Background(), ExecuteRequest{
		Feature:  featuredomain.Feature{Code: "summarize"},
		Provider: provider(providerdomain.ProviderTypeChatCompletion, failing.URL),
		Input:    "x",
	})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
		assert.NotContains(t, kv.Value.Emit(), "secret user text")
	}
	assert.Equal(t, "provider.execute", spans[0].Name())
	assert.Equal(t, "summarize", attrs["featuregate.feature_code"].AsString())
	assert.Equal(t, "chat_completion", attrs["featuregate.provider_type"].AsString())
	assert.Equal(t, "model-x", attrs["featuregate.model"].AsString())
	assert.Equal(t, int64(4), attrs["featuregate.tokens_in"].AsInt64())
	assert.Equal(t, int64(2), attrs["featuregate.tokens_out"].AsInt64())

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, ErrProviderExecution.Error(), spans[1].Status().Description)
}

func TestMessagesAdapterRequestAndResponse(t *testing.T) {
	var body []byte
	var headers http.Header
	server := jsonServer(t, http.StatusOK,
		`{"content":[{"type":"text","text":"sum"},{"type":"text","text":"mary"}],"usage":{"input_tokens":12,"output_tokens":4}}`,
		func(r *http.Request, raw []byte) {
			body = raw
			headers = r.Header.Clone()
		})

	registry := NewRegistry(zap.NewNop(), server.Client())
	result, err := registry.Execute(context.Background(), ExecuteRequest{
		Feature: featuredomain.Feature{
			SystemPrompt:   strPtr("be brief"),
			PromptTemplate: strPtr("Summarize: {{input}}"),
		},
		Provider: provider(providerdomain.ProviderTypeMessages, server.URL),
		Input:    "long text",
	})
	require.NoError(t, err)
	assert.Equal(t, "summary", result.Output)
	assert.Equal(t, 12, result.TokensIn)
	assert.Equal(t, 4, result.TokensOut)

	assert.Equal(t, "test-key", headers.Get("x-api-key"))
	assert.Equal(t, messagesAPIVersion, headers.Get("anthropic-version"))
	assert.Equal(t, "be brief", gjson.GetBytes(body, "system").String())
	assert.Equal(t, "Summarize: long text", gjson.GetBytes(body, "messages.0.content").String())
	assert.Equal(t, int64(defaultMessagesMaxToken), gjson.GetBytes(body, "max_tokens").Int())
	assert.Equal(t, "model-x", gjson.GetBytes(body, "model").String())
}

func TestGenerateContentAdapter(t *testing.T) {
	var path, key string
	server := jsonServer(t, http.StatusOK,
		`{"candidates":[{"content":{"parts":[{"text":"bon"},{"text":"jour"}]}}],"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":2}}`,
		func(r *http.Request, _ []byte) {
			path = r.URL.Path
			key = r.Header.Get("x-goog-api-key")
		})

	registry := NewRegistry(zap.NewNop(), server.Client())
	result, err := registry.Execute(context.Background(), ExecuteRequest{
		Feature:  featuredomain.Feature{Model: strPtr("gemini-pro")},
		Provider: provider(providerdomain.ProviderTypeGenerateContent, server.URL+"/v1beta/"),
		Input:    "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "bonjour", result.Output)
	assert.Equal(t, 7, result.TokensIn)
	assert.Equal(t, 2, result.TokensOut)
	assert.Equal(t, "/v1beta/models/gemini-pro:generateContent", path)
	assert.Equal(t, "test-key", key)
}

func TestCustomAdapterPayloadAndUsage(t *testing.T) {
	var body []byte
	server := jsonServer(t, http.StatusOK, `{"result":"done","usage":{"input_tokens":9,"output_tokens":1}}`,
		func(_ *http.Request, raw []byte) { body = raw })

	registry := NewRegistry(zap.NewNop(), server.Client())
	result, err := registry.Execute(context.Background(), ExecuteRequest{
		Provider: provider(providerdomain.ProviderTypeCustom, server.URL),
		Input:    "payload",
		Options:  map[string]any{"tone": "formal"},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result.Output)
	assert.Equal(t, 9, result.TokensIn)
	assert.Equal(t, 1, result.TokensOut)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "payload", decoded["input"])
	assert.Equal(t, "formal", gjson.GetBytes(body, "options.tone").String())
}

func TestCustomAdapterEstimatesTokensWithoutUsage(t *testing.T) {
	server := jsonServer(t, http.StatusOK, `{"text":"hello world"}`, nil)

	registry := NewRegistry(zap.NewNop(), server.Client())
	result, err := registry.Execute(context.Background(), ExecuteRequest{
		Provider: provider(providerdomain.ProviderTypeCustom, server.URL),
		Input:    "say hello to the world",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Output)
	assert.Greater(t, result.TokensIn, 0)
	assert.Greater(t, result.TokensOut, 0)
}

func TestUnknownTypeRoutesToCustom(t *testing.T) {
	hit := false
	server := jsonServer(t, http.StatusOK, `{"output":"ok"}`, func(*http.Request, []byte) { hit = true })

	registry := NewRegistry(zap.NewNop(), server.Client())
	result, err := registry.Execute(context.Background(), ExecuteRequest{
		Provider: provider(providerdomain.ProviderType("homegrown"), server.URL),
		Input:    "x",
	})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "ok", result.Output)
}

func TestConfigurationErrorBeforeNetwork(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		t.Fatalf("no request expected")
		return nil, nil
	})}
	registry := NewRegistry(zap.NewNop(), client)

	cases := []providerdomain.Provider{
		func() providerdomain.Provider {
			p := provider(providerdomain.ProviderTypeChatCompletion, "")
			p.Credential = nil
			return p
		}(),
		func() providerdomain.Provider {
			p := provider(providerdomain.ProviderTypeMessages, "")
			p.Credential = strPtr("  ")
			return p
		}(),
		provider(providerdomain.ProviderTypeCustom, ""),
	}
	for _, p := range cases {
		_, err := registry.Execute(context.Background(), ExecuteRequest{Provider: p, Input: "x"})
		assert.ErrorIs(t, err, ErrProviderConfiguration, "provider type %s", p.Type)
	}
}

func TestTransportErrorOnUnreachableEndpoint(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})}
	registry := NewRegistry(zap.NewNop(), client)

	_, err := registry.Execute(context.Background(), ExecuteRequest{
		Provider: provider(providerdomain.ProviderTypeCustom, "http://vendor.invalid/run"),
		Input:    "x",
	})
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, "provider did not respond in time", Message(err))
}

func TestUnencodableOptionsFailBeforeNetwork(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		t.Fatalf("no request expected")
		return nil, nil
	})}
	registry := NewRegistry(zap.NewNop(), client)

	_, err := registry.Execute(context.Background(), ExecuteRequest{
		Provider: provider(providerdomain.ProviderTypeCustom, "http://vendor.invalid/run"),
		Input:    "x",
		Options:  map[string]any{"callback": make(chan int)},
	})
	require.ErrorIs(t, err, ErrProviderConfiguration)
	assert.Contains(t, Message(err), "options")
}

func TestPayloadKeepsFirstError(t *testing.T) {
	body := newPayload("vendor")
	body.set("model", "m")
	body.set("options", map[string]any{"bad": make(chan int)})
	body.set("prompt", "later fields are skipped")

	raw, err := body.bytes()
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "vendor", cfgErr.Provider)
	assert.JSONEq(t, `{"model":"m"}`, string(raw))

	ok := newPayload("vendor")
	ok.set("contents.0.parts.0.text", "hi")
	raw, err = ok.bytes()
	require.NoError(t, err)
	assert.Equal(t, "hi", gjson.GetBytes(raw, "contents.0.parts.0.text").String())
}

func TestVendorErrorMessageFallbacks(t *testing.T) {
	assert.Equal(t, "plain", vendorErrorMessage([]byte(`{"error":"plain"}`), 500))
	assert.Equal(t, "top level", vendorErrorMessage([]byte(`{"message":"top level"}`), 500))
	assert.Equal(t, "provider returned status 503", vendorErrorMessage([]byte(`<html>`), 503))
}

func TestBuildCallAttachesImageOnlyWithVision(t *testing.T) {
	feature := featuredomain.Feature{PromptTemplate: strPtr("Describe {{input}}")}

	plain := provider(providerdomain.ProviderTypeChatCompletion, "")
	call := BuildCall(feature, plain, "this", onePixelPNG, nil)
	assert.Nil(t, call.Image)
	assert.Equal(t, "Describe this", call.Prompt)
	assert.Equal(t, "model-x", call.Model)

	vision := plain
	vision.SupportsVision = true
	call = BuildCall(feature, vision, "this", onePixelPNG, nil)
	require.NotNil(t, call.Image)
	assert.Equal(t, "image/png", call.Image.MIMEType)
	assert.True(t, strings.HasPrefix(call.Image.DataURL(), "data:image/png;base64,"))
}

func TestRenderPrompt(t *testing.T) {
	assert.Equal(t, "raw", RenderPrompt("", "raw"))
	assert.Equal(t, "A raw B raw", RenderPrompt("A {{input}} B {{input}}", "raw"))
	assert.Equal(t, "Translate\n\nraw", RenderPrompt("Translate", "raw"))
}

func TestParseImageRejectsGarbage(t *testing.T) {
	_, ok := ParseImage("not base64 !!")
	assert.False(t, ok)

	image, ok := ParseImage("data:image/jpeg;base64," + onePixelPNG)
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", image.MIMEType)
}

func TestProbeReportsOutcome(t *testing.T) {
	server := jsonServer(t, http.StatusOK, `{"output":"pong"}`, nil)
	registry := NewRegistry(zap.NewNop(), server.Client())

	result := registry.Probe(context.Background(), provider(providerdomain.ProviderTypeCustom, server.URL))
	assert.True(t, result.Success)

	failing := jsonServer(t, http.StatusUnauthorized, `{"error":{"message":"invalid key"}}`, nil)
	result = registry.Probe(context.Background(), provider(providerdomain.ProviderTypeCustom, failing.URL))
	assert.False(t, result.Success)
	assert.Equal(t, "invalid key", result.Message)
}
