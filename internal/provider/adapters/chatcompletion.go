package adapters

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultChatCompletionBaseURL = "https://api.openai.com/v1"

type chatCompletionAdapter struct {
	httpClient *http.Client
}

func newChatCompletionAdapter(client *http.Client) Adapter {
	return &chatCompletionAdapter{httpClient: client}
}

func (a *chatCompletionAdapter) Execute(ctx context.Context, call Call) (*Result, error) {
	name := call.Provider.Name
	key := call.Provider.CredentialValue()
	if key == "" {
		return nil, &ConfigurationError{Provider: name, Reason: "missing credential"}
	}

	cfg := openai.DefaultConfig(key)
	cfg.BaseURL = defaultChatCompletionBaseURL
	if endpoint := call.Provider.EndpointValue(); endpoint != "" {
		cfg.BaseURL = strings.TrimRight(endpoint, "/")
	}
	capture := newResponseCapture(a.httpClient)
	cfg.HTTPClient = capture.client()
	client := openai.NewClientWithConfig(cfg)

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if call.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: call.SystemPrompt,
		})
	}
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if call.Image != nil {
		user.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: call.Prompt},
			{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: call.Image.DataURL()},
			},
		}
	} else {
		user.Content = call.Prompt
	}
	messages = append(messages, user)

	req := openai.ChatCompletionRequest{
		Model:    call.Model,
		Messages: messages,
	}
	if call.MaxTokens > 0 {
		req.MaxTokens = call.MaxTokens
	}
	if call.Temperature != nil {
		req.Temperature = float32(*call.Temperature)
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyOpenAIError(name, err, capture)
	}
	if len(resp.Choices) == 0 {
		return nil, &ExecutionError{Provider: name, StatusCode: http.StatusOK, Message: "provider returned no choices"}
	}

	return &Result{
		Output:    resp.Choices[0].Message.Content,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}, nil
}

// classifyOpenAIError prefers the status and body seen on the wire: the
// client library drops envelopes such as {"error":"..."} or {"message":"..."}.
func classifyOpenAIError(provider string, err error, capture *responseCapture) error {
	if isTransportFailure(err) {
		return &TransportError{Provider: provider, Err: err}
	}

	status := capture.status
	message := ""
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		message = strings.TrimSpace(apiErr.Message)
		if status == 0 {
			status = apiErr.HTTPStatusCode
		}
	case errors.As(err, &reqErr):
		if status == 0 {
			status = reqErr.HTTPStatusCode
		}
	}

	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		return &ExecutionError{Provider: provider, StatusCode: status, Message: "provider returned a malformed response"}
	}
	if message == "" {
		message = vendorErrorMessage(capture.body, status)
	}
	return &ExecutionError{Provider: provider, StatusCode: status, Message: message}
}

func isTransportFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// responseCapture records the last response status and, for non-2xx
// responses, a copy of the body.
type responseCapture struct {
	base   *http.Client
	status int
	body   []byte
}

func newResponseCapture(base *http.Client) *responseCapture {
	if base == nil {
		base = http.DefaultClient
	}
	return &responseCapture{base: base}
}

func (c *responseCapture) client() *http.Client {
	wrapped := *c.base
	wrapped.Transport = c
	return &wrapped
}

func (c *responseCapture) RoundTrip(req *http.Request) (*http.Response, error) {
	transport := c.base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	resp, err := transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	c.status = resp.StatusCode
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	c.body = raw
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	return resp, nil
}
