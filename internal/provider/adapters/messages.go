package adapters

import (
	"context"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	defaultMessagesURL      = "https://api.anthropic.com/v1/messages"
	messagesAPIVersion      = "2023-06-01"
	defaultMessagesMaxToken = 1024
)

type messagesAdapter struct {
	httpClient *http.Client
}

func newMessagesAdapter(client *http.Client) Adapter {
	return &messagesAdapter{httpClient: client}
}

func (a *messagesAdapter) Execute(ctx context.Context, call Call) (*Result, error) {
	name := call.Provider.Name
	key := call.Provider.CredentialValue()
	if key == "" {
		return nil, &ConfigurationError{Provider: name, Reason: "missing credential"}
	}
	url := call.Provider.EndpointValue()
	if url == "" {
		url = defaultMessagesURL
	}

	maxTokens := call.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMessagesMaxToken
	}

	body := newPayload(name)
	body.set("model", call.Model)
	body.set("max_tokens", maxTokens)
	if call.SystemPrompt != "" {
		body.set("system", call.SystemPrompt)
	}
	if call.Temperature != nil {
		body.set("temperature", *call.Temperature)
	}
	body.set("messages.0.role", "user")
	if call.Image != nil {
		body.set("messages.0.content.0.type", "image")
		body.set("messages.0.content.0.source.type", "base64")
		body.set("messages.0.content.0.source.media_type", call.Image.MIMEType)
		body.set("messages.0.content.0.source.data", call.Image.Data)
		body.set("messages.0.content.1.type", "text")
		body.set("messages.0.content.1.text", call.Prompt)
	} else {
		body.set("messages.0.content", call.Prompt)
	}

	encoded, err := body.bytes()
	if err != nil {
		return nil, err
	}
	raw, err := postJSON(ctx, a.httpClient, name, url, map[string]string{
		"x-api-key":         key,
		"anthropic-version": messagesAPIVersion,
	}, encoded)
	if err != nil {
		return nil, err
	}

	var output strings.Builder
	for _, block := range gjson.GetBytes(raw, "content").Array() {
		if text := block.Get("text"); text.Exists() {
			output.WriteString(text.String())
		}
	}

	return &Result{
		Output:    output.String(),
		TokensIn:  int(gjson.GetBytes(raw, "usage.input_tokens").Int()),
		TokensOut: int(gjson.GetBytes(raw, "usage.output_tokens").Int()),
	}, nil
}
