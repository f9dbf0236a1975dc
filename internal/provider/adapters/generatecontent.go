package adapters

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

const defaultGenerateContentBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type generateContentAdapter struct {
	httpClient *http.Client
}

func newGenerateContentAdapter(client *http.Client) Adapter {
	return &generateContentAdapter{httpClient: client}
}

func (a *generateContentAdapter) Execute(ctx context.Context, call Call) (*Result, error) {
	name := call.Provider.Name
	key := call.Provider.CredentialValue()
	if key == "" {
		return nil, &ConfigurationError{Provider: name, Reason: "missing credential"}
	}
	if strings.TrimSpace(call.Model) == "" {
		return nil, &ConfigurationError{Provider: name, Reason: "missing model"}
	}
	base := call.Provider.EndpointValue()
	if base == "" {
		base = defaultGenerateContentBaseURL
	}
	endpoint := joinURL(base, "models/"+url.PathEscape(call.Model)+":generateContent")

	body := newPayload(name)
	if call.SystemPrompt != "" {
		body.set("systemInstruction.parts.0.text", call.SystemPrompt)
	}
	body.set("contents.0.role", "user")
	body.set("contents.0.parts.0.text", call.Prompt)
	if call.Image != nil {
		body.set("contents.0.parts.1.inlineData.mimeType", call.Image.MIMEType)
		body.set("contents.0.parts.1.inlineData.data", call.Image.Data)
	}
	if call.MaxTokens > 0 {
		body.set("generationConfig.maxOutputTokens", call.MaxTokens)
	}
	if call.Temperature != nil {
		body.set("generationConfig.temperature", *call.Temperature)
	}

	encoded, err := body.bytes()
	if err != nil {
		return nil, err
	}
	raw, err := postJSON(ctx, a.httpClient, name, endpoint, map[string]string{
		"x-goog-api-key": key,
	}, encoded)
	if err != nil {
		return nil, err
	}

	var output strings.Builder
	for _, part := range gjson.GetBytes(raw, "candidates.0.content.parts.#.text").Array() {
		output.WriteString(part.String())
	}

	return &Result{
		Output:    output.String(),
		TokensIn:  int(gjson.GetBytes(raw, "usageMetadata.promptTokenCount").Int()),
		TokensOut: int(gjson.GetBytes(raw, "usageMetadata.candidatesTokenCount").Int()),
	}, nil
}
