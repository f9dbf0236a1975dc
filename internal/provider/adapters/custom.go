package adapters

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tiktoken-go/tokenizer"
)

var outputFields = []string{"output", "text", "result"}

type customAdapter struct {
	httpClient *http.Client

	codecOnce sync.Once
	codec     tokenizer.Codec
}

func newCustomAdapter(client *http.Client) Adapter {
	return &customAdapter{httpClient: client}
}

func (a *customAdapter) Execute(ctx context.Context, call Call) (*Result, error) {
	name := call.Provider.Name
	endpoint := call.Provider.EndpointValue()
	if endpoint == "" {
		return nil, &ConfigurationError{Provider: name, Reason: "missing endpoint"}
	}

	body := newPayload(name)
	body.set("input", call.Input)
	body.set("prompt", call.Prompt)
	if call.SystemPrompt != "" {
		body.set("system_prompt", call.SystemPrompt)
	}
	if call.Model != "" {
		body.set("model", call.Model)
	}
	if call.MaxTokens > 0 {
		body.set("max_tokens", call.MaxTokens)
	}
	if call.Temperature != nil {
		body.set("temperature", *call.Temperature)
	}
	if len(call.Options) > 0 {
		body.set("options", call.Options)
	}
	if call.Image != nil {
		body.set("file.mime_type", call.Image.MIMEType)
		body.set("file.data", call.Image.Data)
	}

	headers := map[string]string{}
	if key := call.Provider.CredentialValue(); key != "" {
		headers["Authorization"] = "Bearer " + key
	}

	encoded, err := body.bytes()
	if err != nil {
		return nil, err
	}
	raw, err := postJSON(ctx, a.httpClient, name, endpoint, headers, encoded)
	if err != nil {
		return nil, err
	}

	output := ""
	for _, field := range outputFields {
		if value := gjson.GetBytes(raw, field); value.Exists() {
			output = value.String()
			break
		}
	}

	result := &Result{Output: output}
	tokensIn := gjson.GetBytes(raw, "usage.input_tokens")
	tokensOut := gjson.GetBytes(raw, "usage.output_tokens")
	if tokensIn.Exists() || tokensOut.Exists() {
		result.TokensIn = int(tokensIn.Int())
		result.TokensOut = int(tokensOut.Int())
		return result, nil
	}

	result.TokensIn = a.estimateTokens(strings.TrimSpace(call.SystemPrompt + "\n" + call.Prompt))
	result.TokensOut = a.estimateTokens(output)
	return result, nil
}

// estimateTokens counts cl100k_base tokens, falling back to a 4-chars-per-token heuristic.
func (a *customAdapter) estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	a.codecOnce.Do(func() {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			a.codec = codec
		}
	})
	if a.codec != nil {
		if ids, _, err := a.codec.Encode(text); err == nil {
			return len(ids)
		}
	}
	return (len(text) + 3) / 4
}
