package adapters

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const maxResponseBytes = 8 << 20

// payload builds a JSON request body path by path and keeps the first
// encoding failure.
type payload struct {
	provider string
	raw      []byte
	err      error
}

func newPayload(provider string) *payload {
	return &payload{provider: provider, raw: []byte(`{}`)}
}

func (p *payload) set(path string, value any) {
	if p.err != nil {
		return
	}
	raw, err := sjson.SetBytes(p.raw, path, value)
	if err != nil {
		p.err = &ConfigurationError{Provider: p.provider, Reason: fmt.Sprintf("cannot encode %s: %v", path, err)}
		return
	}
	p.raw = raw
}

func (p *payload) bytes() ([]byte, error) {
	return p.raw, p.err
}

// postJSON sends body to url and returns the raw 2xx response body.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &ConfigurationError{Provider: provider, Reason: "invalid endpoint"}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		if value == "" {
			continue
		}
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Provider: provider, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Provider: provider, Err: err}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &ExecutionError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Message:    vendorErrorMessage(raw, resp.StatusCode),
		}
	}
	if !gjson.ValidBytes(raw) {
		return nil, &ExecutionError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Message:    "provider returned a malformed response",
		}
	}
	return raw, nil
}

// vendorErrorMessage reads error.message, error (as a string) or message from a vendor envelope.
func vendorErrorMessage(raw []byte, status int) string {
	if gjson.ValidBytes(raw) {
		for _, path := range []string{"error.message", "error", "message"} {
			value := gjson.GetBytes(raw, path)
			if value.Type == gjson.String && strings.TrimSpace(value.Str) != "" {
				return strings.TrimSpace(value.Str)
			}
		}
	}
	return fmt.Sprintf("provider returned status %d", status)
}

func joinURL(base, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + "/" + strings.TrimLeft(path, "/")
}
