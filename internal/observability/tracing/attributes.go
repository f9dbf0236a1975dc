package tracing

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

var sensitiveAttributeKeys = []string{
	"password",
	"secret",
	"api_key",
	"access_token",
	"refresh_token",
	"credential",
	"authorization",
	"prompt",
	"input",
	"output",
}

// InvocationAttributes describes one provider call. Token counts are added
// with TokenAttributes once the vendor has answered.
func InvocationAttributes(featureCode, providerType, model string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("featuregate.feature_code", featureCode),
		attribute.String("featuregate.provider_type", providerType),
	}
	if model = strings.TrimSpace(model); model != "" {
		attrs = append(attrs, attribute.String("featuregate.model", model))
	}
	return attrs
}

func TokenAttributes(tokensIn, tokensOut int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("featuregate.tokens_in", tokensIn),
		attribute.Int("featuregate.tokens_out", tokensOut),
	}
}

// SafeAttributes drops attributes whose keys suggest credentials or user content.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if isSensitiveKey(string(attr.Key)) {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

// SafeError replaces an error with a type-only error to avoid leaking details.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%T", err)
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, needle := range sensitiveAttributeKeys {
		if strings.Contains(key, needle) {
			return true
		}
	}
	return false
}
