package adapters

import (
	"encoding/base64"
	"net/http"
	"strings"
)

const inputPlaceholder = "{{input}}"

// Image is an inline vision attachment.
type Image struct {
	MIMEType string
	Data     string
	Size     int
}

// DataURL renders the image as a data URL.
func (i Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + i.Data
}

// RenderPrompt substitutes the input into the feature's template.
// An empty template sends the input as-is.
func RenderPrompt(template, input string) string {
	if strings.TrimSpace(template) == "" {
		return input
	}
	if !strings.Contains(template, inputPlaceholder) {
		return template + "\n\n" + input
	}
	return strings.ReplaceAll(template, inputPlaceholder, input)
}

// ParseImage decodes a base64 payload, optionally given as a data URL.
func ParseImage(file string) (*Image, bool) {
	file = strings.TrimSpace(file)
	if file == "" {
		return nil, false
	}

	mimeType := ""
	if strings.HasPrefix(file, "data:") {
		header, data, ok := strings.Cut(file, ",")
		if !ok {
			return nil, false
		}
		mimeType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		file = data
	}

	raw, err := base64.StdEncoding.DecodeString(file)
	if err != nil || len(raw) == 0 {
		return nil, false
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(raw)
	}
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	return &Image{MIMEType: mimeType, Data: file, Size: len(raw)}, true
}
