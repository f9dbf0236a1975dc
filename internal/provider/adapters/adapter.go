package adapters

import (
	"context"

	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	providerdomain "github.com/smallbiznis/featuregate/internal/provider/domain"
)

// ExecuteRequest is a normalized invocation of a feature against its provider.
type ExecuteRequest struct {
	Feature  featuredomain.Feature
	Provider providerdomain.Provider
	Input    string
	File     string
	Options  map[string]any
}

// Result is the normalized vendor response.
type Result struct {
	Output    string
	TokensIn  int
	TokensOut int
}

// Call is what an Adapter sends to its vendor after prompt rendering.
type Call struct {
	Provider     providerdomain.Provider
	Model        string
	SystemPrompt string
	Prompt       string
	Input        string
	MaxTokens    int
	Temperature  *float64
	Image        *Image
	Options      map[string]any
}

// Adapter translates a Call into one vendor family's wire format.
type Adapter interface {
	Execute(ctx context.Context, call Call) (*Result, error)
}
