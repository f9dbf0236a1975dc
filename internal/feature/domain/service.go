package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	List(ctx context.Context, req ListRequest) ([]Response, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Publish(ctx context.Context, id string) (*Response, error)
	Deprecate(ctx context.Context, id string) (*Response, error)
	Archive(ctx context.Context, id string) (*Response, error)
	MoveToTesting(ctx context.Context, id string) (*Response, error)

	Lookup(ctx context.Context, id snowflake.ID) (*Feature, error)
	LookupByCode(ctx context.Context, code string) (*Feature, error)
}

type ListRequest struct {
	Status     *Status
	Category   string
	ProviderID *snowflake.ID
	SortBy     string
	OrderBy    string
}

type CreateRequest struct {
	Code           string         `json:"code"`
	Name           string         `json:"name"`
	Description    *string        `json:"description"`
	Category       string         `json:"category"`
	Tags           []string       `json:"tags"`
	CreditsPerUse  *int64         `json:"credits_per_use"`
	ProviderID     string         `json:"provider_id"`
	Model          *string        `json:"model"`
	SystemPrompt   *string        `json:"system_prompt"`
	PromptTemplate *string        `json:"prompt_template"`
	MaxTokens      *int           `json:"max_tokens"`
	Temperature    *float64       `json:"temperature"`
	Metadata       map[string]any `json:"metadata"`
}

type UpdateRequest struct {
	ID             string         `json:"-"`
	Name           *string        `json:"name,omitempty"`
	Description    *string        `json:"description,omitempty"`
	Category       *string        `json:"category,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	CreditsPerUse  *int64         `json:"credits_per_use,omitempty"`
	ProviderID     *string        `json:"provider_id,omitempty"`
	Model          *string        `json:"model,omitempty"`
	SystemPrompt   *string        `json:"system_prompt,omitempty"`
	PromptTemplate *string        `json:"prompt_template,omitempty"`
	MaxTokens      *int           `json:"max_tokens,omitempty"`
	Temperature    *float64       `json:"temperature,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type Response struct {
	ID             string         `json:"id"`
	Code           string         `json:"code"`
	Name           string         `json:"name"`
	Description    *string        `json:"description,omitempty"`
	Category       string         `json:"category"`
	Tags           []string       `json:"tags,omitempty"`
	Status         Status         `json:"status"`
	CreditsPerUse  *int64         `json:"credits_per_use,omitempty"`
	ProviderID     string         `json:"provider_id"`
	Model          *string        `json:"model,omitempty"`
	SystemPrompt   *string        `json:"system_prompt,omitempty"`
	PromptTemplate *string        `json:"prompt_template,omitempty"`
	MaxTokens      *int           `json:"max_tokens,omitempty"`
	Temperature    *float64       `json:"temperature,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

var (
	ErrInvalidID            = errors.New("invalid_id")
	ErrInvalidCode          = errors.New("invalid_code")
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidProvider      = errors.New("invalid_provider_id")
	ErrInvalidCreditsPerUse = errors.New("invalid_credits_per_use")
	ErrInvalidMaxTokens     = errors.New("invalid_max_tokens")
	ErrInvalidTemperature   = errors.New("invalid_temperature")
	ErrInvalidTransition    = errors.New("invalid_transition")
	ErrCodeTaken            = errors.New("feature_code_taken")
	ErrArchived             = errors.New("feature_archived")
	ErrNotFound             = errors.New("not_found")
)
