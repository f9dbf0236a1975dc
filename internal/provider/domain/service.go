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
	Delete(ctx context.Context, id string) error
	TestConnection(ctx context.Context, id string) (*ProbeResponse, error)

	// Lookup returns the stored provider including its credential.
	Lookup(ctx context.Context, id snowflake.ID) (*Provider, error)
}

type ListRequest struct {
	Type    *ProviderType
	Status  *Status
	SortBy  string
	OrderBy string
}

type CreateRequest struct {
	Name           string         `json:"name"`
	Type           ProviderType   `json:"type"`
	Endpoint       *string        `json:"endpoint"`
	Credential     *string        `json:"credential"`
	DefaultModel   *string        `json:"default_model"`
	SupportsVision bool           `json:"supports_vision"`
	Status         *Status        `json:"status"`
	Metadata       map[string]any `json:"metadata"`
}

type UpdateRequest struct {
	ID             string         `json:"-"`
	Name           *string        `json:"name,omitempty"`
	Endpoint       *string        `json:"endpoint,omitempty"`
	Credential     *string        `json:"credential,omitempty"`
	DefaultModel   *string        `json:"default_model,omitempty"`
	SupportsVision *bool          `json:"supports_vision,omitempty"`
	Status         *Status        `json:"status,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type Response struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Type           ProviderType   `json:"type"`
	Endpoint       *string        `json:"endpoint,omitempty"`
	Credential     *string        `json:"credential,omitempty"`
	DefaultModel   *string        `json:"default_model,omitempty"`
	SupportsVision bool           `json:"supports_vision"`
	Status         Status         `json:"status"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	LastCheckedAt  *time.Time     `json:"last_checked_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ProbeResponse reports the outcome of a connectivity probe.
type ProbeResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	LatencyMs int64  `json:"latency_ms"`
	Status    Status `json:"status"`
}

var (
	ErrInvalidID       = errors.New("invalid_id")
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidType     = errors.New("invalid_provider_type")
	ErrInvalidStatus   = errors.New("invalid_status")
	ErrInvalidEndpoint = errors.New("invalid_endpoint")
	ErrNameTaken       = errors.New("provider_name_taken")
	ErrProviderInUse   = errors.New("provider_in_use")
	ErrNotFound        = errors.New("not_found")
)
