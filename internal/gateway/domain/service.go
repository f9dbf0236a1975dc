package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/featuregate/internal/usage/domain"
	"github.com/smallbiznis/featuregate/pkg/db/pagination"
)

type Service interface {
	Invoke(ctx context.Context, req InvokeRequest) (*InvokeResponse, error)
	ListAvailableFeatures(ctx context.Context, tenantID snowflake.ID) (*AvailableFeaturesResponse, error)
	UsageHistory(ctx context.Context, req UsageHistoryRequest) (usagedomain.HistoryResponse, error)
}

type InvokeRequest struct {
	TenantID    snowflake.ID   `json:"-"`
	UserID      snowflake.ID   `json:"-"`
	FeatureCode string         `json:"-"`
	Input       string         `json:"input"`
	File        string         `json:"file,omitempty"`
	Options     map[string]any `json:"options,omitempty"`
}

type TokensUsed struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

type InvokeResponse struct {
	UsageLogID       string     `json:"usage_log_id"`
	Output           string     `json:"output"`
	TokensUsed       TokensUsed `json:"tokens_used"`
	ProcessingTimeMs int64      `json:"processing_time_ms"`
	CreditsUsed      int64      `json:"credits_used"`
	CreditsRemaining int64      `json:"credits_remaining"`
}

type AvailableFeature struct {
	ID             string     `json:"id"`
	Code           string     `json:"code"`
	Name           string     `json:"name"`
	Description    *string    `json:"description,omitempty"`
	Category       string     `json:"category"`
	Tags           []string   `json:"tags,omitempty"`
	CreditsPerUse  int64      `json:"credits_per_use"`
	DailyLimit     *int64     `json:"daily_limit,omitempty"`
	MonthlyLimit   *int64     `json:"monthly_limit,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	SupportsVision bool       `json:"supports_vision"`
}

type AvailableFeaturesResponse struct {
	Features []AvailableFeature `json:"features"`
	Balance  int64              `json:"balance"`
}

type UsageHistoryRequest struct {
	pagination.Pagination
	TenantID snowflake.ID
	UserID   snowflake.ID
}

// ProviderError is a failed provider call as shown to the caller. Err keeps the
// adapter error for classification; Message is already redacted per config.
type ProviderError struct {
	Message string
	Err     error
}

func (e *ProviderError) Error() string { return e.Message }

func (e *ProviderError) Unwrap() error { return e.Err }

var (
	ErrInvalidTenant = errors.New("invalid_tenant_id")
	ErrInvalidUser   = errors.New("invalid_user_id")
	ErrInputRequired = errors.New("input_required")
	ErrInputTooLarge = errors.New("input_too_large")
	ErrInvalidFile   = errors.New("invalid_file")
	ErrFileTooLarge  = errors.New("file_too_large")
)
