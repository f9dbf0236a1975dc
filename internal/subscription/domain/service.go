package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Assign(ctx context.Context, req AssignRequest) (*Response, error)
	Unassign(ctx context.Context, tenantID, featureID string) error
	ListForTenant(ctx context.Context, tenantID string) ([]Response, error)

	SetUserAccess(ctx context.Context, req UserAccessRequest) (*UserAccessResponse, error)
	RemoveUserAccess(ctx context.Context, tenantID, userID, featureID string) error
	ListUserAccess(ctx context.Context, tenantID, userID string) ([]UserAccessResponse, error)

	// Find returns nil when the tenant has no subscription for the feature.
	Find(ctx context.Context, tenantID, featureID snowflake.ID) (*Subscription, error)
	FindUserAccess(ctx context.Context, tenantID, userID, featureID snowflake.ID) (*UserAccess, error)
	ListByTenant(ctx context.Context, tenantID snowflake.ID) ([]Subscription, error)
}

type AssignRequest struct {
	TenantID      string     `json:"-"`
	FeatureID     string     `json:"-"`
	Enabled       *bool      `json:"enabled"`
	ExpiresAt     *time.Time `json:"expires_at"`
	CreditsPerUse *int64     `json:"credits_per_use"`
	DailyLimit    *int64     `json:"daily_limit"`
	MonthlyLimit  *int64     `json:"monthly_limit"`
}

type UserAccessRequest struct {
	TenantID     string `json:"-"`
	UserID       string `json:"-"`
	FeatureID    string `json:"-"`
	Enabled      *bool  `json:"enabled"`
	DailyLimit   *int64 `json:"daily_limit"`
	MonthlyLimit *int64 `json:"monthly_limit"`
}

type Response struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	FeatureID     string     `json:"feature_id"`
	Enabled       bool       `json:"enabled"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreditsPerUse *int64     `json:"credits_per_use,omitempty"`
	DailyLimit    *int64     `json:"daily_limit,omitempty"`
	MonthlyLimit  *int64     `json:"monthly_limit,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type UserAccessResponse struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	UserID       string    `json:"user_id"`
	FeatureID    string    `json:"feature_id"`
	Enabled      *bool     `json:"enabled,omitempty"`
	DailyLimit   *int64    `json:"daily_limit,omitempty"`
	MonthlyLimit *int64    `json:"monthly_limit,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

var (
	ErrInvalidTenant        = errors.New("invalid_tenant_id")
	ErrInvalidUser          = errors.New("invalid_user_id")
	ErrInvalidFeature       = errors.New("invalid_feature_id")
	ErrFeatureNotFound      = errors.New("feature_not_found")
	ErrFeatureNotPublished  = errors.New("feature_not_published")
	ErrInvalidLimit         = errors.New("invalid_limit")
	ErrInvalidCreditsPerUse = errors.New("invalid_credits_per_use")
	ErrNotFound             = errors.New("not_found")
)
