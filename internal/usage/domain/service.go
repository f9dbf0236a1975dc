package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/pkg/db/pagination"
)

type Service interface {
	// RecordInvocation writes the usage log, debit and low-balance alert in one unit of work.
	RecordInvocation(ctx context.Context, req RecordRequest) (*RecordResult, error)
	// CountUsage counts every recorded attempt, failed ones included.
	CountUsage(ctx context.Context, userID, featureID snowflake.ID, windowStart time.Time) (int64, error)
	CountTenantUsage(ctx context.Context, tenantID, featureID snowflake.ID, windowStart time.Time) (int64, error)
	History(ctx context.Context, req HistoryRequest) (HistoryResponse, error)
}

type RecordRequest struct {
	TenantID        snowflake.ID
	UserID          snowflake.ID
	FeatureID       snowflake.ID
	FeatureCode     string
	ProviderID      snowflake.ID
	Input           string
	Output          string
	TokensIn        int
	TokensOut       int
	ProcessingMs    int64
	CreditsRequired int64
	Success         bool
	ErrorMessage    string
}

type RecordResult struct {
	UsageLogID       snowflake.ID
	Success          bool
	CreditsUsed      int64
	CreditsRemaining int64
	LowBalanceAlert  bool
}

type HistoryRequest struct {
	pagination.Pagination
	TenantID snowflake.ID
	UserID   snowflake.ID
}

type HistoryResponse struct {
	pagination.PageInfo
	Entries []LogResponse `json:"entries"`
}

type LogResponse struct {
	ID           string    `json:"id"`
	FeatureID    string    `json:"feature_id"`
	ProviderID   string    `json:"provider_id"`
	Input        *string   `json:"input,omitempty"`
	Output       *string   `json:"output,omitempty"`
	TokensIn     int       `json:"tokens_in"`
	TokensOut    int       `json:"tokens_out"`
	ProcessingMs int64     `json:"processing_ms"`
	CreditsUsed  int64     `json:"credits_used"`
	Success      bool      `json:"success"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ErrDebitRaceLost is the error message stored when a debit lost to a concurrent one.
const ErrDebitRaceLost = "insufficient credits at debit time"

var (
	ErrInvalidTenant    = errors.New("invalid_tenant_id")
	ErrInvalidUser      = errors.New("invalid_user_id")
	ErrInvalidFeature   = errors.New("invalid_feature_id")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
