package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/pkg/db/pagination"
	"gorm.io/gorm"
)

type Service interface {
	GetBalance(ctx context.Context, tenantID string) (*BalanceResponse, error)
	Grant(ctx context.Context, req GrantRequest) (*TransactionResponse, error)
	SetThreshold(ctx context.Context, tenantID string, threshold int64) (*BalanceResponse, error)
	ListTransactions(ctx context.Context, req ListTransactionsRequest) (ListTransactionsResponse, error)

	// Balance returns the stored balance, or an empty one when the tenant has none yet.
	Balance(ctx context.Context, tenantID snowflake.ID) (*CreditBalance, error)
	// DebitTx charges usage inside the caller's transaction.
	DebitTx(ctx context.Context, tx *gorm.DB, req DebitRequest) (*DebitResult, error)
}

type GrantRequest struct {
	TenantID    string          `json:"-"`
	Amount      int64           `json:"amount"`
	Type        TransactionType `json:"type"`
	Description *string         `json:"description"`
}

type DebitRequest struct {
	TenantID    snowflake.ID
	UserID      snowflake.ID
	FeatureID   snowflake.ID
	FeatureCode string
	UsageLogID  snowflake.ID
	Amount      int64
}

type DebitResult struct {
	TransactionID snowflake.ID
	Balance       CreditBalance
}

type ListTransactionsRequest struct {
	pagination.Pagination
	TenantID string
	Type     *TransactionType
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []TransactionResponse `json:"transactions"`
}

type BalanceResponse struct {
	TenantID            string     `json:"tenant_id"`
	Balance             int64      `json:"balance"`
	TotalPurchased      int64      `json:"total_purchased"`
	TotalUsed           int64      `json:"total_used"`
	LowBalanceThreshold int64      `json:"low_balance_threshold"`
	LastUsedAt          *time.Time `json:"last_used_at,omitempty"`
}

type TransactionResponse struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	Amount       int64           `json:"amount"`
	BalanceAfter int64           `json:"balance_after"`
	Type         TransactionType `json:"type"`
	Description  *string         `json:"description,omitempty"`
	FeatureID    *string         `json:"feature_id,omitempty"`
	UsageLogID   *string         `json:"usage_log_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

var (
	ErrInvalidTenant          = errors.New("invalid_tenant_id")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidTransactionType = errors.New("invalid_transaction_type")
	ErrInvalidThreshold       = errors.New("invalid_threshold")
	ErrInvalidPageToken       = errors.New("invalid_page_token")
	ErrInsufficientCredits    = errors.New("insufficient_credits")
)
