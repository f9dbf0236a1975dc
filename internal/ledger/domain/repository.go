package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type TransactionFilter struct {
	TenantID snowflake.ID
	Type     *TransactionType
	BeforeID *snowflake.ID
	Limit    int
}

type Repository interface {
	FindBalance(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*CreditBalance, error)
	// EnsureBalance inserts an empty balance row unless one exists.
	EnsureBalance(ctx context.Context, db *gorm.DB, balance *CreditBalance) error
	Credit(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, amount int64, at time.Time) (int64, error)
	// Debit decrements only when the balance covers amount and returns the rows affected.
	Debit(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, amount int64, at time.Time) (int64, error)
	UpdateThreshold(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, threshold int64, at time.Time) (int64, error)
	InsertTransaction(ctx context.Context, db *gorm.DB, txn *CreditTransaction) error
	ListTransactions(ctx context.Context, db *gorm.DB, filter TransactionFilter) ([]CreditTransaction, error)
}
