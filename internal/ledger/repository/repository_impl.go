package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/ledger/domain"
	"gorm.io/gorm"
)

const balanceColumns = `tenant_id, balance, total_purchased, total_used, low_balance_threshold,
	last_used_at, created_at, updated_at`

const transactionColumns = `id, tenant_id, amount, balance_after, transaction_type, description,
	feature_id, usage_log_id, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindBalance(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*domain.CreditBalance, error) {
	var balance domain.CreditBalance
	err := db.WithContext(ctx).Raw(
		`SELECT `+balanceColumns+` FROM credit_balances WHERE tenant_id = ?`,
		tenantID,
	).Scan(&balance).Error
	if err != nil {
		return nil, err
	}
	if balance.TenantID == 0 {
		return nil, nil
	}
	return &balance, nil
}

func (r *repo) EnsureBalance(ctx context.Context, db *gorm.DB, balance *domain.CreditBalance) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO credit_balances (`+balanceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id) DO NOTHING`,
		balance.TenantID,
		balance.Balance,
		balance.TotalPurchased,
		balance.TotalUsed,
		balance.LowBalanceThreshold,
		balance.LastUsedAt,
		balance.CreatedAt,
		balance.UpdatedAt,
	).Error
}

func (r *repo) Credit(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, amount int64, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE credit_balances
		 SET balance = balance + ?, total_purchased = total_purchased + ?, updated_at = ?
		 WHERE tenant_id = ?`,
		amount,
		amount,
		at,
		tenantID,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) Debit(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, amount int64, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE credit_balances
		 SET balance = balance - ?, total_used = total_used + ?, last_used_at = ?, updated_at = ?
		 WHERE tenant_id = ? AND balance >= ?`,
		amount,
		amount,
		at,
		at,
		tenantID,
		amount,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) UpdateThreshold(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, threshold int64, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE credit_balances SET low_balance_threshold = ?, updated_at = ? WHERE tenant_id = ?`,
		threshold,
		at,
		tenantID,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *domain.CreditTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO credit_transactions (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.TenantID,
		txn.Amount,
		txn.BalanceAfter,
		txn.Type,
		txn.Description,
		txn.FeatureID,
		txn.UsageLogID,
		txn.CreatedAt,
	).Error
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, filter domain.TransactionFilter) ([]domain.CreditTransaction, error) {
	var items []domain.CreditTransaction
	stmt := db.WithContext(ctx).Model(&domain.CreditTransaction{}).
		Where("tenant_id = ?", filter.TenantID)
	if filter.Type != nil {
		stmt = stmt.Where("transaction_type = ?", *filter.Type)
	}
	if filter.BeforeID != nil {
		stmt = stmt.Where("id < ?", *filter.BeforeID)
	}
	stmt = stmt.Order("id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
