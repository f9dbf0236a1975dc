package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type TransactionType string

const (
	TransactionTypePurchase    TransactionType = "purchase"
	TransactionTypePromotional TransactionType = "promotional"
	TransactionTypeUsage       TransactionType = "usage"
)

// CreditBalance is the prepaid balance of one tenant.
// Balance always equals TotalPurchased - TotalUsed and never drops below zero.
type CreditBalance struct {
	TenantID            snowflake.ID `gorm:"column:tenant_id;primaryKey"`
	Balance             int64        `gorm:"not null"`
	TotalPurchased      int64        `gorm:"column:total_purchased;not null"`
	TotalUsed           int64        `gorm:"column:total_used;not null"`
	LowBalanceThreshold int64        `gorm:"column:low_balance_threshold;not null"`
	LastUsedAt          *time.Time   `gorm:"column:last_used_at"`
	CreatedAt           time.Time    `gorm:"not null"`
	UpdatedAt           time.Time    `gorm:"not null"`
}

func (CreditBalance) TableName() string { return "credit_balances" }

// IsLow reports whether the balance sits at or under the alert threshold.
func (b CreditBalance) IsLow() bool {
	return b.Balance <= b.LowBalanceThreshold
}

// CreditTransaction is an append-only ledger line. Amount is signed.
type CreditTransaction struct {
	ID           snowflake.ID    `gorm:"primaryKey"`
	TenantID     snowflake.ID    `gorm:"column:tenant_id;not null"`
	Amount       int64           `gorm:"not null"`
	BalanceAfter int64           `gorm:"column:balance_after;not null"`
	Type         TransactionType `gorm:"column:transaction_type;type:text;not null"`
	Description  *string         `gorm:"type:text"`
	FeatureID    *snowflake.ID   `gorm:"column:feature_id"`
	UsageLogID   *snowflake.ID   `gorm:"column:usage_log_id"`
	CreatedAt    time.Time       `gorm:"not null"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }
