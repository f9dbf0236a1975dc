package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Subscription grants a tenant access to one feature.
type Subscription struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	TenantID      snowflake.ID `gorm:"column:tenant_id;not null"`
	FeatureID     snowflake.ID `gorm:"column:feature_id;not null"`
	Enabled       bool         `gorm:"not null"`
	ExpiresAt     *time.Time   `gorm:"column:expires_at"`
	CreditsPerUse *int64       `gorm:"column:credits_per_use"`
	DailyLimit    *int64       `gorm:"column:daily_limit"`
	MonthlyLimit  *int64       `gorm:"column:monthly_limit"`
	CreatedAt     time.Time    `gorm:"not null"`
	UpdatedAt     time.Time    `gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }

// IsExpired reports whether expires_at has passed at now.
func (s Subscription) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.After(now)
}

// UserAccess overrides a subscription for one user. A nil Enabled inherits the subscription.
type UserAccess struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	TenantID     snowflake.ID `gorm:"column:tenant_id;not null"`
	UserID       snowflake.ID `gorm:"column:user_id;not null"`
	FeatureID    snowflake.ID `gorm:"column:feature_id;not null"`
	Enabled      *bool        `gorm:"column:enabled"`
	DailyLimit   *int64       `gorm:"column:daily_limit"`
	MonthlyLimit *int64       `gorm:"column:monthly_limit"`
	CreatedAt    time.Time    `gorm:"not null"`
	UpdatedAt    time.Time    `gorm:"not null"`
}

func (UserAccess) TableName() string { return "user_feature_access" }

func (u UserAccess) Denied() bool {
	return u.Enabled != nil && !*u.Enabled
}
