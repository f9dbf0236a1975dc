// Package domain contains the append-only usage log of feature invocations.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageLog records one invocation attempt that reached a provider.
type UsageLog struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	TenantID     snowflake.ID `gorm:"column:tenant_id;not null"`
	UserID       snowflake.ID `gorm:"column:user_id;not null"`
	FeatureID    snowflake.ID `gorm:"column:feature_id;not null"`
	ProviderID   snowflake.ID `gorm:"column:provider_id;not null"`
	Input        *string      `gorm:"type:text"`
	Output       *string      `gorm:"type:text"`
	TokensIn     int          `gorm:"column:tokens_in;not null"`
	TokensOut    int          `gorm:"column:tokens_out;not null"`
	ProcessingMs int64        `gorm:"column:processing_ms;not null"`
	CreditsUsed  int64        `gorm:"column:credits_used;not null"`
	Success      bool         `gorm:"not null"`
	ErrorMessage *string      `gorm:"column:error_message;type:text"`
	CreatedAt    time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (UsageLog) TableName() string { return "usage_logs" }
