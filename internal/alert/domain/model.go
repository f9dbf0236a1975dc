package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type AlertType string

const (
	AlertTypeLowBalance      AlertType = "low_balance"
	AlertTypeCreditsDepleted AlertType = "credits_depleted"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is an operator notification about a tenant's credit state.
type Alert struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	TenantID   snowflake.ID      `gorm:"column:tenant_id;not null"`
	Type       AlertType         `gorm:"column:alert_type;type:text;not null"`
	Severity   Severity          `gorm:"type:text;not null"`
	Message    string            `gorm:"type:text;not null"`
	Details    datatypes.JSONMap `gorm:"type:jsonb"`
	Resolved   bool              `gorm:"not null"`
	ResolvedAt *time.Time        `gorm:"column:resolved_at"`
	ResolvedBy *string           `gorm:"column:resolved_by;type:text"`
	CreatedAt  time.Time         `gorm:"not null"`
}

func (Alert) TableName() string { return "admin_alerts" }

// Deduplicated reports whether at most one unresolved alert of this type may exist per tenant.
func (t AlertType) Deduplicated() bool {
	return t == AlertTypeLowBalance
}
