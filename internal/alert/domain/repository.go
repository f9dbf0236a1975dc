package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	TenantID *snowflake.ID
	Type     *AlertType
	Resolved *bool
	BeforeID *snowflake.ID
	Limit    int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, alert *Alert) error
	// InsertIfNoneOpen skips the insert when an unresolved alert of the same type exists.
	InsertIfNoneOpen(ctx context.Context, db *gorm.DB, alert *Alert) (bool, error)
	FindOpen(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, alertType AlertType) (*Alert, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Alert, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Alert, error)
	Resolve(ctx context.Context, db *gorm.DB, id snowflake.ID, actor *string, at time.Time) (int64, error)
}
