package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type HistoryFilter struct {
	TenantID snowflake.ID
	UserID   snowflake.ID
	BeforeID *snowflake.ID
	Limit    int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, log *UsageLog) error
	CountByUser(ctx context.Context, db *gorm.DB, userID, featureID snowflake.ID, since time.Time) (int64, error)
	CountByTenant(ctx context.Context, db *gorm.DB, tenantID, featureID snowflake.ID, since time.Time) (int64, error)
	List(ctx context.Context, db *gorm.DB, filter HistoryFilter) ([]UsageLog, error)
}
