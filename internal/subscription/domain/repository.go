package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	Find(ctx context.Context, db *gorm.DB, tenantID, featureID snowflake.ID) (*Subscription, error)
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]Subscription, error)
	Delete(ctx context.Context, db *gorm.DB, tenantID, featureID snowflake.ID) (int64, error)

	UpsertUserAccess(ctx context.Context, db *gorm.DB, access *UserAccess) error
	FindUserAccess(ctx context.Context, db *gorm.DB, tenantID, userID, featureID snowflake.ID) (*UserAccess, error)
	ListUserAccess(ctx context.Context, db *gorm.DB, tenantID, userID snowflake.ID) ([]UserAccess, error)
	DeleteUserAccess(ctx context.Context, db *gorm.DB, tenantID, userID, featureID snowflake.ID) (int64, error)
}
