package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, provider *Provider) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Provider, error)
	List(ctx context.Context, db *gorm.DB, filter ListRequest) ([]Provider, error)
	Update(ctx context.Context, db *gorm.DB, provider *Provider) error
	UpdateHealth(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, checkedAt time.Time) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	CountFeatureReferences(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
}
