package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, feature *Feature) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Feature, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Feature, error)
	List(ctx context.Context, db *gorm.DB, filter ListRequest) ([]Feature, error)
	Update(ctx context.Context, db *gorm.DB, feature *Feature) error
	UpdateStatus(ctx context.Context, db *gorm.DB, feature *Feature) error
}
