package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/provider/domain"
	"github.com/smallbiznis/featuregate/pkg/db/option"
	"gorm.io/gorm"
)

const providerColumns = `id, name, provider_type, endpoint, credential, default_model, supports_vision,
	status, metadata, last_checked_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, provider *domain.Provider) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO providers (`+providerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		provider.ID,
		provider.Name,
		provider.Type,
		provider.Endpoint,
		provider.Credential,
		provider.DefaultModel,
		provider.SupportsVision,
		provider.Status,
		provider.Metadata,
		provider.LastCheckedAt,
		provider.CreatedAt,
		provider.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Provider, error) {
	var p domain.Provider
	err := db.WithContext(ctx).Raw(
		`SELECT `+providerColumns+` FROM providers WHERE id = ?`,
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListRequest) ([]domain.Provider, error) {
	var items []domain.Provider
	stmt := db.WithContext(ctx).Model(&domain.Provider{})
	if filter.Type != nil {
		stmt = stmt.Where("provider_type = ?", *filter.Type)
	}
	if filter.Status != nil {
		stmt = stmt.Where("status = ?", *filter.Status)
	}

	stmt = option.WithSortBy(option.WithQuerySortBy(filter.SortBy, filter.OrderBy, map[string]bool{
		"created_at": true,
		"updated_at": true,
		"name":       true,
	})).Apply(stmt)

	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, provider *domain.Provider) error {
	if provider == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Exec(
		`UPDATE providers
		 SET name = ?, endpoint = ?, credential = ?, default_model = ?, supports_vision = ?, status = ?,
		     metadata = ?, updated_at = ?
		 WHERE id = ?`,
		provider.Name,
		provider.Endpoint,
		provider.Credential,
		provider.DefaultModel,
		provider.SupportsVision,
		provider.Status,
		provider.Metadata,
		provider.UpdatedAt,
		provider.ID,
	).Error
}

func (r *repo) UpdateHealth(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, checkedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE providers SET status = ?, last_checked_at = ?, updated_at = ? WHERE id = ?`,
		status,
		checkedAt,
		checkedAt,
		id,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM providers WHERE id = ?`, id).Error
}

func (r *repo) CountFeatureReferences(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM features WHERE provider_id = ?`,
		id,
	).Scan(&count).Error
	return count, err
}
