package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/feature/domain"
	"github.com/smallbiznis/featuregate/pkg/db/option"
	"gorm.io/gorm"
)

const featureColumns = `id, code, name, description, category, tags, status, credits_per_use, provider_id,
	model, system_prompt, prompt_template, max_tokens, temperature, metadata, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, feature *domain.Feature) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO features (`+featureColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		feature.ID,
		feature.Code,
		feature.Name,
		feature.Description,
		feature.Category,
		feature.Tags,
		feature.Status,
		feature.CreditsPerUse,
		feature.ProviderID,
		feature.Model,
		feature.SystemPrompt,
		feature.PromptTemplate,
		feature.MaxTokens,
		feature.Temperature,
		feature.Metadata,
		feature.CreatedAt,
		feature.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Feature, error) {
	var f domain.Feature
	err := db.WithContext(ctx).Raw(
		`SELECT `+featureColumns+` FROM features WHERE id = ?`,
		id,
	).Scan(&f).Error
	if err != nil {
		return nil, err
	}
	if f.ID == 0 {
		return nil, nil
	}
	return &f, nil
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Feature, error) {
	var f domain.Feature
	err := db.WithContext(ctx).Raw(
		`SELECT `+featureColumns+` FROM features WHERE code = ?`,
		code,
	).Scan(&f).Error
	if err != nil {
		return nil, err
	}
	if f.ID == 0 {
		return nil, nil
	}
	return &f, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListRequest) ([]domain.Feature, error) {
	var items []domain.Feature
	stmt := db.WithContext(ctx).Model(&domain.Feature{})

	if filter.Status != nil {
		stmt = stmt.Where("status = ?", *filter.Status)
	}
	if filter.Category != "" {
		stmt = stmt.Where("category = ?", filter.Category)
	}
	if filter.ProviderID != nil {
		stmt = stmt.Where("provider_id = ?", *filter.ProviderID)
	}

	stmt = option.WithSortBy(option.WithQuerySortBy(filter.SortBy, filter.OrderBy, map[string]bool{
		"created_at": true,
		"updated_at": true,
		"name":       true,
		"code":       true,
	})).Apply(stmt)

	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, feature *domain.Feature) error {
	if feature == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Exec(
		`UPDATE features
		 SET name = ?, description = ?, category = ?, tags = ?, credits_per_use = ?, provider_id = ?, model = ?,
		     system_prompt = ?, prompt_template = ?, max_tokens = ?, temperature = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		feature.Name,
		feature.Description,
		feature.Category,
		feature.Tags,
		feature.CreditsPerUse,
		feature.ProviderID,
		feature.Model,
		feature.SystemPrompt,
		feature.PromptTemplate,
		feature.MaxTokens,
		feature.Temperature,
		feature.Metadata,
		feature.UpdatedAt,
		feature.ID,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, feature *domain.Feature) error {
	if feature == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Exec(
		`UPDATE features SET status = ?, updated_at = ? WHERE id = ?`,
		feature.Status,
		feature.UpdatedAt,
		feature.ID,
	).Error
}
