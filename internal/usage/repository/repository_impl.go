package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/usage/domain"
	"gorm.io/gorm"
)

const usageLogColumns = `id, tenant_id, user_id, feature_id, provider_id, input, output, tokens_in,
	tokens_out, processing_ms, credits_used, success, error_message, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, log *domain.UsageLog) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_logs (`+usageLogColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID,
		log.TenantID,
		log.UserID,
		log.FeatureID,
		log.ProviderID,
		log.Input,
		log.Output,
		log.TokensIn,
		log.TokensOut,
		log.ProcessingMs,
		log.CreditsUsed,
		log.Success,
		log.ErrorMessage,
		log.CreatedAt,
	).Error
}

func (r *repo) CountByUser(ctx context.Context, db *gorm.DB, userID, featureID snowflake.ID, since time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM usage_logs WHERE user_id = ? AND feature_id = ? AND created_at >= ?`,
		userID,
		featureID,
		since.UTC(),
	).Scan(&count).Error
	return count, err
}

func (r *repo) CountByTenant(ctx context.Context, db *gorm.DB, tenantID, featureID snowflake.ID, since time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM usage_logs WHERE tenant_id = ? AND feature_id = ? AND created_at >= ?`,
		tenantID,
		featureID,
		since.UTC(),
	).Scan(&count).Error
	return count, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.HistoryFilter) ([]domain.UsageLog, error) {
	var items []domain.UsageLog
	stmt := db.WithContext(ctx).Model(&domain.UsageLog{}).
		Where("tenant_id = ? AND user_id = ?", filter.TenantID, filter.UserID)
	if filter.BeforeID != nil {
		stmt = stmt.Where("id < ?", *filter.BeforeID)
	}
	stmt = stmt.Order("id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
