package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/subscription/domain"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, tenant_id, feature_id, enabled, expires_at, credits_per_use,
	daily_limit, monthly_limit, created_at, updated_at`

const userAccessColumns = `id, tenant_id, user_id, feature_id, enabled, daily_limit, monthly_limit,
	created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, feature_id) DO UPDATE SET
			enabled = excluded.enabled,
			expires_at = excluded.expires_at,
			credits_per_use = excluded.credits_per_use,
			daily_limit = excluded.daily_limit,
			monthly_limit = excluded.monthly_limit,
			updated_at = excluded.updated_at`,
		subscription.ID,
		subscription.TenantID,
		subscription.FeatureID,
		subscription.Enabled,
		subscription.ExpiresAt,
		subscription.CreditsPerUse,
		subscription.DailyLimit,
		subscription.MonthlyLimit,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, tenantID, featureID snowflake.ID) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = ? AND feature_id = ?`,
		tenantID,
		featureID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]domain.Subscription, error) {
	var items []domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = ? ORDER BY created_at ASC, id ASC`,
		tenantID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, tenantID, featureID snowflake.ID) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM subscriptions WHERE tenant_id = ? AND feature_id = ?`,
		tenantID,
		featureID,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) UpsertUserAccess(ctx context.Context, db *gorm.DB, access *domain.UserAccess) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO user_feature_access (`+userAccessColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, feature_id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			enabled = excluded.enabled,
			daily_limit = excluded.daily_limit,
			monthly_limit = excluded.monthly_limit,
			updated_at = excluded.updated_at`,
		access.ID,
		access.TenantID,
		access.UserID,
		access.FeatureID,
		access.Enabled,
		access.DailyLimit,
		access.MonthlyLimit,
		access.CreatedAt,
		access.UpdatedAt,
	).Error
}

func (r *repo) FindUserAccess(ctx context.Context, db *gorm.DB, tenantID, userID, featureID snowflake.ID) (*domain.UserAccess, error) {
	var item domain.UserAccess
	err := db.WithContext(ctx).Raw(
		`SELECT `+userAccessColumns+` FROM user_feature_access
		 WHERE tenant_id = ? AND user_id = ? AND feature_id = ?`,
		tenantID,
		userID,
		featureID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListUserAccess(ctx context.Context, db *gorm.DB, tenantID, userID snowflake.ID) ([]domain.UserAccess, error) {
	var items []domain.UserAccess
	err := db.WithContext(ctx).Raw(
		`SELECT `+userAccessColumns+` FROM user_feature_access
		 WHERE tenant_id = ? AND user_id = ? ORDER BY created_at ASC, id ASC`,
		tenantID,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) DeleteUserAccess(ctx context.Context, db *gorm.DB, tenantID, userID, featureID snowflake.ID) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM user_feature_access WHERE tenant_id = ? AND user_id = ? AND feature_id = ?`,
		tenantID,
		userID,
		featureID,
	)
	return result.RowsAffected, result.Error
}
