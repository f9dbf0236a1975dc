package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/alert/domain"
	"gorm.io/gorm"
)

const alertColumns = `id, tenant_id, alert_type, severity, message, details, resolved, resolved_at,
	resolved_by, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, alert *domain.Alert) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO admin_alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		insertArgs(alert)...,
	).Error
}

func (r *repo) InsertIfNoneOpen(ctx context.Context, db *gorm.DB, alert *domain.Alert) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO admin_alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		insertArgs(alert)...,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindOpen(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, alertType domain.AlertType) (*domain.Alert, error) {
	var alert domain.Alert
	err := db.WithContext(ctx).Raw(
		`SELECT `+alertColumns+` FROM admin_alerts
		 WHERE tenant_id = ? AND alert_type = ? AND resolved = ?
		 ORDER BY id DESC LIMIT 1`,
		tenantID,
		alertType,
		false,
	).Scan(&alert).Error
	if err != nil {
		return nil, err
	}
	if alert.ID == 0 {
		return nil, nil
	}
	return &alert, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Alert, error) {
	var alert domain.Alert
	err := db.WithContext(ctx).Raw(
		`SELECT `+alertColumns+` FROM admin_alerts WHERE id = ?`,
		id,
	).Scan(&alert).Error
	if err != nil {
		return nil, err
	}
	if alert.ID == 0 {
		return nil, nil
	}
	return &alert, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Alert, error) {
	var items []domain.Alert
	stmt := db.WithContext(ctx).Model(&domain.Alert{})
	if filter.TenantID != nil {
		stmt = stmt.Where("tenant_id = ?", *filter.TenantID)
	}
	if filter.Type != nil {
		stmt = stmt.Where("alert_type = ?", *filter.Type)
	}
	if filter.Resolved != nil {
		stmt = stmt.Where("resolved = ?", *filter.Resolved)
	}
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

func (r *repo) Resolve(ctx context.Context, db *gorm.DB, id snowflake.ID, actor *string, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE admin_alerts SET resolved = ?, resolved_at = ?, resolved_by = ? WHERE id = ? AND resolved = ?`,
		true,
		at,
		actor,
		id,
		false,
	)
	return result.RowsAffected, result.Error
}

func insertArgs(alert *domain.Alert) []any {
	return []any{
		alert.ID,
		alert.TenantID,
		alert.Type,
		alert.Severity,
		alert.Message,
		alert.Details,
		alert.Resolved,
		alert.ResolvedAt,
		alert.ResolvedBy,
		alert.CreatedAt,
	}
}
