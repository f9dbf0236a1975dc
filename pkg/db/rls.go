package db

import (
	"fmt"

	"gorm.io/gorm"
)

// WithTenant scopes row-level-security policies to tenantID for the rest of
// the transaction. It is a no-op outside Postgres.
func WithTenant(tx *gorm.DB, tenantID int64) error {
	if tx == nil || tx.Dialector == nil || tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec(
		"SELECT set_config('app.current_tenant_id', ?, true)",
		fmt.Sprintf("%d", tenantID),
	).Error
}
