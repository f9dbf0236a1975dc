// Package testutil opens in-memory sqlite databases carrying the gateway schema.
package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE providers (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		provider_type TEXT NOT NULL,
		endpoint TEXT,
		credential TEXT,
		default_model TEXT,
		supports_vision BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL DEFAULT 'testing',
		metadata JSON,
		last_checked_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_providers_name ON providers (name)`,
	`CREATE TABLE features (
		id BIGINT PRIMARY KEY,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		category TEXT NOT NULL DEFAULT 'general',
		tags TEXT,
		status TEXT NOT NULL DEFAULT 'draft',
		credits_per_use BIGINT,
		provider_id BIGINT NOT NULL,
		model TEXT,
		system_prompt TEXT,
		prompt_template TEXT,
		max_tokens INTEGER,
		temperature DOUBLE PRECISION,
		metadata JSON,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_features_code ON features (code)`,
	`CREATE TABLE subscriptions (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		feature_id BIGINT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		expires_at TIMESTAMP,
		credits_per_use BIGINT,
		daily_limit BIGINT,
		monthly_limit BIGINT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_subscriptions_tenant_feature ON subscriptions (tenant_id, feature_id)`,
	`CREATE TABLE user_feature_access (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		feature_id BIGINT NOT NULL,
		enabled BOOLEAN,
		daily_limit BIGINT,
		monthly_limit BIGINT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_user_feature_access_user_feature ON user_feature_access (user_id, feature_id)`,
	`CREATE TABLE credit_balances (
		tenant_id BIGINT PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0,
		total_purchased BIGINT NOT NULL DEFAULT 0,
		total_used BIGINT NOT NULL DEFAULT 0,
		low_balance_threshold BIGINT NOT NULL DEFAULT 10,
		last_used_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		CHECK (balance >= 0)
	)`,
	`CREATE TABLE usage_logs (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		feature_id BIGINT NOT NULL,
		provider_id BIGINT NOT NULL,
		input TEXT,
		output TEXT,
		tokens_in INTEGER NOT NULL DEFAULT 0,
		tokens_out INTEGER NOT NULL DEFAULT 0,
		processing_ms BIGINT NOT NULL DEFAULT 0,
		credits_used BIGINT NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL,
		error_message TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE credit_transactions (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		transaction_type TEXT NOT NULL,
		description TEXT,
		feature_id BIGINT,
		usage_log_id BIGINT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_credit_transactions_usage_log ON credit_transactions (usage_log_id)`,
	`CREATE TABLE admin_alerts (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		alert_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL,
		details JSON,
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		resolved_at TIMESTAMP,
		resolved_by TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_admin_alerts_open_low_balance ON admin_alerts (tenant_id)
		WHERE alert_type = 'low_balance' AND resolved = FALSE`,
	`CREATE TABLE gateway_events (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		event_type TEXT NOT NULL,
		payload JSON,
		dedupe_key TEXT,
		published BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_gateway_events_dedupe ON gateway_events (tenant_id, dedupe_key)`,
	`CREATE TABLE audit_logs (
		id BIGINT PRIMARY KEY,
		tenant_id BIGINT,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata JSON,
		ip_address TEXT,
		user_agent TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
}

// OpenDB returns a single-connection in-memory database with the gateway schema applied.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v\n%s", err, stmt)
		}
	}
	return db
}

// Node returns a snowflake node for tests.
func Node(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}
