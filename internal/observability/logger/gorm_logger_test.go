package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql       string
		operation string
		table     string
	}{
		{`SELECT * FROM "features" WHERE code = $1`, "SELECT", "features"},
		{`INSERT INTO usage_logs (id) VALUES (1)`, "INSERT", "usage_logs"},
		{`UPDATE credit_balances SET balance = balance - $1 WHERE tenant_id = $2 AND balance >= $1`, "UPDATE", "credit_balances"},
		{`WITH pending AS (SELECT id FROM gateway_events) DELETE FROM gateway_events`, "SELECT", "gateway_events"},
		{`SET LOCAL app.current_tenant_id = '1'`, "UNKNOWN", ""},
	}
	for _, tc := range cases {
		operation, table := describeSQL(tc.sql)
		assert.Equal(t, tc.operation, operation, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}

func TestGormLoggerTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	orig := zap.L()
	zap.ReplaceGlobals(zap.New(core))
	defer zap.ReplaceGlobals(orig)

	l := NewGormLogger(DefaultGormLoggerConfig())
	query := func() (string, int64) { return "SELECT * FROM credit_balances WHERE tenant_id = $1", 0 }
	ctx := context.Background()

	l.Trace(ctx, time.Now(), query, gormlogger.ErrRecordNotFound)
	assert.Zero(t, logs.Len(), "not found lookups are quiet")

	l.Trace(ctx, time.Now(), query, nil)
	assert.Zero(t, logs.Len(), "fast queries are not logged at warn level")

	l.Trace(ctx, time.Now(), query, errors.New("connection reset"))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "credit_balances", fields["table"])
	assert.Equal(t, "SELECT", fields["operation"])

	l.LogMode(gormlogger.Silent).Trace(ctx, time.Now(), query, errors.New("ignored"))
	assert.Equal(t, 1, logs.Len())
}
