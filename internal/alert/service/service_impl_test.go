package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/alert/domain"
	"github.com/smallbiznis/featuregate/internal/alert/repository"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/events"
	"github.com/smallbiznis/featuregate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	svc := NewService(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clock.NewFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)),
		Repo:   repository.Provide(),
		Outbox: events.NewOutbox(db, node),
	})
	return svc, db
}

func lowBalance(tenantID int64) domain.RaiseRequest {
	return domain.RaiseRequest{
		TenantID: snowflake.ID(tenantID),
		Type:     domain.AlertTypeLowBalance,
		Severity: domain.SeverityWarning,
		Message:  "credit balance is low",
		Details:  map[string]any{"balance": 3},
	}
}

func TestLowBalanceIsDeduplicated(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	first, created, err := svc.RaiseIfNeeded(ctx, lowBalance(1))
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := svc.RaiseIfNeeded(ctx, lowBalance(1))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, created, err = svc.RaiseIfNeeded(ctx, lowBalance(2))
	require.NoError(t, err)
	assert.True(t, created, "other tenants are independent")

	var open int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM admin_alerts WHERE tenant_id = 1 AND resolved = ?`, false).Scan(&open).Error)
	assert.Equal(t, int64(1), open)

	_, err = svc.Resolve(ctx, first.ID.String(), "ops@example.com")
	require.NoError(t, err)

	_, created, err = svc.RaiseIfNeeded(ctx, lowBalance(1))
	require.NoError(t, err)
	assert.True(t, created, "a new alert is allowed once the previous one is resolved")
}

func TestLowBalanceUniqueIndexBacksCheck(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	repo := repository.Provide()

	_, created, err := svc.RaiseIfNeeded(ctx, lowBalance(5))
	require.NoError(t, err)
	require.True(t, created)

	inserted, err := repo.InsertIfNoneOpen(ctx, db, &domain.Alert{
		ID:        99,
		TenantID:  5,
		Type:      domain.AlertTypeLowBalance,
		Severity:  domain.SeverityWarning,
		Message:   "racing insert",
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestCreditsDepletedIsUnconditional(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	req := domain.RaiseRequest{
		TenantID: 3,
		Type:     domain.AlertTypeCreditsDepleted,
		Severity: domain.SeverityCritical,
		Message:  "credits depleted",
	}
	for i := 0; i < 3; i++ {
		_, created, err := svc.RaiseIfNeeded(ctx, req)
		require.NoError(t, err)
		assert.True(t, created)
	}

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM admin_alerts WHERE alert_type = ?`, domain.AlertTypeCreditsDepleted).Scan(&count).Error)
	assert.Equal(t, int64(3), count)

	var raised int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM gateway_events WHERE event_type = ?`, events.EventAlertRaised).Scan(&raised).Error)
	assert.Equal(t, int64(3), raised)
}

func TestListAndResolve(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	alert, _, err := svc.RaiseIfNeeded(ctx, lowBalance(8))
	require.NoError(t, err)
	_, _, err = svc.RaiseIfNeeded(ctx, domain.RaiseRequest{
		TenantID: 8,
		Type:     domain.AlertTypeCreditsDepleted,
		Severity: domain.SeverityCritical,
		Message:  "credits depleted",
	})
	require.NoError(t, err)

	unresolved := false
	list, err := svc.List(ctx, domain.ListRequest{TenantID: "8", Resolved: &unresolved})
	require.NoError(t, err)
	assert.Len(t, list.Alerts, 2)

	resolved, err := svc.Resolve(ctx, alert.ID.String(), "admin-1")
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, "admin-1", *resolved.ResolvedBy)

	_, err = svc.Resolve(ctx, alert.ID.String(), "admin-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)

	lowType := domain.AlertTypeLowBalance
	list, err = svc.List(ctx, domain.ListRequest{Type: &lowType})
	require.NoError(t, err)
	require.Len(t, list.Alerts, 1)
	assert.True(t, list.Alerts[0].Resolved)

	_, err = svc.Resolve(ctx, "12345", "admin-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRaiseValidation(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := svc.RaiseIfNeeded(context.Background(), domain.RaiseRequest{TenantID: 1, Type: "flood", Severity: domain.SeverityInfo, Message: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidType)
}
