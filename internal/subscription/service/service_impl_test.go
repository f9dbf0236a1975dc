package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/featuregate/internal/clock"
	featurerepository "github.com/smallbiznis/featuregate/internal/feature/repository"
	"github.com/smallbiznis/featuregate/internal/subscription/domain"
	"github.com/smallbiznis/featuregate/internal/subscription/repository"
	"github.com/smallbiznis/featuregate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tenantID  = "500"
	userID    = "600"
	published = "700"
	draft     = "701"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := testutil.OpenDB(t)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, row := range []struct {
		id     int64
		code   string
		status string
	}{{700, "summarize", "published"}, {701, "caption", "draft"}} {
		require.NoError(t, db.Exec(
			`INSERT INTO features (id, code, name, category, status, provider_id, created_at, updated_at)
			 VALUES (?, ?, ?, 'general', ?, 1, ?, ?)`,
			row.id, row.code, row.code, row.status, now, now,
		).Error)
	}

	fake := clock.NewFakeClock(now)
	svc := NewService(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       testutil.Node(t),
		Clock:       fake,
		Repo:        repository.Provide(),
		FeatureRepo: featurerepository.Provide(),
	})
	return svc, db, fake
}

func int64Ptr(v int64) *int64 { return &v }
func boolPtr(v bool) *bool    { return &v }

func TestAssignRequiresPublishedFeature(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Assign(context.Background(), domain.AssignRequest{TenantID: tenantID, FeatureID: draft})
	assert.ErrorIs(t, err, domain.ErrFeatureNotPublished)

	_, err = svc.Assign(context.Background(), domain.AssignRequest{TenantID: tenantID, FeatureID: "999"})
	assert.ErrorIs(t, err, domain.ErrFeatureNotFound)
}

func TestAssignIsUpsert(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	first, err := svc.Assign(ctx, domain.AssignRequest{TenantID: tenantID, FeatureID: published, DailyLimit: int64Ptr(5)})
	require.NoError(t, err)
	assert.True(t, first.Enabled)
	assert.Equal(t, int64(5), *first.DailyLimit)

	fake.Advance(time.Hour)
	expires := fake.Now().Add(24 * time.Hour)
	second, err := svc.Assign(ctx, domain.AssignRequest{
		TenantID:      tenantID,
		FeatureID:     published,
		Enabled:       boolPtr(false),
		ExpiresAt:     &expires,
		CreditsPerUse: int64Ptr(3),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.False(t, second.Enabled)
	assert.Nil(t, second.DailyLimit)
	assert.Equal(t, int64(3), *second.CreditsPerUse)
	require.NotNil(t, second.ExpiresAt)
	assert.True(t, second.ExpiresAt.Equal(expires))

	items, err := svc.ListForTenant(ctx, tenantID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestUnassignDeletesRow(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Assign(ctx, domain.AssignRequest{TenantID: tenantID, FeatureID: published})
	require.NoError(t, err)

	require.NoError(t, svc.Unassign(ctx, tenantID, published))
	assert.ErrorIs(t, svc.Unassign(ctx, tenantID, published), domain.ErrNotFound)

	sub, err := svc.Find(ctx, 500, 700)
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestUserAccessOverrides(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.SetUserAccess(ctx, domain.UserAccessRequest{
		TenantID:   tenantID,
		UserID:     userID,
		FeatureID:  published,
		DailyLimit: int64Ptr(2),
	})
	require.NoError(t, err)
	assert.Nil(t, resp.Enabled)

	access, err := svc.FindUserAccess(ctx, 500, 600, 700)
	require.NoError(t, err)
	require.NotNil(t, access)
	assert.False(t, access.Denied())

	_, err = svc.SetUserAccess(ctx, domain.UserAccessRequest{
		TenantID:  tenantID,
		UserID:    userID,
		FeatureID: published,
		Enabled:   boolPtr(false),
	})
	require.NoError(t, err)

	access, err = svc.FindUserAccess(ctx, 500, 600, 700)
	require.NoError(t, err)
	assert.True(t, access.Denied())

	items, err := svc.ListUserAccess(ctx, tenantID, userID)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	require.NoError(t, svc.RemoveUserAccess(ctx, tenantID, userID, published))
	access, err = svc.FindUserAccess(ctx, 500, 600, 700)
	require.NoError(t, err)
	assert.Nil(t, access)
}

func TestAssignRejectsNegativeLimits(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Assign(context.Background(), domain.AssignRequest{
		TenantID:     tenantID,
		FeatureID:    published,
		MonthlyLimit: int64Ptr(-1),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidLimit)
}

func TestSubscriptionExpiry(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	sub := domain.Subscription{ExpiresAt: &yesterday}
	assert.True(t, sub.IsExpired(now))
	assert.True(t, domain.Subscription{ExpiresAt: &now}.IsExpired(now))
	assert.False(t, domain.Subscription{}.IsExpired(now))
}
