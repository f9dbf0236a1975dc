package authorization

import (
	"context"
	"testing"

	"github.com/smallbiznis/featuregate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewEnforcer(testutil.OpenDB(t))
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestRolePermissions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		role    string
		object  string
		action  string
		allowed bool
	}{
		{RoleAdmin, ObjectCredits, ActionCreditsGrant, true},
		{RoleAdmin, ObjectProvider, ActionProviderDelete, true},
		{RoleOperator, ObjectProvider, ActionProviderTest, true},
		{RoleOperator, ObjectAlert, ActionAlertResolve, true},
		{RoleOperator, ObjectFeature, ActionFeatureView, true},
		{RoleOperator, ObjectCredits, ActionCreditsGrant, false},
		{RoleViewer, ObjectAuditLog, ActionAuditLogView, true},
		{RoleViewer, ObjectProvider, ActionProviderTest, false},
		{RoleViewer, ObjectFeature, ActionFeatureLifecycle, false},
	}
	for _, tc := range cases {
		err := svc.Authorize(ctx, "ops-1", tc.role, tc.object, tc.action)
		if tc.allowed {
			assert.NoError(t, err, "%s %s", tc.role, tc.action)
		} else {
			assert.ErrorIs(t, err, ErrForbidden, "%s %s", tc.role, tc.action)
		}
	}
}

func TestActorRoleIsRebound(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, "ops-2", RoleAdmin, ObjectCredits, ActionCreditsGrant))
	err := svc.Authorize(ctx, "ops-2", RoleViewer, ObjectCredits, ActionCreditsGrant)
	assert.ErrorIs(t, err, ErrForbidden, "a downgraded actor keeps no admin grant")
}

func TestAuthorizeRejectsUnknownInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, "", RoleAdmin, ObjectCredits, ActionCreditsView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, "ops", "root", ObjectCredits, ActionCreditsView), ErrInvalidRole)
	assert.ErrorIs(t, svc.Authorize(ctx, "ops", RoleAdmin, "", ActionCreditsView), ErrInvalidObject)
}
