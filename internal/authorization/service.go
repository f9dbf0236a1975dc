package authorization

import (
	"context"
	"errors"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

const (
	ObjectProvider     = "provider"
	ObjectFeature      = "feature"
	ObjectSubscription = "subscription"
	ObjectUserAccess   = "user_access"
	ObjectCredits      = "credits"
	ObjectAlert        = "alert"
	ObjectAuditLog     = "audit_log"
)

const (
	ActionProviderView   = "provider.view"
	ActionProviderCreate = "provider.create"
	ActionProviderUpdate = "provider.update"
	ActionProviderDelete = "provider.delete"
	ActionProviderTest   = "provider.test"

	ActionFeatureView      = "feature.view"
	ActionFeatureCreate    = "feature.create"
	ActionFeatureUpdate    = "feature.update"
	ActionFeatureLifecycle = "feature.lifecycle"

	ActionSubscriptionView   = "subscription.view"
	ActionSubscriptionAssign = "subscription.assign"
	ActionSubscriptionRevoke = "subscription.revoke"

	ActionUserAccessView   = "user_access.view"
	ActionUserAccessManage = "user_access.manage"

	ActionCreditsView      = "credits.view"
	ActionCreditsGrant     = "credits.grant"
	ActionCreditsThreshold = "credits.threshold"

	ActionAlertView    = "alert.view"
	ActionAlertResolve = "alert.resolve"

	ActionAuditLogView = "audit_log.view"
)

// Service authorizes admin actions by role.
type Service interface {
	Authorize(ctx context.Context, actor string, role string, object string, action string) error
}

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)
