package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/featuregate/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

// Authorize checks that actor, acting with role, may perform action on object.
// The actor is bound to exactly one role at a time.
func (s *ServiceImpl) Authorize(ctx context.Context, actor string, role string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if !knownRole(role) {
		s.auditDenied(ctx, actor, role, object, action)
		return ErrInvalidRole
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := "admin:" + actor
	if err := s.ensureGrouping(subject, roleName(role)); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("admin action denied",
			zap.String("actor", actor),
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, actor, role, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) ensureGrouping(subject string, role string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == role {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, role)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, role)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actor string, role string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, nil, string(auditdomain.ActorTypeAdmin), &actor, "authorization.denied", "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
		"role":   role,
	})
}

func knownRole(role string) bool {
	switch role {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	}
	return false
}

func roleName(role string) string {
	return fmt.Sprintf("role:%s", role)
}

var viewActions = [][]string{
	{ObjectProvider, ActionProviderView},
	{ObjectFeature, ActionFeatureView},
	{ObjectSubscription, ActionSubscriptionView},
	{ObjectUserAccess, ActionUserAccessView},
	{ObjectCredits, ActionCreditsView},
	{ObjectAlert, ActionAlertView},
	{ObjectAuditLog, ActionAuditLogView},
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{roleName(RoleAdmin), "*", "*"},

		{roleName(RoleOperator), ObjectProvider, ActionProviderTest},
		{roleName(RoleOperator), ObjectAlert, ActionAlertResolve},
	}
	for _, view := range viewActions {
		policies = append(policies,
			[]string{roleName(RoleOperator), view[0], view[1]},
			[]string{roleName(RoleViewer), view[0], view[1]},
		)
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
