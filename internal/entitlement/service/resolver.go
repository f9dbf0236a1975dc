package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/featuregate/internal/alert/domain"
	"github.com/smallbiznis/featuregate/internal/cache"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/config"
	"github.com/smallbiznis/featuregate/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	ledgerdomain "github.com/smallbiznis/featuregate/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/featuregate/internal/observability/metrics"
	providerdomain "github.com/smallbiznis/featuregate/internal/provider/domain"
	subscriptiondomain "github.com/smallbiznis/featuregate/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/featuregate/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Clock         clock.Clock
	Catalog       cache.CatalogCache
	Features      featuredomain.Service
	Providers     providerdomain.Service
	Subscriptions subscriptiondomain.Service
	Usage         usagedomain.Service
	Ledger        ledgerdomain.Service
	Alerts        alertdomain.Service
	Gateway       *config.GatewayConfigHolder
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Resolver struct {
	log           *zap.Logger
	clock         clock.Clock
	catalog       cache.CatalogCache
	features      featuredomain.Service
	providers     providerdomain.Service
	subscriptions subscriptiondomain.Service
	usage         usagedomain.Service
	ledger        ledgerdomain.Service
	alerts        alertdomain.Service
	gateway       *config.GatewayConfigHolder
	obsMetrics    *obsmetrics.Metrics
}

func NewResolver(p Params) domain.Resolver {
	return &Resolver{
		log:           p.Log.Named("entitlement.resolver"),
		clock:         p.Clock,
		catalog:       p.Catalog,
		features:      p.Features,
		providers:     p.Providers,
		subscriptions: p.Subscriptions,
		usage:         p.Usage,
		ledger:        p.Ledger,
		alerts:        p.Alerts,
		gateway:       p.Gateway,
		obsMetrics:    p.ObsMetrics,
	}
}

// Resolve evaluates the policy in order and stops at the first denial.
// Only the insufficient-credits denial writes anything (a CreditsDepleted alert).
func (r *Resolver) Resolve(ctx context.Context, tenantID, userID snowflake.ID, featureCode string) (*domain.Decision, error) {
	featureCode = featuredomain.NormalizeCode(featureCode)
	decision, err := r.resolve(ctx, tenantID, userID, featureCode)
	if reason := domain.DenialReason(err); reason != "" {
		r.obsMetrics.RecordDenial(ctx, featureCode, reason)
		r.log.Debug("invocation denied",
			zap.String("tenant_id", tenantID.String()),
			zap.String("user_id", userID.String()),
			zap.String("feature_code", featureCode),
			zap.String("reason", reason),
		)
	}
	return decision, err
}

func (r *Resolver) resolve(ctx context.Context, tenantID, userID snowflake.ID, featureCode string) (*domain.Decision, error) {
	entry, err := r.loadCatalog(ctx, featureCode)
	if err != nil {
		return nil, err
	}
	if !entry.Feature.IsInvokable() || !entry.Provider.IsActive() {
		return nil, domain.ErrFeatureUnavailable
	}
	feature := entry.Feature

	sub, err := r.subscriptions.Find(ctx, tenantID, feature.ID)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	now := r.clock.Now()
	switch {
	case sub == nil:
		return nil, domain.ErrSubscriptionMissing
	case !sub.Enabled:
		return nil, domain.ErrSubscriptionDisabled
	case sub.IsExpired(now):
		return nil, domain.ErrSubscriptionExpired
	}

	access, err := r.subscriptions.FindUserAccess(ctx, tenantID, userID, feature.ID)
	if err != nil {
		return nil, fmt.Errorf("load user access: %w", err)
	}
	if access != nil && access.Denied() {
		return nil, domain.ErrUserAccessDenied
	}

	if err := r.checkQuota(ctx, now, tenantID, userID, feature.ID, sub, access); err != nil {
		return nil, err
	}

	required := domain.EffectiveCredits(sub, feature)
	balance, err := r.ledger.Balance(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}
	if balance.Balance < required {
		r.raiseDepleted(ctx, tenantID, feature, balance.Balance, required)
		return nil, domain.ErrInsufficientCredits
	}

	return &domain.Decision{
		Feature:         feature,
		Provider:        entry.Provider,
		Subscription:    *sub,
		UserAccess:      access,
		Balance:         *balance,
		CreditsRequired: required,
	}, nil
}

// loadCatalog expects a normalized code, the same key feature writes invalidate.
func (r *Resolver) loadCatalog(ctx context.Context, featureCode string) (cache.CatalogEntry, error) {
	if featureCode == "" {
		return cache.CatalogEntry{}, domain.ErrFeatureUnavailable
	}
	if entry, ok := r.catalog.GetFeature(featureCode); ok {
		return entry, nil
	}

	feature, err := r.features.LookupByCode(ctx, featureCode)
	if err != nil {
		if errors.Is(err, featuredomain.ErrNotFound) || errors.Is(err, featuredomain.ErrInvalidCode) {
			return cache.CatalogEntry{}, domain.ErrFeatureUnavailable
		}
		return cache.CatalogEntry{}, fmt.Errorf("load feature: %w", err)
	}
	provider, err := r.providers.Lookup(ctx, feature.ProviderID)
	if err != nil {
		if errors.Is(err, providerdomain.ErrNotFound) {
			return cache.CatalogEntry{}, domain.ErrFeatureUnavailable
		}
		return cache.CatalogEntry{}, fmt.Errorf("load provider: %w", err)
	}

	entry := cache.CatalogEntry{Feature: *feature, Provider: *provider}
	r.catalog.SetFeature(feature.Code, entry)
	return entry, nil
}

// checkQuota applies the user's caps, then the subscription's tenant-wide caps.
func (r *Resolver) checkQuota(
	ctx context.Context,
	now time.Time,
	tenantID, userID, featureID snowflake.ID,
	sub *subscriptiondomain.Subscription,
	access *subscriptiondomain.UserAccess,
) error {
	loc := r.gatewayConfig().Location()
	windows := []struct {
		start time.Time
		user  *int64
		sub   *int64
	}{
		{start: clock.StartOfDay(now, loc), sub: sub.DailyLimit},
		{start: clock.StartOfMonth(now, loc), sub: sub.MonthlyLimit},
	}
	if access != nil {
		windows[0].user = access.DailyLimit
		windows[1].user = access.MonthlyLimit
	}

	for _, w := range windows {
		if w.user != nil {
			count, err := r.usage.CountUsage(ctx, userID, featureID, w.start)
			if err != nil {
				return fmt.Errorf("count usage: %w", err)
			}
			if count >= *w.user {
				return domain.ErrQuotaExceeded
			}
		}
		if w.sub != nil {
			count, err := r.usage.CountTenantUsage(ctx, tenantID, featureID, w.start)
			if err != nil {
				return fmt.Errorf("count tenant usage: %w", err)
			}
			if count >= *w.sub {
				return domain.ErrQuotaExceeded
			}
		}
	}
	return nil
}

func (r *Resolver) raiseDepleted(ctx context.Context, tenantID snowflake.ID, feature featuredomain.Feature, balance, required int64) {
	_, _, err := r.alerts.RaiseIfNeeded(ctx, alertdomain.RaiseRequest{
		TenantID: tenantID,
		Type:     alertdomain.AlertTypeCreditsDepleted,
		Severity: alertdomain.SeverityCritical,
		Message:  fmt.Sprintf("Insufficient credits for %s: %d available, %d required", feature.Code, balance, required),
		Details: map[string]any{
			"feature_id":       feature.ID.String(),
			"feature_code":     feature.Code,
			"balance":          balance,
			"credits_required": required,
		},
	})
	if err != nil {
		r.log.Warn("failed to raise credits depleted alert",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
	}
}

func (r *Resolver) gatewayConfig() config.GatewayConfig {
	if r.gateway == nil {
		return config.DefaultGatewayConfig()
	}
	return r.gateway.Get()
}
