package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/config"
	entitlementdomain "github.com/smallbiznis/featuregate/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	"github.com/smallbiznis/featuregate/internal/gateway/domain"
	ledgerdomain "github.com/smallbiznis/featuregate/internal/ledger/domain"
	"github.com/smallbiznis/featuregate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/featuregate/internal/observability/metrics"
	"github.com/smallbiznis/featuregate/internal/provider/adapters"
	providerdomain "github.com/smallbiznis/featuregate/internal/provider/domain"
	subscriptiondomain "github.com/smallbiznis/featuregate/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/featuregate/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const genericProviderMessage = "the AI provider could not complete the request"

const (
	outcomeSuccess       = "success"
	outcomeProviderError = "provider_error"
	outcomeTransport     = "transport_error"
	outcomeLostDebit     = "insufficient_credits"
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Clock         clock.Clock
	Resolver      entitlementdomain.Resolver
	Registry      *adapters.Registry
	Usage         usagedomain.Service
	Ledger        ledgerdomain.Service
	Features      featuredomain.Service
	Providers     providerdomain.Service
	Subscriptions subscriptiondomain.Service
	Gateway       *config.GatewayConfigHolder
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log           *zap.Logger
	clock         clock.Clock
	resolver      entitlementdomain.Resolver
	registry      *adapters.Registry
	usage         usagedomain.Service
	ledger        ledgerdomain.Service
	features      featuredomain.Service
	providers     providerdomain.Service
	subscriptions subscriptiondomain.Service
	gateway       *config.GatewayConfigHolder
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		log:           p.Log.Named("gateway.service"),
		clock:         p.Clock,
		resolver:      p.Resolver,
		registry:      p.Registry,
		usage:         p.Usage,
		ledger:        p.Ledger,
		features:      p.Features,
		providers:     p.Providers,
		subscriptions: p.Subscriptions,
		gateway:       p.Gateway,
		obsMetrics:    p.ObsMetrics,
	}
}

// Invoke checks entitlement, calls the provider and records the attempt.
// Denials return before anything is recorded.
func (s *Service) Invoke(ctx context.Context, req domain.InvokeRequest) (*domain.InvokeResponse, error) {
	cfg := s.gatewayConfig()
	if err := validateInvoke(req, cfg); err != nil {
		return nil, err
	}

	decision, err := s.resolver.Resolve(ctx, req.TenantID, req.UserID, req.FeatureCode)
	if err != nil {
		return nil, err
	}

	// The provider call and the bookkeeping outlive the caller: an abandoned
	// request is still recorded and charged.
	detached := context.WithoutCancel(ctx)
	callCtx, cancel := context.WithTimeout(detached, cfg.ProviderTimeout)
	started := time.Now()
	result, execErr := s.registry.Execute(callCtx, adapters.ExecuteRequest{
		Feature:  decision.Feature,
		Provider: decision.Provider,
		Input:    req.Input,
		File:     req.File,
		Options:  req.Options,
	})
	cancel()
	elapsed := time.Since(started)

	record := usagedomain.RecordRequest{
		TenantID:        req.TenantID,
		UserID:          req.UserID,
		FeatureID:       decision.Feature.ID,
		FeatureCode:     decision.Feature.Code,
		ProviderID:      decision.Provider.ID,
		Input:           req.Input,
		ProcessingMs:    elapsed.Milliseconds(),
		CreditsRequired: decision.CreditsRequired,
		Success:         execErr == nil,
	}
	if execErr != nil {
		record.ErrorMessage = adapters.Message(execErr)
	} else {
		record.Output = result.Output
		record.TokensIn = result.TokensIn
		record.TokensOut = result.TokensOut
	}

	recorded, recordErr := s.usage.RecordInvocation(detached, record)
	providerType := string(decision.Provider.Type)

	if execErr != nil {
		outcome := outcomeProviderError
		if errors.Is(execErr, adapters.ErrTransport) {
			outcome = outcomeTransport
		}
		s.obsMetrics.RecordInvocation(ctx, decision.Feature.Code, providerType, outcome, elapsed)
		s.log.Warn("provider call failed",
			zap.String("tenant_id", req.TenantID.String()),
			zap.String("feature_code", decision.Feature.Code),
			zap.String("provider_id", decision.Provider.ID.String()),
			zap.Duration("elapsed", elapsed),
			zap.Error(execErr),
		)
		if recordErr != nil {
			s.log.Error("failed to record provider failure", zap.Error(recordErr))
		}
		return nil, &domain.ProviderError{Message: s.providerMessage(execErr, cfg), Err: execErr}
	}

	if recordErr != nil {
		if errors.Is(recordErr, ledgerdomain.ErrInsufficientCredits) {
			s.obsMetrics.RecordInvocation(ctx, decision.Feature.Code, providerType, outcomeLostDebit, elapsed)
		}
		return nil, recordErr
	}
	s.obsMetrics.RecordInvocation(ctx, decision.Feature.Code, providerType, outcomeSuccess, elapsed)

	return &domain.InvokeResponse{
		UsageLogID: recorded.UsageLogID.String(),
		Output:     result.Output,
		TokensUsed: domain.TokensUsed{
			Input:  result.TokensIn,
			Output: result.TokensOut,
		},
		ProcessingTimeMs: elapsed.Milliseconds(),
		CreditsUsed:      recorded.CreditsUsed,
		CreditsRemaining: recorded.CreditsRemaining,
	}, nil
}

// ListAvailableFeatures returns what the tenant can invoke right now, ignoring quotas.
func (s *Service) ListAvailableFeatures(ctx context.Context, tenantID snowflake.ID) (*domain.AvailableFeaturesResponse, error) {
	if tenantID == 0 {
		return nil, domain.ErrInvalidTenant
	}

	subs, err := s.subscriptions.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	resp := &domain.AvailableFeaturesResponse{Features: make([]domain.AvailableFeature, 0, len(subs))}
	for i := range subs {
		sub := &subs[i]
		if !sub.Enabled || sub.IsExpired(now) {
			continue
		}
		feature, err := s.features.Lookup(ctx, sub.FeatureID)
		if errors.Is(err, featuredomain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !feature.IsInvokable() {
			continue
		}
		provider, err := s.providers.Lookup(ctx, feature.ProviderID)
		if errors.Is(err, providerdomain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !provider.IsActive() {
			continue
		}

		resp.Features = append(resp.Features, domain.AvailableFeature{
			ID:             feature.ID.String(),
			Code:           feature.Code,
			Name:           feature.Name,
			Description:    feature.Description,
			Category:       feature.Category,
			Tags:           []string(feature.Tags),
			CreditsPerUse:  entitlementdomain.EffectiveCredits(sub, *feature),
			DailyLimit:     sub.DailyLimit,
			MonthlyLimit:   sub.MonthlyLimit,
			ExpiresAt:      sub.ExpiresAt,
			SupportsVision: provider.SupportsVision,
		})
	}

	balance, err := s.ledger.Balance(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	resp.Balance = balance.Balance
	return resp, nil
}

func (s *Service) UsageHistory(ctx context.Context, req domain.UsageHistoryRequest) (usagedomain.HistoryResponse, error) {
	return s.usage.History(ctx, usagedomain.HistoryRequest{
		Pagination: req.Pagination,
		TenantID:   req.TenantID,
		UserID:     req.UserID,
	})
}

func (s *Service) providerMessage(err error, cfg config.GatewayConfig) string {
	if !cfg.PassthroughProviderErrors {
		return genericProviderMessage
	}
	message := strings.TrimSpace(adapters.Message(err))
	if message == "" {
		return genericProviderMessage
	}
	return logger.Truncate(message, cfg.ProviderErrorMaxChars)
}

func (s *Service) gatewayConfig() config.GatewayConfig {
	if s.gateway == nil {
		return config.DefaultGatewayConfig()
	}
	return s.gateway.Get()
}

func validateInvoke(req domain.InvokeRequest, cfg config.GatewayConfig) error {
	if req.TenantID == 0 {
		return domain.ErrInvalidTenant
	}
	if req.UserID == 0 {
		return domain.ErrInvalidUser
	}
	if strings.TrimSpace(req.Input) == "" {
		return domain.ErrInputRequired
	}
	if cfg.MaxInputBytes > 0 && len(req.Input) > cfg.MaxInputBytes {
		return domain.ErrInputTooLarge
	}
	if strings.TrimSpace(req.File) == "" {
		return nil
	}
	image, ok := adapters.ParseImage(req.File)
	if !ok {
		return domain.ErrInvalidFile
	}
	if cfg.MaxFileBytes > 0 && image.Size > cfg.MaxFileBytes {
		return domain.ErrFileTooLarge
	}
	return nil
}
