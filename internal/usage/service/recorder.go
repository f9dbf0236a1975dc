package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	alertdomain "github.com/smallbiznis/featuregate/internal/alert/domain"
	"github.com/smallbiznis/featuregate/internal/config"
	ledgerdomain "github.com/smallbiznis/featuregate/internal/ledger/domain"
	"github.com/smallbiznis/featuregate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/featuregate/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/featuregate/internal/usage/domain"
	"github.com/smallbiznis/featuregate/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RecordInvocation persists the outcome of a provider call. On success with a
// positive charge the log, the debit and any low-balance alert commit together.
// When the debit loses against a concurrent one the whole unit rolls back and a
// failed log is written in its place.
func (s *Service) RecordInvocation(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.RecordResult, error) {
	if req.TenantID == 0 {
		return nil, usagedomain.ErrInvalidTenant
	}
	if req.UserID == 0 {
		return nil, usagedomain.ErrInvalidUser
	}
	if req.FeatureID == 0 {
		return nil, usagedomain.ErrInvalidFeature
	}

	started := time.Now()
	charge := req.Success && req.CreditsRequired > 0

	var (
		result usagedomain.RecordResult
		alert  bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := db.WithTenant(tx, int64(req.TenantID)); err != nil {
			return err
		}

		entry := s.newLog(req)
		if charge {
			entry.CreditsUsed = req.CreditsRequired
		}
		if err := s.repo.Insert(ctx, tx, entry); err != nil {
			return err
		}
		result.UsageLogID = entry.ID
		result.Success = entry.Success
		result.CreditsUsed = entry.CreditsUsed

		if !charge {
			return nil
		}

		debit, err := s.ledger.DebitTx(ctx, tx, ledgerdomain.DebitRequest{
			TenantID:    req.TenantID,
			UserID:      req.UserID,
			FeatureID:   req.FeatureID,
			FeatureCode: req.FeatureCode,
			UsageLogID:  entry.ID,
			Amount:      req.CreditsRequired,
		})
		if err != nil {
			return err
		}
		result.CreditsRemaining = debit.Balance.Balance

		if debit.Balance.IsLow() {
			_, created, err := s.alerts.RaiseIfNeededTx(ctx, tx, alertdomain.RaiseRequest{
				TenantID: req.TenantID,
				Type:     alertdomain.AlertTypeLowBalance,
				Severity: alertdomain.SeverityWarning,
				Message:  fmt.Sprintf("Credit balance is low: %d credits remaining", debit.Balance.Balance),
				Details: map[string]any{
					"balance":   debit.Balance.Balance,
					"threshold": debit.Balance.LowBalanceThreshold,
				},
			})
			if err != nil {
				return err
			}
			alert = created
		}
		return nil
	})

	if errors.Is(err, ledgerdomain.ErrInsufficientCredits) {
		s.ledgerMetrics.ObserveUnitOfWork(obsmetrics.LedgerOperationRecord, time.Since(started), obsmetrics.LedgerOutcomeRejected, err)
		return s.recordLostDebit(ctx, req)
	}
	if err != nil {
		s.ledgerMetrics.ObserveUnitOfWork(obsmetrics.LedgerOperationRecord, time.Since(started), obsmetrics.LedgerOutcomeFailed, err)
		s.log.Error("failed to record invocation",
			zap.String("tenant_id", req.TenantID.String()),
			zap.String("feature_code", req.FeatureCode),
			zap.Error(err),
		)
		return nil, err
	}
	s.ledgerMetrics.ObserveUnitOfWork(obsmetrics.LedgerOperationRecord, time.Since(started), obsmetrics.LedgerOutcomeCommitted, nil)

	if !charge {
		balance, err := s.ledger.Balance(ctx, req.TenantID)
		if err != nil {
			return nil, err
		}
		result.CreditsRemaining = balance.Balance
	}

	if result.CreditsUsed > 0 {
		s.ledgerMetrics.AddCreditsDebited(result.CreditsUsed)
		s.obsMetrics.RecordCreditsDebited(ctx, req.FeatureCode, result.CreditsUsed)
	}
	result.LowBalanceAlert = alert

	s.log.Debug("invocation recorded",
		zap.String("usage_log_id", result.UsageLogID.String()),
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("feature_code", req.FeatureCode),
		zap.Bool("success", result.Success),
		zap.Int64("credits_used", result.CreditsUsed),
	)
	return &result, nil
}

// recordLostDebit writes the failed log that replaces a rolled back charge.
func (s *Service) recordLostDebit(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.RecordResult, error) {
	failed := req
	failed.Success = false
	failed.ErrorMessage = usagedomain.ErrDebitRaceLost

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := db.WithTenant(tx, int64(req.TenantID)); err != nil {
			return err
		}
		return s.repo.Insert(ctx, tx, s.newLog(failed))
	})
	if err != nil {
		s.log.Error("failed to record lost debit",
			zap.String("tenant_id", req.TenantID.String()),
			zap.String("feature_code", req.FeatureCode),
			zap.Error(err),
		)
		return nil, err
	}

	s.log.Warn("debit lost to concurrent usage",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("feature_code", req.FeatureCode),
		zap.Int64("credits_required", req.CreditsRequired),
	)
	return nil, ledgerdomain.ErrInsufficientCredits
}

func (s *Service) newLog(req usagedomain.RecordRequest) *usagedomain.UsageLog {
	cfg := s.gatewayConfig()
	entry := &usagedomain.UsageLog{
		ID:           s.genID.Generate(),
		TenantID:     req.TenantID,
		UserID:       req.UserID,
		FeatureID:    req.FeatureID,
		ProviderID:   req.ProviderID,
		Input:        optionalText(logger.Truncate(req.Input, cfg.LogInputChars)),
		TokensIn:     req.TokensIn,
		TokensOut:    req.TokensOut,
		ProcessingMs: req.ProcessingMs,
		Success:      req.Success,
		CreatedAt:    s.clock.Now(),
	}
	if req.Success {
		entry.Output = optionalText(logger.Truncate(req.Output, cfg.LogOutputChars))
	} else {
		entry.ErrorMessage = optionalText(req.ErrorMessage)
	}
	return entry
}

func (s *Service) gatewayConfig() config.GatewayConfig {
	if s.gateway == nil {
		return config.DefaultGatewayConfig()
	}
	return s.gateway.Get()
}

func optionalText(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
