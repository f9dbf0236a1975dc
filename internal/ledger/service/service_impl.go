package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/config"
	"github.com/smallbiznis/featuregate/internal/events"
	ledgerdomain "github.com/smallbiznis/featuregate/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/featuregate/internal/observability/metrics"
	"github.com/smallbiznis/featuregate/pkg/db"
	"github.com/smallbiznis/featuregate/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          ledgerdomain.Repository
	Gateway       *config.GatewayConfigHolder
	Outbox        *events.Outbox            `optional:"true"`
	LedgerMetrics *obsmetrics.LedgerMetrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          ledgerdomain.Repository
	gateway       *config.GatewayConfigHolder
	outbox        *events.Outbox
	ledgerMetrics *obsmetrics.LedgerMetrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("ledger.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		gateway:       p.Gateway,
		outbox:        p.Outbox,
		ledgerMetrics: p.LedgerMetrics,
	}
}

func (s *Service) GetBalance(ctx context.Context, tenantID string) (*ledgerdomain.BalanceResponse, error) {
	tid, ok := parseID(tenantID)
	if !ok {
		return nil, ledgerdomain.ErrInvalidTenant
	}
	balance, err := s.Balance(ctx, tid)
	if err != nil {
		return nil, err
	}
	resp := toBalanceResponse(balance)
	return &resp, nil
}

func (s *Service) Balance(ctx context.Context, tenantID snowflake.ID) (*ledgerdomain.CreditBalance, error) {
	balance, err := s.repo.FindBalance(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return &ledgerdomain.CreditBalance{
			TenantID:            tenantID,
			LowBalanceThreshold: s.defaultThreshold(),
		}, nil
	}
	return balance, nil
}

// Grant tops up a tenant balance, creating the balance row on first use.
func (s *Service) Grant(ctx context.Context, req ledgerdomain.GrantRequest) (*ledgerdomain.TransactionResponse, error) {
	tenantID, ok := parseID(req.TenantID)
	if !ok {
		return nil, ledgerdomain.ErrInvalidTenant
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	txnType := ledgerdomain.TransactionType(strings.ToLower(strings.TrimSpace(string(req.Type))))
	if txnType == "" {
		txnType = ledgerdomain.TransactionTypePurchase
	}
	if txnType != ledgerdomain.TransactionTypePurchase && txnType != ledgerdomain.TransactionTypePromotional {
		return nil, ledgerdomain.ErrInvalidTransactionType
	}

	started := time.Now()
	var txn *ledgerdomain.CreditTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := db.WithTenant(tx, int64(tenantID)); err != nil {
			return err
		}

		now := s.clock.Now()
		if err := s.ensureBalance(ctx, tx, tenantID, now); err != nil {
			return err
		}
		if _, err := s.repo.Credit(ctx, tx, tenantID, req.Amount, now); err != nil {
			return err
		}
		balance, err := s.repo.FindBalance(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if balance == nil {
			return errors.New("credit_balance_missing")
		}

		txn = &ledgerdomain.CreditTransaction{
			ID:           s.genID.Generate(),
			TenantID:     tenantID,
			Amount:       req.Amount,
			BalanceAfter: balance.Balance,
			Type:         txnType,
			Description:  trimmedPtr(req.Description),
			CreatedAt:    now,
		}
		if err := s.repo.InsertTransaction(ctx, tx, txn); err != nil {
			return err
		}

		if s.outbox != nil {
			payload := events.CreditsGrantedPayload{
				TransactionID:   txn.ID.String(),
				TransactionType: string(txnType),
				Amount:          txn.Amount,
				BalanceAfter:    txn.BalanceAfter,
			}
			if err := s.outbox.PublishTx(ctx, tx, events.Event{
				TenantID:  tenantID,
				Type:      events.EventCreditsGranted,
				Payload:   payload.ToMap(),
				DedupeKey: "credits_granted:" + txn.ID.String(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	s.observe(obsmetrics.LedgerOperationGrant, started, err)
	if err != nil {
		return nil, err
	}

	s.log.Info("credits granted",
		zap.String("tenant_id", tenantID.String()),
		zap.String("transaction_type", string(txnType)),
		zap.Int64("amount", txn.Amount),
		zap.Int64("balance_after", txn.BalanceAfter),
	)

	resp := toTransactionResponse(txn)
	return &resp, nil
}

func (s *Service) SetThreshold(ctx context.Context, tenantID string, threshold int64) (*ledgerdomain.BalanceResponse, error) {
	tid, ok := parseID(tenantID)
	if !ok {
		return nil, ledgerdomain.ErrInvalidTenant
	}
	if threshold < 0 {
		return nil, ledgerdomain.ErrInvalidThreshold
	}

	started := time.Now()
	var balance *ledgerdomain.CreditBalance
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := db.WithTenant(tx, int64(tid)); err != nil {
			return err
		}
		now := s.clock.Now()
		if err := s.ensureBalance(ctx, tx, tid, now); err != nil {
			return err
		}
		if _, err := s.repo.UpdateThreshold(ctx, tx, tid, threshold, now); err != nil {
			return err
		}
		var err error
		balance, err = s.repo.FindBalance(ctx, tx, tid)
		return err
	})
	s.observe(obsmetrics.LedgerOperationAdjust, started, err)
	if err != nil {
		return nil, err
	}

	resp := toBalanceResponse(balance)
	return &resp, nil
}

func (s *Service) ListTransactions(ctx context.Context, req ledgerdomain.ListTransactionsRequest) (ledgerdomain.ListTransactionsResponse, error) {
	tid, ok := parseID(req.TenantID)
	if !ok {
		return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidTenant
	}

	filter := ledgerdomain.TransactionFilter{
		TenantID: tid,
		Type:     req.Type,
		Limit:    req.Limit(),
	}
	if strings.TrimSpace(req.PageToken) != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		before, ok := parseID(cursor.ID)
		if !ok {
			return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		filter.BeforeID = &before
	}

	items, err := s.repo.ListTransactions(ctx, s.db, filter)
	if err != nil {
		return ledgerdomain.ListTransactionsResponse{}, err
	}
	items, hasMore := pagination.Trim(items, filter.Limit)

	resp := ledgerdomain.ListTransactionsResponse{
		Transactions: make([]ledgerdomain.TransactionResponse, 0, len(items)),
	}
	for i := range items {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(&items[i]))
	}
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        last.ID.String(),
			CreatedAt: last.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ledgerdomain.ListTransactionsResponse{}, err
		}
		resp.PageInfo = pagination.PageInfo{NextPageToken: token, HasMore: true}
	}
	return resp, nil
}

// DebitTx runs the conditional decrement inside tx. A debit that loses the race
// against a concurrent one returns ErrInsufficientCredits and leaves tx for the
// caller to roll back.
func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.DebitRequest) (*ledgerdomain.DebitResult, error) {
	if tx == nil {
		return nil, errors.New("missing_transaction")
	}
	if req.TenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	affected, err := s.repo.Debit(ctx, tx, req.TenantID, req.Amount, now)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ledgerdomain.ErrInsufficientCredits
	}

	balance, err := s.repo.FindBalance(ctx, tx, req.TenantID)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, ledgerdomain.ErrInsufficientCredits
	}

	featureID := req.FeatureID
	usageLogID := req.UsageLogID
	description := "usage"
	if code := strings.TrimSpace(req.FeatureCode); code != "" {
		description = "usage: " + code
	}
	txn := &ledgerdomain.CreditTransaction{
		ID:           s.genID.Generate(),
		TenantID:     req.TenantID,
		Amount:       -req.Amount,
		BalanceAfter: balance.Balance,
		Type:         ledgerdomain.TransactionTypeUsage,
		Description:  &description,
		FeatureID:    &featureID,
		UsageLogID:   &usageLogID,
		CreatedAt:    now,
	}
	if err := s.repo.InsertTransaction(ctx, tx, txn); err != nil {
		return nil, err
	}

	if s.outbox != nil {
		payload := events.CreditsDebitedPayload{
			TransactionID: txn.ID.String(),
			UsageLogID:    usageLogID.String(),
			FeatureID:     featureID.String(),
			UserID:        req.UserID.String(),
			Amount:        req.Amount,
			BalanceAfter:  balance.Balance,
		}
		if err := s.outbox.PublishTx(ctx, tx, events.Event{
			TenantID:  req.TenantID,
			Type:      events.EventCreditsDebited,
			Payload:   payload.ToMap(),
			DedupeKey: "credits_debited:" + usageLogID.String(),
		}); err != nil {
			return nil, err
		}
	}

	return &ledgerdomain.DebitResult{TransactionID: txn.ID, Balance: *balance}, nil
}

func (s *Service) ensureBalance(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, now time.Time) error {
	return s.repo.EnsureBalance(ctx, tx, &ledgerdomain.CreditBalance{
		TenantID:            tenantID,
		LowBalanceThreshold: s.defaultThreshold(),
		CreatedAt:           now,
		UpdatedAt:           now,
	})
}

func (s *Service) defaultThreshold() int64 {
	if s.gateway == nil {
		return config.DefaultGatewayConfig().DefaultLowBalanceThreshold
	}
	return s.gateway.Get().DefaultLowBalanceThreshold
}

func (s *Service) observe(operation string, started time.Time, err error) {
	outcome := obsmetrics.LedgerOutcomeCommitted
	if err != nil {
		outcome = obsmetrics.LedgerOutcomeFailed
	}
	s.ledgerMetrics.ObserveUnitOfWork(operation, time.Since(started), outcome, err)
}

func toBalanceResponse(b *ledgerdomain.CreditBalance) ledgerdomain.BalanceResponse {
	return ledgerdomain.BalanceResponse{
		TenantID:            b.TenantID.String(),
		Balance:             b.Balance,
		TotalPurchased:      b.TotalPurchased,
		TotalUsed:           b.TotalUsed,
		LowBalanceThreshold: b.LowBalanceThreshold,
		LastUsedAt:          b.LastUsedAt,
	}
}

func toTransactionResponse(t *ledgerdomain.CreditTransaction) ledgerdomain.TransactionResponse {
	resp := ledgerdomain.TransactionResponse{
		ID:           t.ID.String(),
		TenantID:     t.TenantID.String(),
		Amount:       t.Amount,
		BalanceAfter: t.BalanceAfter,
		Type:         t.Type,
		Description:  t.Description,
		CreatedAt:    t.CreatedAt,
	}
	if t.FeatureID != nil {
		id := t.FeatureID.String()
		resp.FeatureID = &id
	}
	if t.UsageLogID != nil {
		id := t.UsageLogID.String()
		resp.UsageLogID = &id
	}
	return resp
}

func parseID(value string) (snowflake.ID, bool) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return 0, false
	}
	return parsed, true
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
