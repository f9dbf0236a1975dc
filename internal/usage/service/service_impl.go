package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/featuregate/internal/alert/domain"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/config"
	ledgerdomain "github.com/smallbiznis/featuregate/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/featuregate/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/featuregate/internal/usage/domain"
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
	Repo          usagedomain.Repository
	Ledger        ledgerdomain.Service
	Alerts        alertdomain.Service
	Gateway       *config.GatewayConfigHolder
	ObsMetrics    *obsmetrics.Metrics       `optional:"true"`
	LedgerMetrics *obsmetrics.LedgerMetrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          usagedomain.Repository
	ledger        ledgerdomain.Service
	alerts        alertdomain.Service
	gateway       *config.GatewayConfigHolder
	obsMetrics    *obsmetrics.Metrics
	ledgerMetrics *obsmetrics.LedgerMetrics
}

func NewService(p Params) usagedomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("usage.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		ledger:        p.Ledger,
		alerts:        p.Alerts,
		gateway:       p.Gateway,
		obsMetrics:    p.ObsMetrics,
		ledgerMetrics: p.LedgerMetrics,
	}
}

func (s *Service) CountUsage(ctx context.Context, userID, featureID snowflake.ID, windowStart time.Time) (int64, error) {
	if userID == 0 {
		return 0, usagedomain.ErrInvalidUser
	}
	if featureID == 0 {
		return 0, usagedomain.ErrInvalidFeature
	}
	return s.repo.CountByUser(ctx, s.db, userID, featureID, windowStart)
}

func (s *Service) CountTenantUsage(ctx context.Context, tenantID, featureID snowflake.ID, windowStart time.Time) (int64, error) {
	if tenantID == 0 {
		return 0, usagedomain.ErrInvalidTenant
	}
	if featureID == 0 {
		return 0, usagedomain.ErrInvalidFeature
	}
	return s.repo.CountByTenant(ctx, s.db, tenantID, featureID, windowStart)
}

// History lists a user's invocations, newest first.
func (s *Service) History(ctx context.Context, req usagedomain.HistoryRequest) (usagedomain.HistoryResponse, error) {
	if req.TenantID == 0 {
		return usagedomain.HistoryResponse{}, usagedomain.ErrInvalidTenant
	}
	if req.UserID == 0 {
		return usagedomain.HistoryResponse{}, usagedomain.ErrInvalidUser
	}

	filter := usagedomain.HistoryFilter{
		TenantID: req.TenantID,
		UserID:   req.UserID,
		Limit:    req.Limit(),
	}
	if strings.TrimSpace(req.PageToken) != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return usagedomain.HistoryResponse{}, usagedomain.ErrInvalidPageToken
		}
		before, err := snowflake.ParseString(cursor.ID)
		if err != nil || before <= 0 {
			return usagedomain.HistoryResponse{}, usagedomain.ErrInvalidPageToken
		}
		filter.BeforeID = &before
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return usagedomain.HistoryResponse{}, err
	}
	items, hasMore := pagination.Trim(items, filter.Limit)

	resp := usagedomain.HistoryResponse{
		Entries: make([]usagedomain.LogResponse, 0, len(items)),
	}
	for i := range items {
		resp.Entries = append(resp.Entries, toLogResponse(&items[i]))
	}
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        last.ID.String(),
			CreatedAt: last.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return usagedomain.HistoryResponse{}, err
		}
		resp.PageInfo = pagination.PageInfo{NextPageToken: token, HasMore: true}
	}
	return resp, nil
}

func toLogResponse(l *usagedomain.UsageLog) usagedomain.LogResponse {
	return usagedomain.LogResponse{
		ID:           l.ID.String(),
		FeatureID:    l.FeatureID.String(),
		ProviderID:   l.ProviderID.String(),
		Input:        l.Input,
		Output:       l.Output,
		TokensIn:     l.TokensIn,
		TokensOut:    l.TokensOut,
		ProcessingMs: l.ProcessingMs,
		CreditsUsed:  l.CreditsUsed,
		Success:      l.Success,
		ErrorMessage: l.ErrorMessage,
		CreatedAt:    l.CreatedAt,
	}
}
