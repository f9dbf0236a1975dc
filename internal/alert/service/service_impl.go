package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/alert/domain"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/events"
	obsmetrics "github.com/smallbiznis/featuregate/internal/observability/metrics"
	"github.com/smallbiznis/featuregate/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Outbox     *events.Outbox      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	outbox     *events.Outbox
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("alert.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) RaiseIfNeeded(ctx context.Context, req domain.RaiseRequest) (*domain.Alert, bool, error) {
	var (
		alert   *domain.Alert
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		alert, created, err = s.RaiseIfNeededTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return alert, created, nil
}

// RaiseIfNeededTx inserts the alert inside tx. LowBalance alerts are skipped while
// an unresolved one exists for the tenant; the partial unique index backs the check.
func (s *Service) RaiseIfNeededTx(ctx context.Context, tx *gorm.DB, req domain.RaiseRequest) (*domain.Alert, bool, error) {
	if err := validateRaise(req); err != nil {
		return nil, false, err
	}

	record := &domain.Alert{
		ID:        s.genID.Generate(),
		TenantID:  req.TenantID,
		Type:      req.Type,
		Severity:  req.Severity,
		Message:   strings.TrimSpace(req.Message),
		CreatedAt: s.clock.Now(),
	}
	if len(req.Details) > 0 {
		record.Details = datatypes.JSONMap(req.Details)
	}

	if req.Type.Deduplicated() {
		existing, err := s.repo.FindOpen(ctx, tx, req.TenantID, req.Type)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
		inserted, err := s.repo.InsertIfNoneOpen(ctx, tx, record)
		if err != nil {
			return nil, false, err
		}
		if !inserted {
			existing, err := s.repo.FindOpen(ctx, tx, req.TenantID, req.Type)
			return existing, false, err
		}
	} else if err := s.repo.Insert(ctx, tx, record); err != nil {
		return nil, false, err
	}

	if s.outbox != nil {
		payload := events.AlertRaisedPayload{
			AlertID:   record.ID.String(),
			AlertType: string(record.Type),
			Severity:  string(record.Severity),
		}
		if err := s.outbox.PublishTx(ctx, tx, events.Event{
			TenantID:  record.TenantID,
			Type:      events.EventAlertRaised,
			Payload:   payload.ToMap(),
			DedupeKey: "alert_raised:" + record.ID.String(),
		}); err != nil {
			return nil, false, err
		}
	}

	s.obsMetrics.RecordAlertRaised(ctx, string(record.Type))
	s.log.Info("admin alert raised",
		zap.String("tenant_id", record.TenantID.String()),
		zap.String("alert_type", string(record.Type)),
		zap.String("severity", string(record.Severity)),
	)
	return record, true, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	filter := domain.ListFilter{
		Type:     req.Type,
		Resolved: req.Resolved,
		Limit:    req.Limit(),
	}
	if strings.TrimSpace(req.TenantID) != "" {
		tenantID, ok := parseID(req.TenantID)
		if !ok {
			return domain.ListResponse{}, domain.ErrInvalidTenant
		}
		filter.TenantID = &tenantID
	}
	if filter.Type != nil && !validType(*filter.Type) {
		return domain.ListResponse{}, domain.ErrInvalidType
	}
	if strings.TrimSpace(req.PageToken) != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		before, ok := parseID(cursor.ID)
		if !ok {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		filter.BeforeID = &before
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}
	items, hasMore := pagination.Trim(items, filter.Limit)

	resp := domain.ListResponse{Alerts: make([]domain.Response, 0, len(items))}
	for i := range items {
		resp.Alerts = append(resp.Alerts, toResponse(&items[i]))
	}
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        last.ID.String(),
			CreatedAt: last.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return domain.ListResponse{}, err
		}
		resp.PageInfo = pagination.PageInfo{NextPageToken: token, HasMore: true}
	}
	return resp, nil
}

func (s *Service) Resolve(ctx context.Context, id string, actor string) (*domain.Response, error) {
	alertID, ok := parseID(id)
	if !ok {
		return nil, domain.ErrInvalidID
	}

	var resolved *domain.Alert
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		alert, err := s.repo.FindByID(ctx, tx, alertID)
		if err != nil {
			return err
		}
		if alert == nil {
			return domain.ErrNotFound
		}
		if alert.Resolved {
			return domain.ErrAlreadyResolved
		}

		var resolvedBy *string
		if trimmed := strings.TrimSpace(actor); trimmed != "" {
			resolvedBy = &trimmed
		}
		affected, err := s.repo.Resolve(ctx, tx, alertID, resolvedBy, s.clock.Now())
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrAlreadyResolved
		}
		resolved, err = s.repo.FindByID(ctx, tx, alertID)
		return err
	})
	if err != nil {
		return nil, err
	}

	resp := toResponse(resolved)
	return &resp, nil
}

func validateRaise(req domain.RaiseRequest) error {
	if req.TenantID == 0 {
		return domain.ErrInvalidTenant
	}
	if !validType(req.Type) {
		return domain.ErrInvalidType
	}
	switch req.Severity {
	case domain.SeverityInfo, domain.SeverityWarning, domain.SeverityCritical:
	default:
		return domain.ErrInvalidSeverity
	}
	if strings.TrimSpace(req.Message) == "" {
		return domain.ErrInvalidMessage
	}
	return nil
}

func validType(value domain.AlertType) bool {
	return value == domain.AlertTypeLowBalance || value == domain.AlertTypeCreditsDepleted
}

func toResponse(a *domain.Alert) domain.Response {
	resp := domain.Response{
		ID:         a.ID.String(),
		TenantID:   a.TenantID.String(),
		Type:       a.Type,
		Severity:   a.Severity,
		Message:    a.Message,
		Resolved:   a.Resolved,
		ResolvedAt: a.ResolvedAt,
		ResolvedBy: a.ResolvedBy,
		CreatedAt:  a.CreatedAt,
	}
	if len(a.Details) > 0 {
		resp.Details = map[string]any(a.Details)
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
