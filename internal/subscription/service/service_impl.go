package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/clock"
	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	"github.com/smallbiznis/featuregate/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	FeatureRepo featuredomain.Repository
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	featureRepo featuredomain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("subscription.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		featureRepo: p.FeatureRepo,
	}
}

// Assign creates or replaces the tenant's subscription to a published feature.
func (s *Service) Assign(ctx context.Context, req domain.AssignRequest) (*domain.Response, error) {
	tenantID, ok := parseID(req.TenantID)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	featureID, ok := parseID(req.FeatureID)
	if !ok {
		return nil, domain.ErrInvalidFeature
	}
	if req.CreditsPerUse != nil && *req.CreditsPerUse < 0 {
		return nil, domain.ErrInvalidCreditsPerUse
	}
	if err := validateLimits(req.DailyLimit, req.MonthlyLimit); err != nil {
		return nil, err
	}

	feature, err := s.featureRepo.FindByID(ctx, s.db, featureID)
	if err != nil {
		return nil, err
	}
	if feature == nil {
		return nil, domain.ErrFeatureNotFound
	}
	if feature.Status != featuredomain.StatusPublished {
		return nil, domain.ErrFeatureNotPublished
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := s.clock.Now()
	record := &domain.Subscription{
		ID:            s.genID.Generate(),
		TenantID:      tenantID,
		FeatureID:     featureID,
		Enabled:       enabled,
		CreditsPerUse: req.CreditsPerUse,
		DailyLimit:    req.DailyLimit,
		MonthlyLimit:  req.MonthlyLimit,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.ExpiresAt != nil {
		expiresAt := req.ExpiresAt.UTC()
		record.ExpiresAt = &expiresAt
	}

	var stored *domain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Upsert(ctx, tx, record); err != nil {
			return err
		}
		stored, err = s.repo.Find(ctx, tx, tenantID, featureID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, domain.ErrNotFound
	}

	s.log.Info("subscription assigned",
		zap.String("tenant_id", tenantID.String()),
		zap.String("feature_code", feature.Code),
		zap.Bool("enabled", stored.Enabled),
	)

	resp := toResponse(stored)
	return &resp, nil
}

func (s *Service) Unassign(ctx context.Context, tenantID, featureID string) error {
	tid, ok := parseID(tenantID)
	if !ok {
		return domain.ErrInvalidTenant
	}
	fid, ok := parseID(featureID)
	if !ok {
		return domain.ErrInvalidFeature
	}

	deleted, err := s.repo.Delete(ctx, s.db, tid, fid)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) ListForTenant(ctx context.Context, tenantID string) ([]domain.Response, error) {
	tid, ok := parseID(tenantID)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}

	items, err := s.repo.ListByTenant(ctx, s.db, tid)
	if err != nil {
		return nil, err
	}
	resp := make([]domain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) SetUserAccess(ctx context.Context, req domain.UserAccessRequest) (*domain.UserAccessResponse, error) {
	tenantID, ok := parseID(req.TenantID)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	userID, ok := parseID(req.UserID)
	if !ok {
		return nil, domain.ErrInvalidUser
	}
	featureID, ok := parseID(req.FeatureID)
	if !ok {
		return nil, domain.ErrInvalidFeature
	}
	if err := validateLimits(req.DailyLimit, req.MonthlyLimit); err != nil {
		return nil, err
	}

	feature, err := s.featureRepo.FindByID(ctx, s.db, featureID)
	if err != nil {
		return nil, err
	}
	if feature == nil {
		return nil, domain.ErrFeatureNotFound
	}

	now := s.clock.Now()
	record := &domain.UserAccess{
		ID:           s.genID.Generate(),
		TenantID:     tenantID,
		UserID:       userID,
		FeatureID:    featureID,
		Enabled:      req.Enabled,
		DailyLimit:   req.DailyLimit,
		MonthlyLimit: req.MonthlyLimit,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var stored *domain.UserAccess
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.UpsertUserAccess(ctx, tx, record); err != nil {
			return err
		}
		stored, err = s.repo.FindUserAccess(ctx, tx, tenantID, userID, featureID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, domain.ErrNotFound
	}

	resp := toUserAccessResponse(stored)
	return &resp, nil
}

func (s *Service) RemoveUserAccess(ctx context.Context, tenantID, userID, featureID string) error {
	tid, ok := parseID(tenantID)
	if !ok {
		return domain.ErrInvalidTenant
	}
	uid, ok := parseID(userID)
	if !ok {
		return domain.ErrInvalidUser
	}
	fid, ok := parseID(featureID)
	if !ok {
		return domain.ErrInvalidFeature
	}

	deleted, err := s.repo.DeleteUserAccess(ctx, s.db, tid, uid, fid)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) ListUserAccess(ctx context.Context, tenantID, userID string) ([]domain.UserAccessResponse, error) {
	tid, ok := parseID(tenantID)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	uid, ok := parseID(userID)
	if !ok {
		return nil, domain.ErrInvalidUser
	}

	items, err := s.repo.ListUserAccess(ctx, s.db, tid, uid)
	if err != nil {
		return nil, err
	}
	resp := make([]domain.UserAccessResponse, 0, len(items))
	for i := range items {
		resp = append(resp, toUserAccessResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Find(ctx context.Context, tenantID, featureID snowflake.ID) (*domain.Subscription, error) {
	return s.repo.Find(ctx, s.db, tenantID, featureID)
}

func (s *Service) FindUserAccess(ctx context.Context, tenantID, userID, featureID snowflake.ID) (*domain.UserAccess, error) {
	return s.repo.FindUserAccess(ctx, s.db, tenantID, userID, featureID)
}

func (s *Service) ListByTenant(ctx context.Context, tenantID snowflake.ID) ([]domain.Subscription, error) {
	return s.repo.ListByTenant(ctx, s.db, tenantID)
}

func validateLimits(daily, monthly *int64) error {
	if daily != nil && *daily < 0 {
		return domain.ErrInvalidLimit
	}
	if monthly != nil && *monthly < 0 {
		return domain.ErrInvalidLimit
	}
	return nil
}

func toResponse(sub *domain.Subscription) domain.Response {
	return domain.Response{
		ID:            sub.ID.String(),
		TenantID:      sub.TenantID.String(),
		FeatureID:     sub.FeatureID.String(),
		Enabled:       sub.Enabled,
		ExpiresAt:     sub.ExpiresAt,
		CreditsPerUse: sub.CreditsPerUse,
		DailyLimit:    sub.DailyLimit,
		MonthlyLimit:  sub.MonthlyLimit,
		CreatedAt:     sub.CreatedAt,
		UpdatedAt:     sub.UpdatedAt,
	}
}

func toUserAccessResponse(access *domain.UserAccess) domain.UserAccessResponse {
	return domain.UserAccessResponse{
		ID:           access.ID.String(),
		TenantID:     access.TenantID.String(),
		UserID:       access.UserID.String(),
		FeatureID:    access.FeatureID.String(),
		Enabled:      access.Enabled,
		DailyLimit:   access.DailyLimit,
		MonthlyLimit: access.MonthlyLimit,
		CreatedAt:    access.CreatedAt,
		UpdatedAt:    access.UpdatedAt,
	}
}

func parseID(value string) (snowflake.ID, bool) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return 0, false
	}
	return parsed, true
}
