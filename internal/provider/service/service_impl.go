package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/cache"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/config"
	"github.com/smallbiznis/featuregate/internal/observability/logger"
	"github.com/smallbiznis/featuregate/internal/provider/adapters"
	"github.com/smallbiznis/featuregate/internal/provider/domain"
	"github.com/smallbiznis/featuregate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Registry *adapters.Registry
	Catalog  cache.CatalogCache
	Gateway  *config.GatewayConfigHolder
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	registry *adapters.Registry
	catalog  cache.CatalogCache
	gateway  *config.GatewayConfigHolder
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("provider.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		registry: p.Registry,
		catalog:  p.Catalog,
		gateway:  p.Gateway,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Response, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	providerType := domain.ProviderType(strings.ToLower(strings.TrimSpace(string(req.Type))))
	if !validType(providerType) {
		return nil, domain.ErrInvalidType
	}

	status := domain.StatusTesting
	if req.Status != nil {
		if !validStatus(*req.Status) {
			return nil, domain.ErrInvalidStatus
		}
		status = *req.Status
	}

	endpoint := trimmedPtr(req.Endpoint)
	if err := validateEndpoint(providerType, endpoint); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	record := &domain.Provider{
		ID:             s.genID.Generate(),
		Name:           name,
		Type:           providerType,
		Endpoint:       endpoint,
		Credential:     trimmedPtr(req.Credential),
		DefaultModel:   trimmedPtr(req.DefaultModel),
		SupportsVision: req.SupportsVision,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Metadata != nil {
		record.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.repo.Create(ctx, s.db, record); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrNameTaken
		}
		return nil, err
	}

	resp := toResponse(record)
	return &resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Response, error) {
	item, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := toResponse(item)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Response, error) {
	items, err := s.repo.List(ctx, s.db, req)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateRequest) (*domain.Response, error) {
	item, err := s.find(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		item.Name = name
	}
	if req.Endpoint != nil {
		endpoint := trimmedPtr(req.Endpoint)
		if err := validateEndpoint(item.Type, endpoint); err != nil {
			return nil, err
		}
		item.Endpoint = endpoint
	}
	if req.Credential != nil {
		item.Credential = trimmedPtr(req.Credential)
	}
	if req.DefaultModel != nil {
		item.DefaultModel = trimmedPtr(req.DefaultModel)
	}
	if req.SupportsVision != nil {
		item.SupportsVision = *req.SupportsVision
	}
	if req.Status != nil {
		if !validStatus(*req.Status) {
			return nil, domain.ErrInvalidStatus
		}
		item.Status = *req.Status
	}
	if req.Metadata != nil {
		item.Metadata = datatypes.JSONMap(req.Metadata)
	}

	item.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, item); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrNameTaken
		}
		return nil, err
	}
	s.catalog.InvalidateAll()

	resp := toResponse(item)
	return &resp, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	item, err := s.find(ctx, id)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		refs, err := s.repo.CountFeatureReferences(ctx, tx, item.ID)
		if err != nil {
			return err
		}
		if refs > 0 {
			return domain.ErrProviderInUse
		}
		return s.repo.Delete(ctx, tx, item.ID)
	})
	if err != nil {
		return err
	}
	s.catalog.InvalidateAll()
	return nil
}

// TestConnection probes the provider and records its health unless an operator disabled it.
func (s *Service) TestConnection(ctx context.Context, id string) (*domain.ProbeResponse, error) {
	item, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout())
	defer cancel()
	result := s.registry.Probe(probeCtx, *item)

	status := item.Status
	if status != domain.StatusInactive {
		status = domain.StatusError
		if result.Success {
			status = domain.StatusActive
		}
		if err := s.repo.UpdateHealth(ctx, s.db, item.ID, status, s.clock.Now()); err != nil {
			return nil, err
		}
		if status != item.Status {
			s.catalog.InvalidateAll()
			s.log.Info("provider status changed",
				zap.String("provider_id", item.ID.String()),
				zap.String("from", string(item.Status)),
				zap.String("to", string(status)),
			)
		}
	}

	return &domain.ProbeResponse{
		Success:   result.Success,
		Message:   result.Message,
		LatencyMs: result.LatencyMs,
		Status:    status,
	}, nil
}

func (s *Service) Lookup(ctx context.Context, id snowflake.ID) (*domain.Provider, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return item, nil
}

func (s *Service) probeTimeout() time.Duration {
	if s.gateway != nil {
		if timeout := s.gateway.Get().ProbeTimeout; timeout > 0 {
			return timeout
		}
	}
	return config.DefaultGatewayConfig().ProbeTimeout
}

func (s *Service) find(ctx context.Context, id string) (*domain.Provider, error) {
	providerID, err := parseID(id)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	return s.Lookup(ctx, providerID)
}

func toResponse(p *domain.Provider) domain.Response {
	resp := domain.Response{
		ID:             p.ID.String(),
		Name:           p.Name,
		Type:           p.Type,
		Endpoint:       p.Endpoint,
		DefaultModel:   p.DefaultModel,
		SupportsVision: p.SupportsVision,
		Status:         p.Status,
		LastCheckedAt:  p.LastCheckedAt,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if credential := p.CredentialValue(); credential != "" {
		masked := logger.MaskCredential(credential)
		resp.Credential = &masked
	}
	if len(p.Metadata) > 0 {
		resp.Metadata = logger.MaskJSON(map[string]any(p.Metadata))
	}
	return resp
}

func validateEndpoint(providerType domain.ProviderType, endpoint *string) error {
	if endpoint == nil {
		if providerType == domain.ProviderTypeCustom {
			return domain.ErrInvalidEndpoint
		}
		return nil
	}
	parsed, err := url.Parse(*endpoint)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return domain.ErrInvalidEndpoint
	}
	return nil
}

func validType(value domain.ProviderType) bool {
	switch value {
	case domain.ProviderTypeChatCompletion,
		domain.ProviderTypeMessages,
		domain.ProviderTypeGenerateContent,
		domain.ProviderTypeCustom:
		return true
	}
	return false
}

func validStatus(value domain.Status) bool {
	switch value {
	case domain.StatusActive, domain.StatusInactive, domain.StatusTesting, domain.StatusError:
		return true
	}
	return false
}

func parseID(value string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed == 0 {
		return 0, errors.New("invalid_id")
	}
	return parsed, nil
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
