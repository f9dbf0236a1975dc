package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/lib/pq"
	"github.com/smallbiznis/featuregate/internal/cache"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/feature/domain"
	providerdomain "github.com/smallbiznis/featuregate/internal/provider/domain"
	"github.com/smallbiznis/featuregate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultCategory = "general"

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	ProviderRepo providerdomain.Repository
	Catalog      cache.CatalogCache
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	repo         domain.Repository
	providerRepo providerdomain.Repository
	genID        *snowflake.Node
	clock        clock.Clock
	catalog      cache.CatalogCache
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("feature.service"),
		repo:         p.Repo,
		providerRepo: p.ProviderRepo,
		genID:        p.GenID,
		clock:        p.Clock,
		catalog:      p.Catalog,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Response, error) {
	code := domain.NormalizeCode(req.Code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	providerID, err := parseID(req.ProviderID)
	if err != nil {
		return nil, domain.ErrInvalidProvider
	}
	if err := s.ensureProvider(ctx, providerID); err != nil {
		return nil, err
	}

	if err := validateTuning(req.CreditsPerUse, req.MaxTokens, req.Temperature); err != nil {
		return nil, err
	}

	category := strings.ToLower(strings.TrimSpace(req.Category))
	if category == "" {
		category = defaultCategory
	}

	now := s.clock.Now()
	record := &domain.Feature{
		ID:             s.genID.Generate(),
		Code:           code,
		Name:           name,
		Description:    trimmedPtr(req.Description),
		Category:       category,
		Tags:           normalizeTags(req.Tags),
		Status:         domain.StatusDraft,
		CreditsPerUse:  req.CreditsPerUse,
		ProviderID:     providerID,
		Model:          trimmedPtr(req.Model),
		SystemPrompt:   trimmedPtr(req.SystemPrompt),
		PromptTemplate: req.PromptTemplate,
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Metadata != nil {
		record.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.repo.Create(ctx, s.db, record); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrCodeTaken
		}
		return nil, err
	}

	resp := s.toResponse(record)
	return &resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Response, error) {
	item, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := s.toResponse(item)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Response, error) {
	filter := domain.ListRequest{
		Status:     req.Status,
		Category:   strings.ToLower(strings.TrimSpace(req.Category)),
		ProviderID: req.ProviderID,
		SortBy:     strings.TrimSpace(req.SortBy),
		OrderBy:    strings.TrimSpace(req.OrderBy),
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, s.toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateRequest) (*domain.Response, error) {
	item, err := s.find(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if item.Status == domain.StatusArchived {
		return nil, domain.ErrArchived
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		item.Name = name
	}
	if req.Description != nil {
		item.Description = trimmedPtr(req.Description)
	}
	if req.Category != nil {
		category := strings.ToLower(strings.TrimSpace(*req.Category))
		if category == "" {
			category = defaultCategory
		}
		item.Category = category
	}
	if req.Tags != nil {
		item.Tags = normalizeTags(req.Tags)
	}
	if req.ProviderID != nil {
		providerID, err := parseID(*req.ProviderID)
		if err != nil {
			return nil, domain.ErrInvalidProvider
		}
		if err := s.ensureProvider(ctx, providerID); err != nil {
			return nil, err
		}
		item.ProviderID = providerID
	}
	if err := validateTuning(req.CreditsPerUse, req.MaxTokens, req.Temperature); err != nil {
		return nil, err
	}
	if req.CreditsPerUse != nil {
		item.CreditsPerUse = req.CreditsPerUse
	}
	if req.Model != nil {
		item.Model = trimmedPtr(req.Model)
	}
	if req.SystemPrompt != nil {
		item.SystemPrompt = trimmedPtr(req.SystemPrompt)
	}
	if req.PromptTemplate != nil {
		item.PromptTemplate = req.PromptTemplate
	}
	if req.MaxTokens != nil {
		item.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		item.Temperature = req.Temperature
	}
	if req.Metadata != nil {
		item.Metadata = datatypes.JSONMap(req.Metadata)
	}

	item.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, item); err != nil {
		return nil, err
	}
	s.catalog.InvalidateFeature(item.Code)

	resp := s.toResponse(item)
	return &resp, nil
}

func (s *Service) Publish(ctx context.Context, id string) (*domain.Response, error) {
	return s.transition(ctx, id, domain.StatusPublished)
}

func (s *Service) Deprecate(ctx context.Context, id string) (*domain.Response, error) {
	return s.transition(ctx, id, domain.StatusDeprecated)
}

func (s *Service) Archive(ctx context.Context, id string) (*domain.Response, error) {
	return s.transition(ctx, id, domain.StatusArchived)
}

func (s *Service) MoveToTesting(ctx context.Context, id string) (*domain.Response, error) {
	return s.transition(ctx, id, domain.StatusTesting)
}

func (s *Service) Lookup(ctx context.Context, id snowflake.ID) (*domain.Feature, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return item, nil
}

func (s *Service) LookupByCode(ctx context.Context, code string) (*domain.Feature, error) {
	normalized := domain.NormalizeCode(code)
	if normalized == "" {
		return nil, domain.ErrInvalidCode
	}
	item, err := s.repo.FindByCode(ctx, s.db, normalized)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return item, nil
}

func (s *Service) transition(ctx context.Context, id string, to domain.Status) (*domain.Response, error) {
	item, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(item.Status, to) {
		return nil, domain.ErrInvalidTransition
	}

	from := item.Status
	item.Status = to
	item.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateStatus(ctx, s.db, item); err != nil {
		return nil, err
	}
	s.catalog.InvalidateFeature(item.Code)

	s.log.Info("feature status changed",
		zap.String("feature_id", item.ID.String()),
		zap.String("code", item.Code),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	resp := s.toResponse(item)
	return &resp, nil
}

func (s *Service) find(ctx context.Context, id string) (*domain.Feature, error) {
	featureID, err := parseID(id)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	return s.Lookup(ctx, featureID)
}

func (s *Service) ensureProvider(ctx context.Context, id snowflake.ID) error {
	provider, err := s.providerRepo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if provider == nil {
		return domain.ErrInvalidProvider
	}
	return nil
}

func (s *Service) toResponse(f *domain.Feature) domain.Response {
	resp := domain.Response{
		ID:             f.ID.String(),
		Code:           f.Code,
		Name:           f.Name,
		Description:    f.Description,
		Category:       f.Category,
		Status:         f.Status,
		CreditsPerUse:  f.CreditsPerUse,
		ProviderID:     f.ProviderID.String(),
		Model:          f.Model,
		SystemPrompt:   f.SystemPrompt,
		PromptTemplate: f.PromptTemplate,
		MaxTokens:      f.MaxTokens,
		Temperature:    f.Temperature,
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
	}
	if len(f.Tags) > 0 {
		resp.Tags = []string(f.Tags)
	}
	if len(f.Metadata) > 0 {
		resp.Metadata = map[string]any(f.Metadata)
	}
	return resp
}

func validateTuning(creditsPerUse *int64, maxTokens *int, temperature *float64) error {
	if creditsPerUse != nil && *creditsPerUse < 0 {
		return domain.ErrInvalidCreditsPerUse
	}
	if maxTokens != nil && *maxTokens <= 0 {
		return domain.ErrInvalidMaxTokens
	}
	if temperature != nil && (*temperature < 0 || *temperature > 2) {
		return domain.ErrInvalidTemperature
	}
	return nil
}

func normalizeTags(tags []string) pq.StringArray {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make(pq.StringArray, 0, len(tags))
	for _, tag := range tags {
		normalized := slug.Make(tag)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
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
