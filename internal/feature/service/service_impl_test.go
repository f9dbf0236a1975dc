package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/featuregate/internal/cache"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/config"
	"github.com/smallbiznis/featuregate/internal/feature/domain"
	"github.com/smallbiznis/featuregate/internal/feature/repository"
	providerrepository "github.com/smallbiznis/featuregate/internal/provider/repository"
	"github.com/smallbiznis/featuregate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const providerID = "1001"

type testEnv struct {
	svc     domain.Service
	catalog cache.CatalogCache
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	db := testutil.OpenDB(t)
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, db.Exec(
		`INSERT INTO providers (id, name, provider_type, status, supports_vision, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		1001, "openai", "chat_completion", "active", false, now, now,
	).Error)

	catalog := cache.NewCatalogCache(config.NewStaticGatewayConfigHolder(config.DefaultGatewayConfig()))
	svc := New(Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        testutil.Node(t),
		Clock:        clock.NewFakeClock(now),
		Repo:         repository.Provide(),
		ProviderRepo: providerrepository.Provide(),
		Catalog:      catalog,
	})
	return testEnv{svc: svc, catalog: catalog}
}

func int64Ptr(v int64) *int64 { return &v }

func TestCreateNormalizesCodeAndStartsAsDraft(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.svc.Create(context.Background(), domain.CreateRequest{
		Code:          "  Summarize Text ",
		Name:          "Summarize",
		Tags:          []string{"NLP", "nlp", "Long Form"},
		ProviderID:    providerID,
		CreditsPerUse: int64Ptr(2),
	})
	require.NoError(t, err)
	assert.Equal(t, "summarize-text", resp.Code)
	assert.Equal(t, domain.StatusDraft, resp.Status)
	assert.Equal(t, "general", resp.Category)
	assert.Equal(t, []string{"nlp", "long-form"}, resp.Tags)

	found, err := env.svc.LookupByCode(context.Background(), "Summarize Text")
	require.NoError(t, err)
	assert.Equal(t, resp.ID, found.ID.String())
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Create(ctx, domain.CreateRequest{Code: "x", Name: "X", ProviderID: "999"})
	assert.ErrorIs(t, err, domain.ErrInvalidProvider)

	_, err = env.svc.Create(ctx, domain.CreateRequest{Code: "x", Name: "X", ProviderID: providerID, CreditsPerUse: int64Ptr(-1)})
	assert.ErrorIs(t, err, domain.ErrInvalidCreditsPerUse)

	temp := 3.5
	_, err = env.svc.Create(ctx, domain.CreateRequest{Code: "x", Name: "X", ProviderID: providerID, Temperature: &temp})
	assert.ErrorIs(t, err, domain.ErrInvalidTemperature)

	_, err = env.svc.Create(ctx, domain.CreateRequest{Code: "ocr", Name: "OCR", ProviderID: providerID})
	require.NoError(t, err)
	_, err = env.svc.Create(ctx, domain.CreateRequest{Code: "OCR", Name: "OCR again", ProviderID: providerID})
	assert.ErrorIs(t, err, domain.ErrCodeTaken)
}

func TestLifecycleTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.Create(ctx, domain.CreateRequest{Code: "translate", Name: "Translate", ProviderID: providerID})
	require.NoError(t, err)

	_, err = env.svc.Deprecate(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	resp, err := env.svc.MoveToTesting(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTesting, resp.Status)

	resp, err = env.svc.Publish(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, resp.Status)

	resp, err = env.svc.Deprecate(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeprecated, resp.Status)

	resp, err = env.svc.Publish(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, resp.Status)

	resp, err = env.svc.Archive(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusArchived, resp.Status)

	_, err = env.svc.Publish(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	name := "renamed"
	_, err = env.svc.Update(ctx, domain.UpdateRequest{ID: created.ID, Name: &name})
	assert.ErrorIs(t, err, domain.ErrArchived)
}

func TestTransitionsInvalidateCatalog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.Create(ctx, domain.CreateRequest{Code: "caption", Name: "Caption", ProviderID: providerID})
	require.NoError(t, err)
	_, err = env.svc.Publish(ctx, created.ID)
	require.NoError(t, err)

	feature, err := env.svc.LookupByCode(ctx, "caption")
	require.NoError(t, err)
	env.catalog.SetFeature("caption", cache.CatalogEntry{Feature: *feature})

	_, err = env.svc.Deprecate(ctx, created.ID)
	require.NoError(t, err)

	_, ok := env.catalog.GetFeature("caption")
	assert.False(t, ok, "deprecate must evict the cached catalog entry")
}

func TestListFilters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.svc.Create(ctx, domain.CreateRequest{Code: "a", Name: "A", Category: "Vision", ProviderID: providerID})
	require.NoError(t, err)
	_, err = env.svc.Create(ctx, domain.CreateRequest{Code: "b", Name: "B", ProviderID: providerID})
	require.NoError(t, err)
	_, err = env.svc.Publish(ctx, a.ID)
	require.NoError(t, err)

	published := domain.StatusPublished
	items, err := env.svc.List(ctx, domain.ListRequest{Status: &published})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].Code)

	items, err = env.svc.List(ctx, domain.ListRequest{Category: "vision"})
	require.NoError(t, err)
	require.Len(t, items, 1)

	items, err = env.svc.List(ctx, domain.ListRequest{})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}
