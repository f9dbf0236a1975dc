// Package stack wires the gateway services over an in-memory database for tests.
package stack

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/featuregate/internal/alert/domain"
	alertrepo "github.com/smallbiznis/featuregate/internal/alert/repository"
	alertservice "github.com/smallbiznis/featuregate/internal/alert/service"
	"github.com/smallbiznis/featuregate/internal/cache"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/config"
	"github.com/smallbiznis/featuregate/internal/events"
	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	featurerepo "github.com/smallbiznis/featuregate/internal/feature/repository"
	featureservice "github.com/smallbiznis/featuregate/internal/feature/service"
	ledgerdomain "github.com/smallbiznis/featuregate/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/featuregate/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/featuregate/internal/ledger/service"
	"github.com/smallbiznis/featuregate/internal/provider/adapters"
	providerdomain "github.com/smallbiznis/featuregate/internal/provider/domain"
	providerrepo "github.com/smallbiznis/featuregate/internal/provider/repository"
	providerservice "github.com/smallbiznis/featuregate/internal/provider/service"
	subscriptiondomain "github.com/smallbiznis/featuregate/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/featuregate/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/featuregate/internal/subscription/service"
	"github.com/smallbiznis/featuregate/internal/testutil"
	usagedomain "github.com/smallbiznis/featuregate/internal/usage/domain"
	usagerepo "github.com/smallbiznis/featuregate/internal/usage/repository"
	usageservice "github.com/smallbiznis/featuregate/internal/usage/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Stack holds every service of the invocation path, sharing one database and clock.
type Stack struct {
	DB            *gorm.DB
	Node          *snowflake.Node
	Clock         *clock.FakeClock
	Gateway       *config.GatewayConfigHolder
	Catalog       cache.CatalogCache
	Registry      *adapters.Registry
	Outbox        *events.Outbox
	Features      featuredomain.Service
	Providers     providerdomain.Service
	Subscriptions subscriptiondomain.Service
	Ledger        ledgerdomain.Service
	Alerts        alertdomain.Service
	Usage         usagedomain.Service
}

// Start is the fake clock's initial time.
var Start = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func New(t *testing.T) *Stack {
	t.Helper()
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	log := zap.NewNop()
	clk := clock.NewFakeClock(Start)
	cfg := config.DefaultGatewayConfig()
	cfg.ProviderTimeout = 5 * time.Second
	gateway := config.NewStaticGatewayConfigHolder(cfg)
	catalog := cache.NewCatalogCache(gateway)
	registry := adapters.NewRegistry(log, &http.Client{})
	outbox := events.NewOutbox(db, node)

	s := &Stack{
		DB:       db,
		Node:     node,
		Clock:    clk,
		Gateway:  gateway,
		Catalog:  catalog,
		Registry: registry,
		Outbox:   outbox,
	}
	s.Providers = providerservice.New(providerservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo:     providerrepo.Provide(),
		Registry: registry,
		Catalog:  catalog,
		Gateway:  gateway,
	})
	s.Features = featureservice.New(featureservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo:         featurerepo.Provide(),
		ProviderRepo: providerrepo.Provide(),
		Catalog:      catalog,
	})
	s.Subscriptions = subscriptionservice.NewService(subscriptionservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo:        subscriptionrepo.Provide(),
		FeatureRepo: featurerepo.Provide(),
	})
	s.Ledger = ledgerservice.NewService(ledgerservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo:    ledgerrepo.Provide(),
		Gateway: gateway,
		Outbox:  outbox,
	})
	s.Alerts = alertservice.NewService(alertservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo:   alertrepo.Provide(),
		Outbox: outbox,
	})
	s.Usage = usageservice.NewService(usageservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo:    usagerepo.Provide(),
		Ledger:  s.Ledger,
		Alerts:  s.Alerts,
		Gateway: gateway,
	})
	return s
}

// Configure applies mutate to the gateway configuration.
func (s *Stack) Configure(mutate func(*config.GatewayConfig)) {
	cfg := s.Gateway.Get()
	mutate(&cfg)
	s.Gateway.Store(cfg)
}

// SeedProvider creates an active provider.
func (s *Stack) SeedProvider(t *testing.T, providerType providerdomain.ProviderType, endpoint string) snowflake.ID {
	t.Helper()
	active := providerdomain.StatusActive
	credential := "sk-test-credential"
	req := providerdomain.CreateRequest{
		Name:       string(providerType) + "-" + s.Node.Generate().String(),
		Type:       providerType,
		Credential: &credential,
		Status:     &active,
	}
	if endpoint != "" {
		req.Endpoint = &endpoint
	}
	resp, err := s.Providers.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("seed provider: %v", err)
	}
	return parse(t, resp.ID)
}

// SeedFeature creates and publishes a feature. A nil credits uses the default of 1.
func (s *Stack) SeedFeature(t *testing.T, code string, providerID snowflake.ID, credits *int64) snowflake.ID {
	t.Helper()
	ctx := context.Background()
	model := "test-model"
	resp, err := s.Features.Create(ctx, featuredomain.CreateRequest{
		Code:          code,
		Name:          code,
		ProviderID:    providerID.String(),
		CreditsPerUse: credits,
		Model:         &model,
	})
	if err != nil {
		t.Fatalf("seed feature: %v", err)
	}
	if _, err := s.Features.Publish(ctx, resp.ID); err != nil {
		t.Fatalf("publish feature: %v", err)
	}
	return parse(t, resp.ID)
}

// Subscribe assigns a feature to a tenant; mutate may adjust the request.
func (s *Stack) Subscribe(t *testing.T, tenantID, featureID snowflake.ID, mutate func(*subscriptiondomain.AssignRequest)) {
	t.Helper()
	req := subscriptiondomain.AssignRequest{
		TenantID:  tenantID.String(),
		FeatureID: featureID.String(),
	}
	if mutate != nil {
		mutate(&req)
	}
	if _, err := s.Subscriptions.Assign(context.Background(), req); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
}

// SetUserAccess stores a per-user override.
func (s *Stack) SetUserAccess(t *testing.T, tenantID, userID, featureID snowflake.ID, mutate func(*subscriptiondomain.UserAccessRequest)) {
	t.Helper()
	req := subscriptiondomain.UserAccessRequest{
		TenantID:  tenantID.String(),
		UserID:    userID.String(),
		FeatureID: featureID.String(),
	}
	if mutate != nil {
		mutate(&req)
	}
	if _, err := s.Subscriptions.SetUserAccess(context.Background(), req); err != nil {
		t.Fatalf("set user access: %v", err)
	}
}

// Grant tops up a tenant with purchased credits.
func (s *Stack) Grant(t *testing.T, tenantID snowflake.ID, amount int64) {
	t.Helper()
	_, err := s.Ledger.Grant(context.Background(), ledgerdomain.GrantRequest{
		TenantID: tenantID.String(),
		Amount:   amount,
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
}

// Balance returns the tenant's current balance.
func (s *Stack) Balance(t *testing.T, tenantID snowflake.ID) int64 {
	t.Helper()
	balance, err := s.Ledger.Balance(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance.Balance
}

// Count runs a COUNT(*) query.
func (s *Stack) Count(t *testing.T, query string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := s.DB.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return count
}

func parse(t *testing.T, id string) snowflake.ID {
	t.Helper()
	parsed, err := snowflake.ParseString(id)
	if err != nil {
		t.Fatalf("parse id %q: %v", id, err)
	}
	return parsed
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
