package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/config"
	entitlementdomain "github.com/smallbiznis/featuregate/internal/entitlement/domain"
	entitlementservice "github.com/smallbiznis/featuregate/internal/entitlement/service"
	"github.com/smallbiznis/featuregate/internal/gateway/domain"
	ledgerdomain "github.com/smallbiznis/featuregate/internal/ledger/domain"
	"github.com/smallbiznis/featuregate/internal/provider/adapters"
	providerdomain "github.com/smallbiznis/featuregate/internal/provider/domain"
	subscriptiondomain "github.com/smallbiznis/featuregate/internal/subscription/domain"
	"github.com/smallbiznis/featuregate/internal/testutil/stack"
	usagedomain "github.com/smallbiznis/featuregate/internal/usage/domain"
	"github.com/smallbiznis/featuregate/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	tenant = snowflake.ID(21)
	user   = snowflake.ID(2100)
)

const chatOK = `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hello"}}],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`

type fixture struct {
	*stack.Stack
	svc        domain.Service
	providerID snowflake.ID
	featureID  snowflake.ID
}

func newFixture(t *testing.T, handler http.HandlerFunc, credits *int64) *fixture {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	s := stack.New(t)
	providerID := s.SeedProvider(t, providerdomain.ProviderTypeChatCompletion, server.URL)
	featureID := s.SeedFeature(t, "summarize", providerID, credits)

	resolver := entitlementservice.NewResolver(entitlementservice.Params{
		Log:           zap.NewNop(),
		Clock:         s.Clock,
		Catalog:       s.Catalog,
		Features:      s.Features,
		Providers:     s.Providers,
		Subscriptions: s.Subscriptions,
		Usage:         s.Usage,
		Ledger:        s.Ledger,
		Alerts:        s.Alerts,
		Gateway:       s.Gateway,
	})
	svc := NewService(Params{
		Log:           zap.NewNop(),
		Clock:         s.Clock,
		Resolver:      resolver,
		Registry:      s.Registry,
		Usage:         s.Usage,
		Ledger:        s.Ledger,
		Features:      s.Features,
		Providers:     s.Providers,
		Subscriptions: s.Subscriptions,
		Gateway:       s.Gateway,
	})
	return &fixture{Stack: s, svc: svc, providerID: providerID, featureID: featureID}
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func invoke(input string) domain.InvokeRequest {
	return domain.InvokeRequest{
		TenantID:    tenant,
		UserID:      user,
		FeatureCode: "summarize",
		Input:       input,
	}
}

func TestInvokeDebitsUntilCreditsRunOut(t *testing.T) {
	f := newFixture(t, respond(http.StatusOK, chatOK), stack.Int64(2))
	f.Subscribe(t, tenant, f.featureID, nil)
	f.Grant(t, tenant, 5)
	ctx := context.Background()

	first, err := f.svc.Invoke(ctx, invoke("text"))
	require.NoError(t, err)
	assert.Equal(t, "hello", first.Output)
	assert.Equal(t, domain.TokensUsed{Input: 5, Output: 3}, first.TokensUsed)
	assert.Equal(t, int64(2), first.CreditsUsed)
	assert.Equal(t, int64(3), first.CreditsRemaining)

	second, err := f.svc.Invoke(ctx, invoke("text"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.CreditsRemaining)

	_, err = f.svc.Invoke(ctx, invoke("text"))
	assert.ErrorIs(t, err, entitlementdomain.ErrInsufficientCredits)
	assert.Equal(t, int64(1), f.Balance(t, tenant))

	assert.Equal(t, int64(2), f.Count(t, `SELECT COUNT(*) FROM usage_logs`), "the denial is not logged")
	assert.Equal(t, int64(2), f.Count(t, `SELECT COUNT(*) FROM credit_transactions WHERE transaction_type = 'usage'`))

	balance, err := f.Ledger.Balance(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, balance.TotalPurchased-balance.TotalUsed, balance.Balance)
}

func TestInvokeExpiredSubscriptionIsDenied(t *testing.T) {
	calls := 0
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		respond(http.StatusOK, chatOK)(w, r)
	}, nil)
	yesterday := stack.Start.Add(-24 * time.Hour)
	f.Subscribe(t, tenant, f.featureID, func(req *subscriptiondomain.AssignRequest) {
		req.ExpiresAt = &yesterday
	})
	f.Grant(t, tenant, 100)

	_, err := f.svc.Invoke(context.Background(), invoke("text"))
	assert.ErrorIs(t, err, entitlementdomain.ErrSubscriptionExpired)
	assert.Zero(t, calls)
	assert.Equal(t, int64(0), f.Count(t, `SELECT COUNT(*) FROM usage_logs`))
}

func TestInvokeProviderErrorIsRecordedWithoutCharge(t *testing.T) {
	f := newFixture(t, respond(http.StatusTooManyRequests, `{"error":{"message":"rate limited"}}`), nil)
	f.Subscribe(t, tenant, f.featureID, nil)
	f.Grant(t, tenant, 10)

	_, err := f.svc.Invoke(context.Background(), invoke("text"))
	require.Error(t, err)

	var providerErr *domain.ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Equal(t, "rate limited", providerErr.Message)
	assert.ErrorIs(t, err, adapters.ErrProviderExecution)

	var execErr *adapters.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, http.StatusTooManyRequests, execErr.StatusCode)

	assert.Equal(t, int64(10), f.Balance(t, tenant))
	assert.Equal(t, int64(1), f.Count(t, `SELECT COUNT(*) FROM usage_logs WHERE success = ? AND error_message = ?`, false, "rate limited"))
	assert.Equal(t, int64(0), f.Count(t, `SELECT COUNT(*) FROM credit_transactions WHERE transaction_type = 'usage'`))
}

func TestInvokeProviderErrorRedactedWhenPassthroughDisabled(t *testing.T) {
	f := newFixture(t, respond(http.StatusInternalServerError, `{"error":{"message":"upstream shard 7 exploded"}}`), nil)
	f.Subscribe(t, tenant, f.featureID, nil)
	f.Grant(t, tenant, 10)
	f.Configure(func(cfg *config.GatewayConfig) { cfg.PassthroughProviderErrors = false })

	_, err := f.svc.Invoke(context.Background(), invoke("text"))
	var providerErr *domain.ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Equal(t, genericProviderMessage, providerErr.Message)

	assert.Equal(t, int64(1), f.Count(t, `SELECT COUNT(*) FROM usage_logs WHERE error_message = ?`, "upstream shard 7 exploded"),
		"the log keeps the vendor message")
}

func TestInvokeProviderMessageTruncated(t *testing.T) {
	long := strings.Repeat("x", 80)
	f := newFixture(t, respond(http.StatusBadRequest, `{"error":{"message":"`+long+`"}}`), nil)
	f.Subscribe(t, tenant, f.featureID, nil)
	f.Grant(t, tenant, 10)
	f.Configure(func(cfg *config.GatewayConfig) { cfg.ProviderErrorMaxChars = 16 })

	_, err := f.svc.Invoke(context.Background(), invoke("text"))
	var providerErr *domain.ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Len(t, providerErr.Message, 16)
}

func TestInvokeTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, nil)
	t.Cleanup(func() { close(release) })
	f.Subscribe(t, tenant, f.featureID, nil)
	f.Grant(t, tenant, 10)
	f.Configure(func(cfg *config.GatewayConfig) { cfg.ProviderTimeout = 50 * time.Millisecond })

	_, err := f.svc.Invoke(context.Background(), invoke("text"))
	assert.ErrorIs(t, err, adapters.ErrTransport)
	assert.Equal(t, int64(10), f.Balance(t, tenant))
	assert.Equal(t, int64(1), f.Count(t, `SELECT COUNT(*) FROM usage_logs WHERE success = ?`, false))
}

func TestInvokeSurvivesCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		cancel()
		time.Sleep(20 * time.Millisecond)
		respond(http.StatusOK, chatOK)(w, r)
	}, stack.Int64(3))
	f.Subscribe(t, tenant, f.featureID, nil)
	f.Grant(t, tenant, 10)

	resp, err := f.svc.Invoke(ctx, invoke("text"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), resp.CreditsRemaining)
	assert.Equal(t, int64(7), f.Balance(t, tenant))
	assert.Equal(t, int64(1), f.Count(t, `SELECT COUNT(*) FROM usage_logs WHERE success = ?`, true))
}

func TestInvokeValidation(t *testing.T) {
	f := newFixture(t, respond(http.StatusOK, chatOK), nil)
	f.Configure(func(cfg *config.GatewayConfig) {
		cfg.MaxInputBytes = 8
		cfg.MaxFileBytes = 10
	})
	ctx := context.Background()

	_, err := f.svc.Invoke(ctx, invoke("   "))
	assert.ErrorIs(t, err, domain.ErrInputRequired)

	_, err = f.svc.Invoke(ctx, invoke("way too long input"))
	assert.ErrorIs(t, err, domain.ErrInputTooLarge)

	req := invoke("ok")
	req.File = "%%% not base64"
	_, err = f.svc.Invoke(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidFile)

	req.File = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="
	_, err = f.svc.Invoke(ctx, req)
	assert.ErrorIs(t, err, domain.ErrFileTooLarge)

	req = invoke("ok")
	req.UserID = 0
	_, err = f.svc.Invoke(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidUser)
}

// lostRaceUsage drains the balance right before the recorder debits.
type lostRaceUsage struct {
	usagedomain.Service
	drain func()
}

func (u lostRaceUsage) RecordInvocation(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.RecordResult, error) {
	u.drain()
	return u.Service.RecordInvocation(ctx, req)
}

func TestInvokeLostDebitRaceReturnsInsufficientCredits(t *testing.T) {
	f := newFixture(t, respond(http.StatusOK, chatOK), stack.Int64(4))
	f.Subscribe(t, tenant, f.featureID, nil)
	f.Grant(t, tenant, 5)

	svc := f.svc.(*Service)
	svc.usage = lostRaceUsage{
		Service: f.Usage,
		drain: func() {
			require.NoError(t, f.DB.Exec(`UPDATE credit_balances SET balance = 1, total_used = total_used + 4 WHERE tenant_id = ?`, tenant).Error)
		},
	}

	_, err := svc.Invoke(context.Background(), invoke("text"))
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientCredits)
	assert.Equal(t, int64(1), f.Balance(t, tenant), "balance never goes negative")
	assert.Equal(t, int64(1), f.Count(t, `SELECT COUNT(*) FROM usage_logs WHERE success = ? AND error_message = ?`,
		false, usagedomain.ErrDebitRaceLost))
	assert.Equal(t, int64(0), f.Count(t, `SELECT COUNT(*) FROM usage_logs WHERE success = ?`, true))
}

func TestListAvailableFeatures(t *testing.T) {
	f := newFixture(t, respond(http.StatusOK, chatOK), stack.Int64(2))
	ctx := context.Background()
	f.Grant(t, tenant, 42)

	other := f.SeedFeature(t, "translate", f.providerID, nil)
	hidden := f.SeedFeature(t, "classify", f.providerID, nil)
	f.Subscribe(t, tenant, f.featureID, func(req *subscriptiondomain.AssignRequest) {
		req.CreditsPerUse = stack.Int64(9)
		req.DailyLimit = stack.Int64(3)
	})
	f.Subscribe(t, tenant, other, nil)
	f.Subscribe(t, tenant, hidden, func(req *subscriptiondomain.AssignRequest) {
		req.Enabled = stack.Bool(false)
	})

	resp, err := f.svc.ListAvailableFeatures(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(42), resp.Balance)
	require.Len(t, resp.Features, 2)

	byCode := map[string]domain.AvailableFeature{}
	for _, item := range resp.Features {
		byCode[item.Code] = item
	}
	assert.Equal(t, int64(9), byCode["summarize"].CreditsPerUse)
	require.NotNil(t, byCode["summarize"].DailyLimit)
	assert.Equal(t, int64(1), byCode["translate"].CreditsPerUse)

	_, err = f.Features.Deprecate(ctx, other.String())
	require.NoError(t, err)
	resp, err = f.svc.ListAvailableFeatures(ctx, tenant)
	require.NoError(t, err)
	assert.Len(t, resp.Features, 1)
}

func TestUsageHistoryShowsOwnEntries(t *testing.T) {
	f := newFixture(t, respond(http.StatusOK, chatOK), nil)
	f.Subscribe(t, tenant, f.featureID, nil)
	f.Grant(t, tenant, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Invoke(ctx, invoke("text"))
		require.NoError(t, err)
		f.Clock.Advance(time.Second)
	}
	other := invoke("text")
	other.UserID = user + 1
	_, err := f.svc.Invoke(ctx, other)
	require.NoError(t, err)

	page, err := f.svc.UsageHistory(ctx, domain.UsageHistoryRequest{
		Pagination: pagination.Pagination{PageSize: 2},
		TenantID:   tenant,
		UserID:     user,
	})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "hello", *page.Entries[0].Output)
}
