package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/config"
	"github.com/smallbiznis/featuregate/internal/events"
	ledgerdomain "github.com/smallbiznis/featuregate/internal/ledger/domain"
	"github.com/smallbiznis/featuregate/internal/ledger/repository"
	"github.com/smallbiznis/featuregate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tenant = "42"

func newTestService(t *testing.T) (ledgerdomain.Service, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	cfg := config.DefaultGatewayConfig()
	cfg.DefaultLowBalanceThreshold = 25

	svc := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clock.NewFakeClock(time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)),
		Repo:    repository.Provide(),
		Gateway: config.NewStaticGatewayConfigHolder(cfg),
		Outbox:  events.NewOutbox(db, node),
	})
	return svc, db
}

func TestBalanceOfUnknownTenantIsZero(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.GetBalance(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(0), resp.Balance)
	assert.Equal(t, int64(25), resp.LowBalanceThreshold)
}

func TestGrantCreatesBalanceAndTransaction(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	txn, err := svc.Grant(ctx, ledgerdomain.GrantRequest{TenantID: tenant, Amount: 100})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.TransactionTypePurchase, txn.Type)
	assert.Equal(t, int64(100), txn.BalanceAfter)

	txn, err = svc.Grant(ctx, ledgerdomain.GrantRequest{TenantID: tenant, Amount: 5, Type: ledgerdomain.TransactionTypePromotional})
	require.NoError(t, err)
	assert.Equal(t, int64(105), txn.BalanceAfter)

	balance, err := svc.GetBalance(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(105), balance.Balance)
	assert.Equal(t, int64(105), balance.TotalPurchased)
	assert.Equal(t, int64(25), balance.LowBalanceThreshold)

	var granted int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM gateway_events WHERE event_type = ?`, events.EventCreditsGranted).Scan(&granted).Error)
	assert.Equal(t, int64(2), granted)
}

func TestGrantValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Grant(ctx, ledgerdomain.GrantRequest{TenantID: tenant, Amount: 0})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAmount)

	_, err = svc.Grant(ctx, ledgerdomain.GrantRequest{TenantID: tenant, Amount: 1, Type: ledgerdomain.TransactionTypeUsage})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidTransactionType)

	_, err = svc.Grant(ctx, ledgerdomain.GrantRequest{TenantID: "abc", Amount: 1})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidTenant)
}

func TestDebitTxIsConditional(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	_, err := svc.Grant(ctx, ledgerdomain.GrantRequest{TenantID: tenant, Amount: 3})
	require.NoError(t, err)

	debit := func(amount int64, usageLogID snowflake.ID) (*ledgerdomain.DebitResult, error) {
		var result *ledgerdomain.DebitResult
		err := db.Transaction(func(tx *gorm.DB) error {
			var err error
			result, err = svc.DebitTx(ctx, tx, ledgerdomain.DebitRequest{
				TenantID:    42,
				UserID:      7,
				FeatureID:   9,
				FeatureCode: "summarize",
				UsageLogID:  usageLogID,
				Amount:      amount,
			})
			return err
		})
		return result, err
	}

	result, err := debit(2, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Balance.Balance)
	assert.Equal(t, int64(2), result.Balance.TotalUsed)

	_, err = debit(2, 1002)
	assert.True(t, errors.Is(err, ledgerdomain.ErrInsufficientCredits))

	balance, err := svc.GetBalance(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(1), balance.Balance)
	assert.Equal(t, balance.TotalPurchased-balance.TotalUsed, balance.Balance)
	assert.NotNil(t, balance.LastUsedAt)

	usageType := ledgerdomain.TransactionTypeUsage
	list, err := svc.ListTransactions(ctx, ledgerdomain.ListTransactionsRequest{TenantID: tenant, Type: &usageType})
	require.NoError(t, err)
	require.Len(t, list.Transactions, 1)
	assert.Equal(t, int64(-2), list.Transactions[0].Amount)
	require.NotNil(t, list.Transactions[0].UsageLogID)
	assert.Equal(t, "1001", *list.Transactions[0].UsageLogID)
}

func TestSetThresholdCreatesBalanceRow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.SetThreshold(ctx, tenant, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.LowBalanceThreshold)
	assert.Equal(t, int64(0), resp.Balance)

	_, err = svc.SetThreshold(ctx, tenant, -1)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidThreshold)
}

func TestListTransactionsPaginates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := svc.Grant(ctx, ledgerdomain.GrantRequest{TenantID: tenant, Amount: int64(i)})
		require.NoError(t, err)
	}

	req := ledgerdomain.ListTransactionsRequest{TenantID: tenant}
	req.PageSize = 2
	first, err := svc.ListTransactions(ctx, req)
	require.NoError(t, err)
	require.Len(t, first.Transactions, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, int64(3), first.Transactions[0].Amount)

	req.PageToken = first.NextPageToken
	second, err := svc.ListTransactions(ctx, req)
	require.NoError(t, err)
	require.Len(t, second.Transactions, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, int64(1), second.Transactions[0].Amount)

	req.PageToken = "garbage"
	_, err = svc.ListTransactions(ctx, req)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidPageToken)
}
