package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/featuregate/internal/config"
	"github.com/smallbiznis/featuregate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
)

func TestPublishDeduplicatesPerTenant(t *testing.T) {
	db := testutil.OpenDB(t)
	outbox := NewOutbox(db, testutil.Node(t))
	ctx := context.Background()

	event := Event{TenantID: 7, Type: EventAlertRaised, Payload: map[string]any{"alert_id": "1", "": "dropped"}, DedupeKey: "alert:1"}
	require.NoError(t, outbox.Publish(ctx, event))
	require.NoError(t, outbox.Publish(ctx, event))

	event.TenantID = 8
	require.NoError(t, outbox.Publish(ctx, event))

	pending, err := outbox.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, snowflake.ID(7), pending[0].TenantID)
	assert.Equal(t, EventAlertRaised, pending[0].Type)
	assert.Equal(t, "1", pending[0].Payload["alert_id"])
	assert.NotContains(t, pending[0].Payload, "")
}

func TestPublishRejectsIncompleteEvents(t *testing.T) {
	db := testutil.OpenDB(t)
	outbox := NewOutbox(db, testutil.Node(t))
	ctx := context.Background()

	assert.EqualError(t, outbox.Publish(ctx, Event{Type: EventCreditsDebited}), "invalid_tenant_id")
	assert.EqualError(t, outbox.Publish(ctx, Event{TenantID: 1, Type: "  "}), "missing_event_type")
	assert.EqualError(t, outbox.PublishTx(ctx, nil, Event{TenantID: 1, Type: EventCreditsDebited}), "missing_transaction")
}

func TestMarkPublishedAndPrune(t *testing.T) {
	db := testutil.OpenDB(t)
	outbox := NewOutbox(db, testutil.Node(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, outbox.Publish(ctx, Event{TenantID: 1, Type: EventCreditsGranted}))
	}
	pending, err := outbox.Pending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Less(t, pending[0].ID, pending[1].ID)

	require.NoError(t, outbox.MarkPublished(ctx, []snowflake.ID{pending[0].ID, pending[1].ID}))
	require.NoError(t, outbox.MarkPublished(ctx, nil))

	remaining, err := outbox.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	removed, err := outbox.Prune(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, removed, "recent events are retained")

	removed, err = outbox.Prune(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed, "only published events are pruned")

	var total int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM gateway_events`).Scan(&total).Error)
	assert.Equal(t, int64(1), total)
}

func TestStreamPublisherDisabled(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	publisher, err := NewStreamPublisher(lc, config.Config{})
	require.NoError(t, err)
	assert.Nil(t, publisher)
	assert.False(t, publisher.Enabled())
	assert.EqualError(t, publisher.PublishEvents(context.Background(), nil), "event_stream_disabled")

	_, err = NewStreamPublisher(lc, config.Config{Events: config.EventsConfig{StreamEnabled: true, Stream: "x"}})
	assert.Error(t, err)
}

func TestStreamPublisherReportsUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	publisher := newStreamPublisher(client, "featuregate:test", 10)
	require.True(t, publisher.Enabled())
	require.NoError(t, publisher.PublishEvents(context.Background(), nil))

	err := publisher.PublishEvents(context.Background(), []StoredEvent{{ID: 1, TenantID: 2, Type: EventCreditsDebited}})
	assert.Error(t, err)
}

func TestStreamPublisherAppendsEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	publisher := newStreamPublisher(client, "featuregate:test", 100)
	createdAt := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	batch := []StoredEvent{
		{ID: 101, TenantID: 7, Type: EventCreditsDebited, Payload: map[string]any{"amount": float64(3)}, CreatedAt: createdAt},
		{ID: 102, TenantID: 7, Type: EventAlertRaised, Payload: map[string]any{"alert_id": "9"}, CreatedAt: createdAt},
	}
	require.NoError(t, publisher.PublishEvents(context.Background(), batch))

	entries, err := client.XRange(context.Background(), "featuregate:test", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first := entries[0].Values
	assert.Equal(t, "101", first["event_id"])
	assert.Equal(t, "7", first["tenant_id"])
	assert.Equal(t, EventCreditsDebited, first["event_type"])
	assert.JSONEq(t, `{"amount":3}`, first["payload"].(string))
	assert.Equal(t, "2026-03-10T09:30:00Z", first["created_at"])
	assert.Equal(t, EventAlertRaised, entries[1].Values["event_type"])
}
