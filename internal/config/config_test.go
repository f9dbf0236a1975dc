package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReadsSchedulerAndEvents(t *testing.T) {
	t.Setenv("SCHEDULER_ENABLED", "off")
	t.Setenv("SCHEDULER_JOBS", " provider_health, ,outbox_prune ")
	t.Setenv("SCHEDULER_RUN_INTERVAL_SECONDS", "15")
	t.Setenv("EVENTS_STREAM_ENABLED", "yes")
	t.Setenv("EVENTS_STREAM", "fg:events")
	t.Setenv("RATE_LIMIT_INVOKE_TENANT_RATE", "not-a-number")

	cfg := Load()

	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, []string{"provider_health", "outbox_prune"}, cfg.Scheduler.Jobs)
	assert.Equal(t, 15, cfg.Scheduler.RunIntervalSeconds)
	assert.Equal(t, 30, cfg.Scheduler.EventRetentionDays)
	assert.True(t, cfg.Events.StreamEnabled)
	assert.Equal(t, "fg:events", cfg.Events.Stream)
	assert.Equal(t, float64(20), cfg.RateLimit.InvokeTenantRate)
}

func TestIsProduction(t *testing.T) {
	assert.True(t, Config{Environment: " Production "}.IsProduction())
	assert.False(t, Config{Environment: "staging"}.IsProduction())
}

func TestValidateGatewayConfig(t *testing.T) {
	require.NoError(t, validateGatewayConfig(DefaultGatewayConfig()))

	cfg := DefaultGatewayConfig()
	cfg.ProviderTimeout = 0
	assert.Error(t, validateGatewayConfig(cfg))

	cfg = DefaultGatewayConfig()
	cfg.QuotaTimezone = "Mars/Olympus"
	assert.Error(t, validateGatewayConfig(cfg))

	cfg = DefaultGatewayConfig()
	cfg.DefaultLowBalanceThreshold = -1
	assert.Error(t, validateGatewayConfig(cfg))
}

func TestGatewayConfigHolder(t *testing.T) {
	var nilHolder *GatewayConfigHolder
	assert.Equal(t, DefaultGatewayConfig(), nilHolder.Get())

	cfg := DefaultGatewayConfig()
	cfg.ProviderTimeout = 5 * time.Second
	holder := NewStaticGatewayConfigHolder(cfg)
	assert.Equal(t, 5*time.Second, holder.Get().ProviderTimeout)

	cfg.ProviderTimeout = 7 * time.Second
	holder.Store(cfg)
	assert.Equal(t, 7*time.Second, holder.Get().ProviderTimeout)
}

func TestGatewayLocationFallsBackToUTC(t *testing.T) {
	cfg := DefaultGatewayConfig()
	cfg.QuotaTimezone = "nowhere"
	assert.Equal(t, time.UTC, cfg.Location())
}
