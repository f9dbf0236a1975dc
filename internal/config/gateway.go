package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// GatewayConfig carries the runtime knobs of the invocation path. It is
// reloaded from gateway.yml without a restart.
type GatewayConfig struct {
	ProviderTimeout            time.Duration `mapstructure:"providerTimeout"`
	ProbeTimeout               time.Duration `mapstructure:"probeTimeout"`
	MaxInputBytes              int           `mapstructure:"maxInputBytes"`
	MaxFileBytes               int           `mapstructure:"maxFileBytes"`
	LogInputChars              int           `mapstructure:"logInputChars"`
	LogOutputChars             int           `mapstructure:"logOutputChars"`
	DefaultLowBalanceThreshold int64         `mapstructure:"defaultLowBalanceThreshold"`
	QuotaTimezone              string        `mapstructure:"quotaTimezone"`
	PassthroughProviderErrors  bool          `mapstructure:"passthroughProviderErrors"`
	ProviderErrorMaxChars      int           `mapstructure:"providerErrorMaxChars"`
	CatalogCacheTTL            time.Duration `mapstructure:"catalogCacheTTL"`
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		ProviderTimeout:            60 * time.Second,
		ProbeTimeout:               15 * time.Second,
		MaxInputBytes:              64 * 1024,
		MaxFileBytes:               5 * 1024 * 1024,
		LogInputChars:              1000,
		LogOutputChars:             2000,
		DefaultLowBalanceThreshold: 10,
		QuotaTimezone:              "UTC",
		PassthroughProviderErrors:  true,
		ProviderErrorMaxChars:      500,
		CatalogCacheTTL:            30 * time.Second,
	}
}

// Location resolves the quota time zone, falling back to UTC.
func (c GatewayConfig) Location() *time.Location {
	name := strings.TrimSpace(c.QuotaTimezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

type GatewayConfigHolder struct {
	current atomic.Value // holds GatewayConfig
}

// NewStaticGatewayConfigHolder returns a holder that never reloads.
func NewStaticGatewayConfigHolder(cfg GatewayConfig) *GatewayConfigHolder {
	holder := &GatewayConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewGatewayConfigHolder() (*GatewayConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("gateway")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/featuregate/config") // Volume-mounted config
	v.AddConfigPath("/etc/featuregate")            // System config
	v.AddConfigPath(".")                           // Current directory (dev mode)

	v.SetEnvPrefix("FEATUREGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultGatewayConfig()
	v.SetDefault("gateway.providerTimeout", defaults.ProviderTimeout)
	v.SetDefault("gateway.probeTimeout", defaults.ProbeTimeout)
	v.SetDefault("gateway.maxInputBytes", defaults.MaxInputBytes)
	v.SetDefault("gateway.maxFileBytes", defaults.MaxFileBytes)
	v.SetDefault("gateway.logInputChars", defaults.LogInputChars)
	v.SetDefault("gateway.logOutputChars", defaults.LogOutputChars)
	v.SetDefault("gateway.defaultLowBalanceThreshold", defaults.DefaultLowBalanceThreshold)
	v.SetDefault("gateway.quotaTimezone", defaults.QuotaTimezone)
	v.SetDefault("gateway.passthroughProviderErrors", defaults.PassthroughProviderErrors)
	v.SetDefault("gateway.providerErrorMaxChars", defaults.ProviderErrorMaxChars)
	v.SetDefault("gateway.catalogCacheTTL", defaults.CatalogCacheTTL)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg GatewayConfig
	if err := v.UnmarshalKey("gateway", &cfg); err != nil {
		return nil, err
	}
	if err := validateGatewayConfig(cfg); err != nil {
		return nil, err
	}

	holder := &GatewayConfigHolder{}
	holder.current.Store(cfg)

	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log := zap.L().Named("gateway.config")
		var updated GatewayConfig
		if err := v.UnmarshalKey("gateway", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateGatewayConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// Store replaces the current configuration.
func (h *GatewayConfigHolder) Store(cfg GatewayConfig) {
	h.current.Store(cfg)
}

func (h *GatewayConfigHolder) Get() GatewayConfig {
	if h == nil {
		return DefaultGatewayConfig()
	}
	cfg, ok := h.current.Load().(GatewayConfig)
	if !ok {
		return DefaultGatewayConfig()
	}
	return cfg
}

func validateGatewayConfig(cfg GatewayConfig) error {
	if cfg.ProviderTimeout <= 0 {
		return errors.New("gateway.providerTimeout must be positive")
	}
	if cfg.ProbeTimeout <= 0 {
		return errors.New("gateway.probeTimeout must be positive")
	}
	if cfg.MaxInputBytes <= 0 {
		return errors.New("gateway.maxInputBytes must be positive")
	}
	if cfg.MaxFileBytes < 0 {
		return errors.New("gateway.maxFileBytes cannot be negative")
	}
	if cfg.DefaultLowBalanceThreshold < 0 {
		return errors.New("gateway.defaultLowBalanceThreshold cannot be negative")
	}
	if _, err := time.LoadLocation(strings.TrimSpace(cfg.QuotaTimezone)); err != nil {
		return errors.New("gateway.quotaTimezone is not a valid IANA zone")
	}
	return nil
}
