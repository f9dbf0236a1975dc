package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewGatewayConfigHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBMigrate         bool

	RateLimit RateLimitConfig
	Scheduler SchedulerConfig
	Events    EventsConfig
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	InvokeTenantRate         float64
	InvokeTenantBurst        int
	InvokeInflightTTLSeconds int
}

// SchedulerConfig drives the background maintenance loop.
type SchedulerConfig struct {
	Enabled            bool
	RunIntervalSeconds int
	BatchSize          int
	Jobs               []string
	EventRetentionDays int
}

// EventsConfig controls relaying gateway_events to a Redis stream.
type EventsConfig struct {
	StreamEnabled bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Stream        string
	StreamMaxLen  int64
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "featuregate"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		NodeID:            getenvInt64("SNOWFLAKE_NODE_ID", 1),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "featuregate"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		DBMigrate:         getenvBool("DATABASE_MIGRATE", true),
		RateLimit: RateLimitConfig{
			Enabled:                  getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:                strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "localhost:6379")),
			RedisPassword:            getenv("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:                  int(getenvInt64("RATE_LIMIT_REDIS_DB", 0)),
			InvokeTenantRate:         getenvFloat("RATE_LIMIT_INVOKE_TENANT_RATE", 20),
			InvokeTenantBurst:        int(getenvInt64("RATE_LIMIT_INVOKE_TENANT_BURST", 40)),
			InvokeInflightTTLSeconds: int(getenvInt64("RATE_LIMIT_INVOKE_INFLIGHT_TTL_SECONDS", 0)),
		},
		Scheduler: SchedulerConfig{
			Enabled:            getenvBool("SCHEDULER_ENABLED", true),
			RunIntervalSeconds: int(getenvInt64("SCHEDULER_RUN_INTERVAL_SECONDS", 60)),
			BatchSize:          int(getenvInt64("SCHEDULER_BATCH_SIZE", 100)),
			Jobs:               getenvList("SCHEDULER_JOBS"),
			EventRetentionDays: int(getenvInt64("SCHEDULER_EVENT_RETENTION_DAYS", 30)),
		},
		Events: EventsConfig{
			StreamEnabled: getenvBool("EVENTS_STREAM_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("EVENTS_REDIS_ADDR", "localhost:6379")),
			RedisPassword: getenv("EVENTS_REDIS_PASSWORD", ""),
			RedisDB:       int(getenvInt64("EVENTS_REDIS_DB", 0)),
			Stream:        strings.TrimSpace(getenv("EVENTS_STREAM", "featuregate:gateway_events")),
			StreamMaxLen:  getenvInt64("EVENTS_STREAM_MAXLEN", 100000),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvList splits a comma separated variable, dropping blanks.
func getenvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
