package scheduler

import (
	"time"

	"github.com/smallbiznis/featuregate/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval    time.Duration
	BatchSize      int
	EventRetention time.Duration
	JobTimeout     time.Duration
	EnabledJobs    []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    time.Minute,
		BatchSize:      100,
		EventRetention: 30 * 24 * time.Hour,
		JobTimeout:     30 * time.Second,
	}
}

// ProvideConfig maps environment settings onto the scheduler config.
func ProvideConfig(cfg config.Config) Config {
	sched := cfg.Scheduler
	return Config{
		RunInterval:    time.Duration(sched.RunIntervalSeconds) * time.Second,
		BatchSize:      sched.BatchSize,
		EventRetention: time.Duration(sched.EventRetentionDays) * 24 * time.Hour,
		EnabledJobs:    sched.Jobs,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.EventRetention <= 0 {
		c.EventRetention = defaults.EventRetention
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
