package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/audit"
	"github.com/smallbiznis/featuregate/internal/cache"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/config"
	"github.com/smallbiznis/featuregate/internal/events"
	"github.com/smallbiznis/featuregate/internal/observability"
	"github.com/smallbiznis/featuregate/internal/provider"
	"github.com/smallbiznis/featuregate/internal/scheduler"
	"github.com/smallbiznis/featuregate/pkg/db"
	"go.uber.org/fx"
)

// Standalone maintenance worker. Run the API with SCHEDULER_ENABLED=false
// when this binary is deployed next to it.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by scheduler
		cache.Module,
		events.Module,
		audit.Module,
		provider.Module,

		// No server module!
		fx.Provide(scheduler.ProvideConfig),
		fx.Provide(scheduler.New),
		fx.Invoke(StartScheduler),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

func StartScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
