package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/config"
	"github.com/smallbiznis/featuregate/internal/migration"
	"github.com/smallbiznis/featuregate/internal/observability"
	"github.com/smallbiznis/featuregate/internal/scheduler"
	"github.com/smallbiznis/featuregate/internal/server"
	"github.com/smallbiznis/featuregate/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface and the domains behind it
		server.Module,

		// Background maintenance
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
