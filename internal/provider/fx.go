package provider

import (
	"github.com/smallbiznis/featuregate/internal/provider/adapters"
	"github.com/smallbiznis/featuregate/internal/provider/repository"
	"github.com/smallbiznis/featuregate/internal/provider/service"
	"go.uber.org/fx"
)

var Module = fx.Module("provider.service",
	adapters.Module,
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
