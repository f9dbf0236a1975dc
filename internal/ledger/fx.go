package ledger

import (
	"github.com/smallbiznis/featuregate/internal/ledger/repository"
	"github.com/smallbiznis/featuregate/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
