package quota

import (
	"github.com/kiloan-app/kiloan/internal/quota/service"
	"go.uber.org/fx"
)

var Module = fx.Module("quota",
	fx.Provide(service.NewService),
)
