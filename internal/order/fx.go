package order

import (
	"github.com/kiloan-app/kiloan/internal/order/repository"
	"github.com/kiloan-app/kiloan/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
