package payment

import (
	"github.com/kiloan-app/kiloan/internal/payment/gateway"
	"github.com/kiloan-app/kiloan/internal/payment/reconcile"
	"github.com/kiloan-app/kiloan/internal/payment/repository"
	"github.com/kiloan-app/kiloan/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(repository.Provide),
	fx.Provide(gateway.NewClient),
	fx.Provide(service.NewBindings),
	fx.Provide(service.NewIntentService),
	fx.Provide(service.NewWebhookService),
	fx.Provide(reconcile.NewSweeper),
)
