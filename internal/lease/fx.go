package lease

import (
	"github.com/kiloan-app/kiloan/internal/lease/repository"
	"github.com/kiloan-app/kiloan/internal/lease/service"
	"go.uber.org/fx"
)

var Module = fx.Module("lease",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewAllocator),
	fx.Provide(service.NewResolver),
)
