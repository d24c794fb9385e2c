package migration

import (
	"github.com/kiloan-app/kiloan/internal/config"
	"github.com/kiloan-app/kiloan/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// The versioned SQL targets postgres; sqlite and mysql
			// deployments are dev setups where AutoMigrate is enough.
			if err := seed.AutoMigrate(conn); err != nil {
				return err
			}
		}
		return seed.EnsureDefaultPlans(conn)
	}),
)
