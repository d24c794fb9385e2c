package main

import (
	_ "time/tzdata"

	"github.com/bwmarrin/snowflake"
	"github.com/kiloan-app/kiloan/internal/clock"
	"github.com/kiloan-app/kiloan/internal/config"
	"github.com/kiloan-app/kiloan/internal/lease"
	"github.com/kiloan-app/kiloan/internal/migration"
	"github.com/kiloan-app/kiloan/internal/observability/metrics"
	"github.com/kiloan-app/kiloan/internal/order"
	"github.com/kiloan-app/kiloan/internal/payment"
	"github.com/kiloan-app/kiloan/internal/quota"
	"github.com/kiloan-app/kiloan/internal/ratelimit"
	"github.com/kiloan-app/kiloan/internal/scheduler"
	"github.com/kiloan-app/kiloan/internal/server"
	"github.com/kiloan-app/kiloan/pkg/db"
	"github.com/kiloan-app/kiloan/pkg/log"
	"github.com/kiloan-app/kiloan/pkg/redis"
	"github.com/kiloan-app/kiloan/pkg/telemetry"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		log.Module,
		telemetry.Module,
		metrics.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		redis.Module,
		clock.Module,
		migration.Module,

		// Billing domains
		lease.Module,
		quota.Module,
		order.Module,
		payment.Module,

		ratelimit.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
