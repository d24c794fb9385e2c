package redis

import (
	"github.com/kiloan-app/kiloan/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// Module provides the shared redis client. The client is nil when
// REDIS_ADDR is unset; consumers degrade to database-only paths.
var Module = fx.Provide(New)

func New(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}
