package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/kiloan-app/kiloan/internal/config"
	leasedomain "github.com/kiloan-app/kiloan/internal/lease/domain"
	"github.com/kiloan-app/kiloan/internal/observability/metrics"
	orderdomain "github.com/kiloan-app/kiloan/internal/order/domain"
	paymentdomain "github.com/kiloan-app/kiloan/internal/payment/domain"
	"github.com/kiloan-app/kiloan/internal/payment/reconcile"
	quotadomain "github.com/kiloan-app/kiloan/internal/quota/domain"
	"github.com/kiloan-app/kiloan/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	genID      *snowflake.Node
	allocator  leasedomain.Allocator
	orderSvc   orderdomain.Service
	quotaSvc   quotadomain.Service
	intentSvc  paymentdomain.IntentService
	webhookSvc paymentdomain.WebhookService
	sweeper    reconcile.Sweeper
	limiter    *ratelimit.WebhookLimiter
	metrics    *metrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	GenID      *snowflake.Node
	Allocator  leasedomain.Allocator
	OrderSvc   orderdomain.Service
	QuotaSvc   quotadomain.Service
	IntentSvc  paymentdomain.IntentService
	WebhookSvc paymentdomain.WebhookService
	Sweeper    reconcile.Sweeper
	Limiter    *ratelimit.WebhookLimiter `optional:"true"`
	Metrics    *metrics.Metrics          `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		genID:      p.GenID,
		allocator:  p.Allocator,
		orderSvc:   p.OrderSvc,
		quotaSvc:   p.QuotaSvc,
		intentSvc:  p.IntentSvc,
		webhookSvc: p.WebhookSvc,
		sweeper:    p.Sweeper,
		limiter:    p.Limiter,
		metrics:    p.Metrics,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")
	{
		v1.POST("/leases/claim", s.claimLeases)
		v1.GET("/leases/active", s.listActiveLeases)
		v1.POST("/orders", s.createOrder)
		v1.GET("/quota", s.quotaSnapshot)
		v1.POST("/payment-intents", s.createPaymentIntent)
	}

	webhooks := s.engine.Group("/webhooks")
	if s.limiter != nil {
		webhooks.Use(s.limiter.Middleware("bri_qris"))
	}
	webhooks.POST("/qris", s.handleQrisWebhook)

	admin := s.engine.Group("/admin")
	{
		admin.POST("/reconcile/sweep", s.reconcileSweep)
		admin.POST("/intents/expire", s.expireIntents)
	}
}
