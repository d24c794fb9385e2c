package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiloan-app/kiloan/internal/clock"
	paymentdomain "github.com/kiloan-app/kiloan/internal/payment/domain"
	"github.com/kiloan-app/kiloan/internal/payment/reconcile"
	"github.com/kiloan-app/kiloan/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	IntentSvc paymentdomain.IntentService
	Sweeper   reconcile.Sweeper
	Locker    *ratelimit.Locker `optional:"true"`
	Config    Config            `optional:"true"`
}

// Scheduler runs the periodic billing jobs webhooks cannot cover:
// expiring stale intents and sweeping stuck invoices.
type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	clock     clock.Clock
	intentSvc paymentdomain.IntentService
	sweeper   reconcile.Sweeper
	locker    *ratelimit.Locker
}

func New(p Params) *Scheduler {
	return &Scheduler{
		log:       p.Log.Named("scheduler"),
		cfg:       p.Config.withDefaults(),
		clock:     p.Clock,
		intentSvc: p.IntentSvc,
		sweeper:   p.Sweeper,
		locker:    p.Locker,
	}
}

// RunOnce executes every job one time. Each job takes a distributed
// lock first so only one replica does the work.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	err = errors.Join(err, s.runJob(parent, "expire_intents", func(ctx context.Context) error {
		_, jobErr := s.intentSvc.ExpireStale(ctx)
		return jobErr
	}))
	err = errors.Join(err, s.runJob(parent, "reconcile_sweep", func(ctx context.Context) error {
		_, jobErr := s.sweeper.Sweep(ctx, false)
		return jobErr
	}))
	return err
}

// RunForever loops RunOnce until the context is done.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler pass finished with errors", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	lockKey := "scheduler:" + name
	token, acquired, err := s.locker.TryLock(ctx, lockKey, s.cfg.RunInterval)
	if err != nil {
		s.log.Warn("job lock unavailable, running anyway",
			zap.String("job", name), zap.Error(err))
	} else if !acquired {
		return nil
	}
	defer func() {
		_ = s.locker.Release(context.WithoutCancel(ctx), lockKey, token)
	}()

	start := s.clock.Now()
	if err := fn(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			s.log.Warn("job timed out", zap.String("job", name), zap.Error(err))
			return nil
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	s.log.Debug("job finished",
		zap.String("job", name),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}
