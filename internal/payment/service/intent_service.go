package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/kiloan-app/kiloan/internal/clock"
	"github.com/kiloan-app/kiloan/internal/config"
	"github.com/kiloan-app/kiloan/internal/observability/metrics"
	"github.com/kiloan-app/kiloan/internal/payment/domain"
	"github.com/kiloan-app/kiloan/internal/payment/gateway"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Gateway-imposed bounds on intent lifetime.
const (
	minExpiry = 15 * time.Minute
	maxExpiry = 24 * time.Hour
)

type IntentParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Holder   *config.BillingConfigHolder
	Repo     domain.Repository
	Gateway  gateway.Client
	Bindings Bindings
	Metrics  *metrics.Metrics `optional:"true"`
}

type intentService struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	cfg      config.Config
	holder   *config.BillingConfigHolder
	repo     domain.Repository
	gateway  gateway.Client
	bindings Bindings
	metrics  *metrics.Metrics
}

func NewIntentService(p IntentParams) domain.IntentService {
	return &intentService{
		db:       p.DB,
		log:      p.Log.Named("payment.intent"),
		genID:    p.GenID,
		clock:    p.Clock,
		cfg:      p.Cfg,
		holder:   p.Holder,
		repo:     p.Repo,
		gateway:  p.Gateway,
		bindings: p.Bindings,
		metrics:  p.Metrics,
	}
}

// CreateQrisIntent issues a QRIS intent for the owner, reusing a live
// intent with the same amount so a retrying terminal never double
// charges. Amount 0 charges the full due amount; a partial amount is
// bounded by it. The gateway call happens inside the transaction: if
// the intent row cannot be persisted the charge is rolled back with it.
func (s *intentService) CreateQrisIntent(ctx context.Context, req domain.CreateIntentRequest) (*domain.PaymentIntent, error) {
	binding, err := s.bindings.For(req.OwnerType)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	expiry := s.clampExpiry(req.ExpiryMinutes)

	var intent *domain.PaymentIntent
	err = s.db.Transaction(func(tx *gorm.DB) error {
		state, err := binding.Lock(ctx, tx, req.TenantID, req.OwnerID)
		if err != nil {
			return err
		}
		if state == nil {
			return fmt.Errorf("%w: %s %d", domain.ErrIntentNotFound, req.OwnerType, req.OwnerID.Int64())
		}
		if !state.Payable() {
			return domain.ErrOwnerNotPayable
		}
		due := state.AmountDue()
		if due <= 0 {
			return domain.ErrIntentAmountZero
		}
		amount := req.Amount
		if amount == 0 {
			amount = due
		}
		if amount < 0 || amount > due {
			return fmt.Errorf("%w: %d not in (0, %d]", domain.ErrIntentAmountInvalid, req.Amount, due)
		}

		if !req.ForceNew {
			existing, err := s.repo.FindReusableIntent(ctx, tx, req.TenantID, req.OwnerType, req.OwnerID, amount, now)
			if err != nil {
				return err
			}
			if existing != nil {
				intent = existing
				return nil
			}
		}

		expiresAt := now.Add(expiry)
		if deadline := state.Deadline(); deadline != nil && deadline.After(now) && deadline.Before(expiresAt) {
			expiresAt = *deadline
		}

		reference := s.buildReference(state.Label(), now)
		created, err := s.gateway.CreateIntent(ctx, gateway.IntentRequest{
			Reference: reference,
			Amount:    amount,
			Currency:  state.Currency(),
			ExpiresAt: expiresAt,
		})
		if err != nil {
			return err
		}

		intent = &domain.PaymentIntent{
			ID:              s.genID.Generate(),
			TenantID:        req.TenantID,
			OwnerType:       req.OwnerType,
			OwnerID:         req.OwnerID,
			Provider:        s.gateway.Provider(),
			Reference:       reference,
			Amount:          amount,
			Currency:        state.Currency(),
			QRPayload:       created.QRPayload,
			GatewayIntentID: created.GatewayIntentID,
			Status:          domain.IntentStatusReady,
			ExpiresAt:       expiresAt,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.repo.InsertIntent(ctx, tx, intent); err != nil {
			return err
		}
		return state.MarkIntentCreated(ctx, tx, now)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordIntentIssued(ctx, intent.Provider)
	s.log.Info("intent ready",
		zap.Int64("tenant_id", req.TenantID.Int64()),
		zap.String("owner_type", req.OwnerType),
		zap.String("reference", intent.Reference),
		zap.Int64("amount", intent.Amount),
	)
	return intent, nil
}

// ExpireStale flips intents past their expiry to expired in batches.
func (s *intentService) ExpireStale(ctx context.Context) (int64, error) {
	batch := s.holder.Get().SweepBatchSize
	n, err := s.repo.ExpireStaleIntents(ctx, s.db, s.clock.Now(), batch)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("stale intents expired", zap.Int64("count", n))
	}
	return n, nil
}

func (s *intentService) clampExpiry(minutes int) time.Duration {
	if minutes <= 0 {
		minutes = s.holder.Get().IntentExpiryMinutes
	}
	d := time.Duration(minutes) * time.Minute
	if d < minExpiry {
		return minExpiry
	}
	if d > maxExpiry {
		return maxExpiry
	}
	return d
}

// buildReference renders PREFIX-label-ULIDTAIL, e.g.
// "KLN-bl-240501-0007-01hx3f9e". The ULID tail keeps retried issuance
// for the same owner from colliding on the unique reference index.
func (s *intentService) buildReference(label string, now time.Time) string {
	prefix := s.cfg.Gateway.ReferencePrefix
	if prefix == "" {
		prefix = "KLN"
	}
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy())
	tail := strings.ToLower(id.String())
	return fmt.Sprintf("%s-%s-%s", prefix, slug.Make(label), tail[len(tail)-8:])
}
