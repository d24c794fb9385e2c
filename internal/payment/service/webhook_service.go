package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kiloan-app/kiloan/internal/clock"
	"github.com/kiloan-app/kiloan/internal/config"
	"github.com/kiloan-app/kiloan/internal/observability/metrics"
	"github.com/kiloan-app/kiloan/internal/payment/domain"
	"github.com/kiloan-app/kiloan/internal/payment/webhook"
	tenantdomain "github.com/kiloan-app/kiloan/internal/tenant/domain"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// dedupTTL covers the gateway's longest retry window with slack. The
// database unique index is the real guard; redis only short-circuits.
const dedupTTL = 72 * time.Hour

type WebhookParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Repo     domain.Repository
	Bindings Bindings
	Redis    *redis.Client    `optional:"true"`
	Metrics  *metrics.Metrics `optional:"true"`
}

type webhookService struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	cfg      config.Config
	repo     domain.Repository
	bindings Bindings
	redis    *redis.Client
	metrics  *metrics.Metrics
}

func NewWebhookService(p WebhookParams) domain.WebhookService {
	return &webhookService{
		db:       p.DB,
		log:      p.Log.Named("payment.webhook"),
		genID:    p.GenID,
		clock:    p.Clock,
		cfg:      p.Cfg,
		repo:     p.Repo,
		bindings: p.Bindings,
		redis:    p.Redis,
		metrics:  p.Metrics,
	}
}

// HandleEvent drives one webhook delivery to a terminal outcome:
//
//	rejected                -> signature did not verify
//	duplicate               -> (provider, event_id) already recorded
//	ignored_non_success     -> status is not a settlement
//	ignored_payment_method  -> paid with something other than QRIS
//	unmatched_intent        -> reference matches no known intent
//	unmatched_owner         -> intent's owner row is gone
//	amount_mismatch         -> paid amount differs from the intent
//	accepted                -> payment credited exactly once
//
// Every outcome is persisted on the event row before it is returned, so
// a redelivery after a crash finds the decision already made.
func (s *webhookService) HandleEvent(ctx context.Context, provider string, payload []byte, signature string) (*domain.WebhookResult, error) {
	ev, err := webhook.Normalize(provider, payload)
	if err != nil {
		return nil, err
	}

	signed := webhook.VerifySignature(s.cfg.Gateway.WebhookSecret, payload, signature, !s.cfg.IsProduction())

	if s.seenInRedis(ctx, ev) {
		return s.finish(ctx, ev, domain.EventDuplicate), nil
	}

	now := s.clock.Now()
	row := &domain.PaymentEvent{
		ID:             s.genID.Generate(),
		Provider:       provider,
		EventID:        ev.EventID,
		Reference:      ev.Reference,
		ExternalStatus: ev.Status,
		Amount:         ev.Amount,
		PaymentMethod:  ev.PaymentMethod,
		Payload:        datatypes.JSON(payload),
		ProcessStatus:  domain.EventReceived,
		ReceivedAt:     now,
	}

	var outcome string
	err = s.db.Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertEvent(ctx, tx, row)
		if err != nil {
			return err
		}
		if !inserted {
			outcome = domain.EventDuplicate
			return nil
		}

		var note string
		outcome, note, err = s.reconcile(ctx, tx, ev, signed, now)
		if err != nil {
			return err
		}
		return s.repo.FinalizeEvent(ctx, tx, row.ID, outcome, note, now)
	})
	if err != nil {
		return nil, err
	}

	s.markInRedis(ctx, ev)
	return s.finish(ctx, ev, outcome), nil
}

// reconcile is the settlement state machine. The intent row lock is
// taken before the owner lock, everywhere, so webhook processing and
// intent issuance cannot deadlock each other.
func (s *webhookService) reconcile(ctx context.Context, tx *gorm.DB, ev *domain.NormalizedEvent, signed bool, now time.Time) (string, string, error) {
	if !signed {
		return domain.EventRejected, "signature verification failed", nil
	}

	intent, err := s.resolveIntent(ctx, tx, ev, now)
	if err != nil {
		return "", "", err
	}
	if intent == nil {
		return domain.EventUnmatchedIntent, "no intent for reference " + ev.Reference, nil
	}
	if !ev.Success() {
		return domain.EventIgnoredNonSuccess, "external status " + ev.Status, nil
	}
	if ev.PaymentMethod != "" && ev.PaymentMethod != "qris" {
		return domain.EventIgnoredPaymentMethod, "payment method " + ev.PaymentMethod, nil
	}
	if ev.Amount <= 0 {
		return domain.EventRejected, "invalid_amount", nil
	}
	if ev.Amount != intent.Amount {
		return domain.EventAmountMismatch,
			fmt.Sprintf("paid amount %d differs from intent %d", ev.Amount, intent.Amount), nil
	}
	if ev.Currency != "" && ev.Currency != intent.Currency {
		return domain.EventAmountMismatch, "invalid_currency " + ev.Currency, nil
	}
	if intent.Status == domain.IntentStatusPaid {
		// A second success for an already-settled intent carries a new
		// event id, usually a gateway-side replay with fresh metadata.
		return domain.EventDuplicate, "intent already settled", nil
	}

	binding, err := s.bindings.For(intent.OwnerType)
	if err != nil {
		return "", "", err
	}
	state, err := binding.Lock(ctx, tx, intent.TenantID, intent.OwnerID)
	if err != nil {
		return "", "", err
	}
	if state == nil {
		return domain.EventUnmatchedOwner, "owner row missing for intent " + intent.Reference, nil
	}
	if !state.Payable() {
		return domain.EventDuplicate, "owner already settled", nil
	}

	if err := s.repo.MarkIntentStatus(ctx, tx, intent.ID, domain.IntentStatusPaid, now); err != nil {
		return "", "", err
	}
	if err := state.Settle(ctx, tx, intent, ev, now); err != nil {
		return "", "", err
	}
	return domain.EventAccepted, "", nil
}

// resolveIntent matches by gateway reference first, then falls back to
// the subscription invoice number some gateway versions echo instead.
// Order numbers are only unique per outlet, so they never resolve here.
func (s *webhookService) resolveIntent(ctx context.Context, tx *gorm.DB, ev *domain.NormalizedEvent, now time.Time) (*domain.PaymentIntent, error) {
	if ev.Reference != "" {
		intent, err := s.repo.LockIntentByReference(ctx, tx, ev.Reference)
		if err != nil || intent != nil {
			return intent, err
		}
	}
	if ev.InvoiceNo == "" {
		return nil, nil
	}

	var invoice tenantdomain.SubscriptionInvoice
	err := tx.WithContext(ctx).
		Where("number = ?", ev.InvoiceNo).
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return s.repo.LockLatestUsableIntent(ctx, tx, domain.OwnerTypeSubscriptionInvoice, invoice.ID, now)
}

// seenInRedis is the replay fast path. The key is written only after a
// delivery reaches a terminal outcome, and redis being down or
// unconfigured fails open: the unique index in the database still holds
// the line.
func (s *webhookService) seenInRedis(ctx context.Context, ev *domain.NormalizedEvent) bool {
	if s.redis == nil {
		return false
	}
	n, err := s.redis.Exists(ctx, dedupKey(ev)).Result()
	if err != nil {
		s.log.Warn("webhook dedup cache unavailable", zap.Error(err))
		return false
	}
	return n > 0
}

func (s *webhookService) markInRedis(ctx context.Context, ev *domain.NormalizedEvent) {
	if s.redis == nil {
		return
	}
	if err := s.redis.SetNX(ctx, dedupKey(ev), 1, dedupTTL).Err(); err != nil {
		s.log.Warn("webhook dedup cache unavailable", zap.Error(err))
	}
}

func dedupKey(ev *domain.NormalizedEvent) string {
	return fmt.Sprintf("webhook:%s:%s", ev.Provider, ev.EventID)
}

func (s *webhookService) finish(ctx context.Context, ev *domain.NormalizedEvent, outcome string) *domain.WebhookResult {
	s.metrics.RecordWebhookEvent(ctx, ev.Provider, outcome)
	s.log.Info("webhook processed",
		zap.String("provider", ev.Provider),
		zap.String("event_id", ev.EventID),
		zap.String("reference", ev.Reference),
		zap.String("outcome", outcome),
	)
	return &domain.WebhookResult{Outcome: outcome, EventID: ev.EventID}
}
