package reconcile

import (
	"context"

	"github.com/kiloan-app/kiloan/internal/clock"
	"github.com/kiloan-app/kiloan/internal/config"
	"github.com/kiloan-app/kiloan/internal/payment/domain"
	"github.com/kiloan-app/kiloan/internal/payment/service"
	tenantdomain "github.com/kiloan-app/kiloan/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Report summarizes one reconciliation sweep.
type Report struct {
	DryRun     bool  `json:"dry_run"`
	Scanned    int64 `json:"scanned"`
	Updated    int64 `json:"updated"`
	Mismatched int64 `json:"mismatched"`
}

// Sweeper is the self-healing pass against webhook delivery loss: it
// scans subscription invoices stuck before settlement and replays the
// settlement of their latest accepted event.
type Sweeper interface {
	Sweep(ctx context.Context, dryRun bool) (*Report, error)
}

type SweeperParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Holder   *config.BillingConfigHolder
	Repo     domain.Repository
	Bindings service.Bindings
}

type sweeper struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	holder   *config.BillingConfigHolder
	repo     domain.Repository
	bindings service.Bindings
}

func NewSweeper(p SweeperParams) Sweeper {
	return &sweeper{
		db:       p.DB,
		log:      p.Log.Named("payment.sweep"),
		clock:    p.Clock,
		holder:   p.Holder,
		repo:     p.Repo,
		bindings: p.Bindings,
	}
}

// latestSettledEventSQL finds the most recent event that settled (or
// re-confirmed) any intent owned by the invoice.
const latestSettledEventSQL = `
SELECT pe.*
FROM payment_events pe
JOIN payment_intents pi ON pi.reference = pe.reference
WHERE pi.owner_type = ?
  AND pi.owner_id = ?
  AND pe.process_status IN (?, ?)
ORDER BY pe.received_at DESC
LIMIT 1`

func (s *sweeper) Sweep(ctx context.Context, dryRun bool) (*Report, error) {
	batch := s.holder.Get().SweepBatchSize
	report := &Report{DryRun: dryRun}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var stuck []tenantdomain.SubscriptionInvoice
		err := tx.WithContext(ctx).
			Where("status IN ? AND payment_method = ?",
				[]string{
					tenantdomain.InvoiceStatusIssued,
					tenantdomain.InvoiceStatusPendingVerification,
					tenantdomain.InvoiceStatusOverdue,
				},
				tenantdomain.PaymentMethodBriQris,
			).
			Order("created_at").
			Limit(batch).
			Find(&stuck).Error
		if err != nil {
			return err
		}
		report.Scanned = int64(len(stuck))

		for i := range stuck {
			if err := s.replay(ctx, tx, &stuck[i], dryRun, report); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("reconcile sweep finished",
		zap.Bool("dry_run", report.DryRun),
		zap.Int64("scanned", report.Scanned),
		zap.Int64("updated", report.Updated),
		zap.Int64("mismatched", report.Mismatched),
	)
	return report, nil
}

// replay settles one stuck invoice from its recorded webhook evidence.
// The lock order matches the live webhook path: intent row first, owner
// row second.
func (s *sweeper) replay(ctx context.Context, tx *gorm.DB, invoice *tenantdomain.SubscriptionInvoice, dryRun bool, report *Report) error {
	var ev domain.PaymentEvent
	res := tx.WithContext(ctx).Raw(latestSettledEventSQL,
		domain.OwnerTypeSubscriptionInvoice,
		invoice.ID,
		domain.EventAccepted, domain.EventDuplicate,
	).Scan(&ev)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}
	if ev.Amount != 0 && ev.Amount != invoice.AmountTotal {
		report.Mismatched++
		return nil
	}
	if dryRun {
		report.Updated++
		return nil
	}

	intent, err := s.repo.LockIntentByReference(ctx, tx, ev.Reference)
	if err != nil {
		return err
	}
	if intent == nil {
		return nil
	}
	binding, err := s.bindings.For(intent.OwnerType)
	if err != nil {
		return err
	}
	state, err := binding.Lock(ctx, tx, intent.TenantID, intent.OwnerID)
	if err != nil {
		return err
	}
	if state == nil || !state.Payable() {
		return nil
	}

	now := s.clock.Now()
	if intent.Status != domain.IntentStatusPaid {
		if err := s.repo.MarkIntentStatus(ctx, tx, intent.ID, domain.IntentStatusPaid, now); err != nil {
			return err
		}
	}
	normalized := &domain.NormalizedEvent{
		Provider:      ev.Provider,
		EventID:       ev.EventID,
		Reference:     ev.Reference,
		Status:        ev.ExternalStatus,
		Amount:        ev.Amount,
		PaymentMethod: ev.PaymentMethod,
		PaidAt:        ev.ProcessedAt,
		Raw:           ev.Payload,
	}
	if err := state.Settle(ctx, tx, intent, normalized, now); err != nil {
		return err
	}
	report.Updated++

	s.log.Info("stuck invoice settled from recorded event",
		zap.Int64("invoice_id", invoice.ID.Int64()),
		zap.String("event_id", ev.EventID),
		zap.String("reference", ev.Reference),
	)
	return nil
}
