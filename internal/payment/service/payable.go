package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/kiloan-app/kiloan/internal/order/domain"
	"github.com/kiloan-app/kiloan/internal/payment/domain"
	tenantdomain "github.com/kiloan-app/kiloan/internal/tenant/domain"
	pkgdb "github.com/kiloan-app/kiloan/pkg/db"
	"gorm.io/gorm"
)

// PayableBinding adapts one owner kind (laundry order or subscription
// invoice) to intent issuance and webhook settlement, so both flow
// through the same state machine.
type PayableBinding interface {
	OwnerType() string
	// Lock row-locks the owner inside tx. Returns (nil, nil) when the
	// owner does not exist; settlement records that as unmatched.
	Lock(ctx context.Context, tx *gorm.DB, tenantID, ownerID snowflake.ID) (PayableState, error)
}

// PayableState is the locked owner during one issuance or settlement.
type PayableState interface {
	Payable() bool
	AmountDue() int64
	Currency() string
	// Deadline is the owner's hard due date, nil when it has none.
	// Intents never outlive it.
	Deadline() *time.Time
	// Label feeds the readable chunk of the intent reference.
	Label() string
	MarkIntentCreated(ctx context.Context, tx *gorm.DB, now time.Time) error
	Settle(ctx context.Context, tx *gorm.DB, intent *domain.PaymentIntent, ev *domain.NormalizedEvent, now time.Time) error
}

// Bindings resolves the binding for an owner type.
type Bindings map[string]PayableBinding

func (b Bindings) For(ownerType string) (PayableBinding, error) {
	binding, ok := b[ownerType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOwnerTypeUnknown, ownerType)
	}
	return binding, nil
}

func NewBindings(orderRepo orderdomain.Repository) Bindings {
	return Bindings{
		domain.OwnerTypeOrder:               &orderBinding{repo: orderRepo},
		domain.OwnerTypeSubscriptionInvoice: &invoiceBinding{},
	}
}

type orderBinding struct {
	repo orderdomain.Repository
}

func (b *orderBinding) OwnerType() string { return domain.OwnerTypeOrder }

func (b *orderBinding) Lock(ctx context.Context, tx *gorm.DB, tenantID, ownerID snowflake.ID) (PayableState, error) {
	order, err := b.repo.LockByID(ctx, tx, tenantID, ownerID)
	if err != nil {
		if errors.Is(err, orderdomain.ErrOrderNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &orderState{repo: b.repo, order: order}, nil
}

type orderState struct {
	repo  orderdomain.Repository
	order *orderdomain.Order
}

func (s *orderState) Payable() bool        { return !s.order.Settled() }
func (s *orderState) AmountDue() int64     { return s.order.DueAmount }
func (s *orderState) Currency() string     { return "IDR" }
func (s *orderState) Deadline() *time.Time { return nil }

func (s *orderState) Label() string {
	if s.order.InvoiceNo != nil {
		return *s.order.InvoiceNo
	}
	return fmt.Sprintf("order-%d", s.order.ID.Int64())
}

func (s *orderState) MarkIntentCreated(context.Context, *gorm.DB, time.Time) error {
	return nil
}

// Settle credits the ledger row and recomputes totals; partial payments
// leave the order open with a reduced due amount. The credit is capped
// at the amount still due, so a stale intent can never overpay.
func (s *orderState) Settle(ctx context.Context, tx *gorm.DB, intent *domain.PaymentIntent, ev *domain.NormalizedEvent, now time.Time) error {
	paidAt := now
	if ev.PaidAt != nil {
		paidAt = *ev.PaidAt
	}
	credit := intent.Amount
	if s.order.DueAmount < credit {
		credit = s.order.DueAmount
	}
	payment := &orderdomain.OrderPayment{
		ID:        intent.ID,
		TenantID:  s.order.TenantID,
		OrderID:   s.order.ID,
		Amount:    credit,
		Method:    tenantdomain.PaymentMethodBriQris,
		Reference: intent.Reference,
		PaidAt:    paidAt,
		CreatedAt: now,
	}
	if err := s.repo.InsertPayment(ctx, tx, payment); err != nil {
		return err
	}
	if err := s.repo.RecomputeTotals(ctx, tx, s.order, now); err != nil {
		return err
	}
	if s.order.Settled() {
		return tx.WithContext(ctx).
			Model(&orderdomain.Order{}).
			Where("id = ?", s.order.ID).
			Updates(map[string]any{"status": "paid", "updated_at": now}).Error
	}
	return nil
}

type invoiceBinding struct{}

func (b *invoiceBinding) OwnerType() string { return domain.OwnerTypeSubscriptionInvoice }

func (b *invoiceBinding) Lock(ctx context.Context, tx *gorm.DB, tenantID, ownerID snowflake.ID) (PayableState, error) {
	var invoice tenantdomain.SubscriptionInvoice
	err := pkgdb.ForUpdate(tx.WithContext(ctx)).
		Where("tenant_id = ? AND id = ?", tenantID, ownerID).
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoiceState{invoice: &invoice}, nil
}

type invoiceState struct {
	invoice *tenantdomain.SubscriptionInvoice
}

func (s *invoiceState) Payable() bool        { return s.invoice.Payable() }
func (s *invoiceState) AmountDue() int64     { return s.invoice.AmountTotal }
func (s *invoiceState) Currency() string     { return s.invoice.Currency }
func (s *invoiceState) Deadline() *time.Time { return s.invoice.DueAt }
func (s *invoiceState) Label() string        { return s.invoice.Number }

func (s *invoiceState) MarkIntentCreated(ctx context.Context, tx *gorm.DB, now time.Time) error {
	return tx.WithContext(ctx).
		Model(&tenantdomain.SubscriptionInvoice{}).
		Where("id = ?", s.invoice.ID).
		Updates(map[string]any{
			"gateway_status": tenantdomain.GatewayStatusIntentCreated,
			"updated_at":     now,
		}).Error
}

// Settle marks the invoice paid and lifts the write restriction the
// unpaid invoice imposed on the tenant.
func (s *invoiceState) Settle(ctx context.Context, tx *gorm.DB, intent *domain.PaymentIntent, ev *domain.NormalizedEvent, now time.Time) error {
	paidAt := now
	if ev.PaidAt != nil {
		paidAt = *ev.PaidAt
	}
	err := tx.WithContext(ctx).
		Model(&tenantdomain.SubscriptionInvoice{}).
		Where("id = ?", s.invoice.ID).
		Updates(map[string]any{
			"status":         tenantdomain.InvoiceStatusPaid,
			"gateway_status": tenantdomain.GatewayStatusSettled,
			"paid_at":        paidAt,
			"verified_by":    "gateway:" + intent.Provider,
			"updated_at":     now,
		}).Error
	if err != nil {
		return err
	}
	return tx.WithContext(ctx).
		Model(&tenantdomain.Tenant{}).
		Where("id = ? AND subscription_state IN ?", s.invoice.TenantID,
			[]string{tenantdomain.SubscriptionStateSuspended, tenantdomain.SubscriptionStateExpired}).
		Updates(map[string]any{
			"subscription_state": tenantdomain.SubscriptionStateActive,
			"write_access_mode":  tenantdomain.WriteAccessFull,
			"updated_at":         now,
		}).Error
}
