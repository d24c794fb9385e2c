package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrTenantNotFound        = errors.New("tenant_not_found")
	ErrWriteAccessRestricted = errors.New("write_access_restricted")
)

const (
	SubscriptionStateActive    = "active"
	SubscriptionStateSuspended = "suspended"
	SubscriptionStateExpired   = "expired"

	WriteAccessFull     = "full"
	WriteAccessReadOnly = "read_only"
)

// Tenant is the billing-relevant subset of a laundry business account.
type Tenant struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	Name              string       `json:"name" gorm:"type:text;not null"`
	PlanKey           string       `json:"plan_key" gorm:"type:varchar(50);not null"`
	SubscriptionState string       `json:"subscription_state" gorm:"type:varchar(20);not null;default:active"`
	WriteAccessMode   string       `json:"write_access_mode" gorm:"type:varchar(20);not null;default:full"`
	Currency          string       `json:"currency" gorm:"type:varchar(3);not null;default:IDR"`
	CreatedAt         time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time    `json:"updated_at" gorm:"not null"`
}

func (Tenant) TableName() string { return "tenants" }

// CanWrite reports whether metered writes are allowed for the tenant.
func (t *Tenant) CanWrite() bool {
	return t.SubscriptionState == SubscriptionStateActive && t.WriteAccessMode == WriteAccessFull
}

// Plan is a subscription plan. A nil OrdersLimit means unlimited orders.
type Plan struct {
	Key         string    `json:"key" gorm:"primaryKey;type:varchar(50)"`
	Name        string    `json:"name" gorm:"type:text;not null"`
	OrdersLimit *int64    `json:"orders_limit"`
	PriceAmount int64     `json:"price_amount" gorm:"not null;default:0"`
	Currency    string    `json:"currency" gorm:"type:varchar(3);not null;default:IDR"`
	CreatedAt   time.Time `json:"created_at" gorm:"not null"`
}

func (Plan) TableName() string { return "plans" }

// SubscriptionCycle is one paid period of a tenant subscription. Usage
// metering binds to the cycle covering "now" when one exists.
type SubscriptionCycle struct {
	ID                  snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID            snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	PlanKey             string       `json:"plan_key" gorm:"type:varchar(50);not null"`
	StartAt             time.Time    `json:"start_at" gorm:"not null"`
	EndAt               time.Time    `json:"end_at" gorm:"not null"`
	OrdersLimitSnapshot *int64       `json:"orders_limit_snapshot"`
	Status              string       `json:"status" gorm:"type:varchar(20);not null;default:active"`
	CreatedAt           time.Time    `json:"created_at" gorm:"not null"`
}

func (SubscriptionCycle) TableName() string { return "subscription_cycles" }

// Covers reports whether the cycle window contains the given instant.
func (c *SubscriptionCycle) Covers(at time.Time) bool {
	return !at.Before(c.StartAt) && !at.After(c.EndAt)
}

const (
	InvoiceStatusIssued              = "issued"
	InvoiceStatusPendingVerification = "pending_verification"
	InvoiceStatusOverdue             = "overdue"
	InvoiceStatusPaid                = "paid"
	InvoiceStatusCancelled           = "cancelled"

	PaymentMethodBriQris = "bri_qris"
	PaymentMethodManual  = "manual"

	GatewayStatusIntentCreated = "intent_created"
	GatewayStatusSettled       = "settled"
)

// SubscriptionInvoice bills a tenant for one subscription cycle.
type SubscriptionInvoice struct {
	ID               snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID         snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	CycleID          snowflake.ID `json:"cycle_id" gorm:"not null;index"`
	Number           string       `json:"number" gorm:"type:varchar(40);not null;uniqueIndex"`
	AmountTotal      int64        `json:"amount_total" gorm:"not null"`
	Currency         string       `json:"currency" gorm:"type:varchar(3);not null;default:IDR"`
	Status           string       `json:"status" gorm:"type:varchar(30);not null;default:issued"`
	PaymentMethod    string       `json:"payment_method" gorm:"type:varchar(30);not null;default:bri_qris"`
	GatewayStatus    string       `json:"gateway_status" gorm:"type:varchar(30)"`
	DueAt            *time.Time   `json:"due_at"`
	PaidAt           *time.Time   `json:"paid_at"`
	VerifiedBy       string       `json:"verified_by" gorm:"type:text"`
	VerificationNote string       `json:"verification_note" gorm:"type:text"`
	CreatedAt        time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time    `json:"updated_at" gorm:"not null"`
}

func (SubscriptionInvoice) TableName() string { return "subscription_invoices" }

// Payable reports whether the invoice can still take a payment intent.
func (i *SubscriptionInvoice) Payable() bool {
	switch i.Status {
	case InvoiceStatusPaid, InvoiceStatusCancelled:
		return false
	default:
		return true
	}
}
