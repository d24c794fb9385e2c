package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrIntentNotFound      = errors.New("payment_intent_not_found")
	ErrIntentAmountZero    = errors.New("payment_intent_amount_zero")
	ErrIntentAmountInvalid = errors.New("payment_intent_amount_invalid")
	ErrOwnerNotPayable     = errors.New("payment_owner_not_payable")
	ErrOwnerTypeUnknown    = errors.New("payment_owner_type_unknown")
	ErrGatewayUnavailable  = errors.New("payment_gateway_unavailable")
	ErrMalformedPayload    = errors.New("webhook_payload_malformed")
)

const (
	ProviderBriQris   = "bri_qris"
	ProviderSimulated = "simulated"

	OwnerTypeOrder               = "order"
	OwnerTypeSubscriptionInvoice = "subscription_invoice"

	IntentStatusCreated = "created"
	IntentStatusReady   = "ready"
	IntentStatusPaid    = "paid"
	IntentStatusExpired = "expired"
)

// PaymentIntent is one QRIS charge attempt against an owner, either a
// laundry order or a subscription invoice. Reference is the key the
// gateway echoes back in webhooks and is unique across all intents.
type PaymentIntent struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID        snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	OwnerType       string       `json:"owner_type" gorm:"type:varchar(30);not null;index:ix_intents_owner"`
	OwnerID         snowflake.ID `json:"owner_id" gorm:"not null;index:ix_intents_owner"`
	Provider        string       `json:"provider" gorm:"type:varchar(20);not null"`
	Reference       string       `json:"reference" gorm:"type:varchar(80);not null;uniqueIndex"`
	Amount          int64        `json:"amount" gorm:"not null"`
	Currency        string       `json:"currency" gorm:"type:varchar(3);not null;default:IDR"`
	QRPayload       string       `json:"qr_payload" gorm:"type:text"`
	GatewayIntentID string       `json:"gateway_intent_id" gorm:"type:varchar(80)"`
	Status          string       `json:"status" gorm:"type:varchar(20);not null;default:created"`
	ExpiresAt       time.Time    `json:"expires_at" gorm:"not null"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time    `json:"updated_at" gorm:"not null"`
}

func (PaymentIntent) TableName() string { return "payment_intents" }

// Usable reports whether the intent can still be paid or reused.
func (i *PaymentIntent) Usable(now time.Time) bool {
	switch i.Status {
	case IntentStatusCreated, IntentStatusReady:
		return now.Before(i.ExpiresAt)
	default:
		return false
	}
}

// Terminal process statuses for webhook events. Every received event
// ends in exactly one of these.
const (
	EventReceived             = "received"
	EventAccepted             = "accepted"
	EventDuplicate            = "duplicate"
	EventRejected             = "rejected"
	EventIgnoredNonSuccess    = "ignored_non_success"
	EventIgnoredPaymentMethod = "ignored_payment_method"
	EventUnmatchedIntent      = "unmatched_intent"
	EventUnmatchedOwner       = "unmatched_owner"
	EventAmountMismatch       = "amount_mismatch"
)

// PaymentEvent is the durable record of one inbound webhook delivery.
// The (provider, event_id) unique index is the exactly-once guard: the
// first insert wins, replays see zero rows affected.
type PaymentEvent struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider       string         `json:"provider" gorm:"type:varchar(20);not null;uniqueIndex:ux_payment_events_provider_event"`
	EventID        string         `json:"event_id" gorm:"type:varchar(120);not null;uniqueIndex:ux_payment_events_provider_event"`
	Reference      string         `json:"reference" gorm:"type:varchar(80);index"`
	ExternalStatus string         `json:"external_status" gorm:"type:varchar(40)"`
	Amount         int64          `json:"amount"`
	PaymentMethod  string         `json:"payment_method" gorm:"type:varchar(30)"`
	Payload        datatypes.JSON `json:"payload"`
	ProcessStatus  string         `json:"process_status" gorm:"type:varchar(30);not null;default:received"`
	ProcessNote    string         `json:"process_note" gorm:"type:text"`
	ReceivedAt     time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt    *time.Time     `json:"processed_at"`
}

func (PaymentEvent) TableName() string { return "payment_events" }

// NormalizedEvent is the provider-agnostic view of a webhook payload
// after path probing. Zero fields mean the payload did not carry them.
type NormalizedEvent struct {
	Provider      string
	EventID       string
	Reference     string
	Status        string
	Amount        int64
	Currency      string
	InvoiceNo     string
	PaymentMethod string
	PaidAt        *time.Time
	Raw           []byte
}

// Success reports whether the external status maps to a settled payment.
func (e *NormalizedEvent) Success() bool {
	switch e.Status {
	case "success", "paid", "settled", "settlement", "completed", "00":
		return true
	default:
		return false
	}
}
