package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the intent and event store.
type Repository interface {
	InsertIntent(ctx context.Context, db *gorm.DB, intent *PaymentIntent) error
	// FindReusableIntent returns a usable intent for the owner with the
	// given amount, or nil. Issuance reuses it instead of double charging.
	FindReusableIntent(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, ownerType string, ownerID snowflake.ID, amount int64, now time.Time) (*PaymentIntent, error)
	// LockIntentByReference takes the settlement row lock, nil when the
	// reference matches no intent.
	LockIntentByReference(ctx context.Context, db *gorm.DB, reference string) (*PaymentIntent, error)
	// LockLatestUsableIntent locks the owner's newest live intent, nil
	// when the owner has none. Fallback resolution for webhooks that
	// carry an invoice number instead of the gateway reference.
	LockLatestUsableIntent(ctx context.Context, db *gorm.DB, ownerType string, ownerID snowflake.ID, now time.Time) (*PaymentIntent, error)
	MarkIntentStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, now time.Time) error
	// ExpireStaleIntents flips created/ready intents past expiry to
	// expired and returns how many rows changed.
	ExpireStaleIntents(ctx context.Context, db *gorm.DB, now time.Time, limit int) (int64, error)
	StaleIntents(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]PaymentIntent, error)

	// InsertEvent inserts the delivery record once. Returns false when a
	// row for (provider, event_id) already exists.
	InsertEvent(ctx context.Context, db *gorm.DB, event *PaymentEvent) (bool, error)
	// FinalizeEvent stamps the terminal process status exactly once.
	FinalizeEvent(ctx context.Context, db *gorm.DB, id snowflake.ID, status, note string, processedAt time.Time) error
}

// CreateIntentRequest asks for a QRIS intent against one owner.
// Amount 0 charges the full amount still due; a positive amount issues
// a partial intent and must not exceed what is due. ForceNew skips the
// reuse of a live intent, for terminals that want a fresh QR code.
// ExpiryMinutes 0 uses the operator default; all values clamp to the
// gateway's [15, 1440] minute window and to the owner's hard due date
// when it has one.
type CreateIntentRequest struct {
	TenantID      snowflake.ID
	OwnerType     string
	OwnerID       snowflake.ID
	Amount        int64
	ForceNew      bool
	ExpiryMinutes int
}

// IntentService issues and expires payment intents.
type IntentService interface {
	CreateQrisIntent(ctx context.Context, req CreateIntentRequest) (*PaymentIntent, error)
	ExpireStale(ctx context.Context) (int64, error)
}

// WebhookResult is what the HTTP layer reports back to the gateway.
type WebhookResult struct {
	Outcome string `json:"outcome"`
	EventID string `json:"event_id,omitempty"`
}

// WebhookService reconciles inbound gateway notifications.
type WebhookService interface {
	// HandleEvent drives one delivery through the dedup guard and the
	// settlement state machine. It returns a terminal outcome for every
	// payload; transport-level retries get the same answer again.
	HandleEvent(ctx context.Context, provider string, payload []byte, signature string) (*WebhookResult, error)
}
