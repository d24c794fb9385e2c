package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Service meters per-tenant order capacity. The check and the increment
// share one row lock so concurrent order intakes can never jointly pass
// the limit.
type Service interface {
	WithTx(tx *gorm.DB) Service
	// ConsumeOrderSlot atomically checks and increments usage for the
	// resolved scope. An empty period defaults to the current YYYY-MM.
	ConsumeOrderSlot(ctx context.Context, tenantID snowflake.ID, period string) (*QuotaView, error)
	// Snapshot reads the same resolution without consuming.
	Snapshot(ctx context.Context, tenantID snowflake.ID, period string) (*QuotaView, error)
}
