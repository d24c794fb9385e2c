package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the order store used by order intake and settlement.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Order, error)
	// LockByID takes the settlement row lock on the order.
	LockByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Order, error)
	// InvoiceNoExists reports whether a number is already used at the outlet.
	InvoiceNoExists(ctx context.Context, db *gorm.DB, outletID snowflake.ID, invoiceNo string) (bool, error)
	// UsedCountersByPrefix returns the counters already taken at an
	// outlet for one lease prefix, including externally injected numbers.
	UsedCountersByPrefix(ctx context.Context, db *gorm.DB, outletID snowflake.ID, prefix string) (map[int]bool, error)
	InsertPayment(ctx context.Context, db *gorm.DB, payment *OrderPayment) error
	// RecomputeTotals recalculates paid and due amounts from the payment
	// ledger while the order row lock is held.
	RecomputeTotals(ctx context.Context, db *gorm.DB, order *Order, now time.Time) error
}

// Service is the order intake flow exposed to the outer CRUD layers.
type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
}

// CreateOrderRequest carries the billing-relevant intake fields.
// ClientInvoiceNo, when set, is validated but never auto-corrected.
type CreateOrderRequest struct {
	TenantID        snowflake.ID
	OutletID        snowflake.ID
	DeviceID        snowflake.ID
	TotalAmount     int64
	OrderedAt       time.Time
	ClientInvoiceNo string
}
