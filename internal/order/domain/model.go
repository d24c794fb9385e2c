package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrOrderNotFound = errors.New("order_not_found")
	ErrInvalidAmount = errors.New("invalid_order_amount")
)

// Order is the billing-relevant subset of a laundry order. InvoiceNo is
// nil until assigned and unique within the owning outlet once set.
// DueAmount is always total minus paid and never negative.
type Order struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID    snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	OutletID    snowflake.ID `json:"outlet_id" gorm:"not null;uniqueIndex:ux_orders_outlet_invoice"`
	DeviceID    snowflake.ID `json:"device_id" gorm:"not null;index"`
	InvoiceNo   *string      `json:"invoice_no" gorm:"type:varchar(20);uniqueIndex:ux_orders_outlet_invoice"`
	TotalAmount int64        `json:"total_amount" gorm:"not null"`
	PaidAmount  int64        `json:"paid_amount" gorm:"not null;default:0"`
	DueAmount   int64        `json:"due_amount" gorm:"not null;default:0"`
	Status      string       `json:"status" gorm:"type:varchar(20);not null;default:open"`
	OrderedAt   time.Time    `json:"ordered_at" gorm:"not null"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

// Settled reports whether nothing is owed on the order.
func (o *Order) Settled() bool { return o.DueAmount <= 0 }

// OrderPayment is one credited payment against an order. Totals are
// always recomputed from this ledger, never incremented blindly.
type OrderPayment struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID  snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	OrderID   snowflake.ID `json:"order_id" gorm:"not null;index"`
	Amount    int64        `json:"amount" gorm:"not null"`
	Method    string       `json:"method" gorm:"type:varchar(30);not null"`
	Reference string       `json:"reference" gorm:"type:varchar(80)"`
	PaidAt    time.Time    `json:"paid_at" gorm:"not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (OrderPayment) TableName() string { return "order_payments" }
