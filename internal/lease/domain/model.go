package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrCounterOverflow     = errors.New("counter_overflow")
	ErrInvoiceRangeInvalid = errors.New("invoice_range_invalid")
	ErrEmptyClaim          = errors.New("empty_lease_claim")
)

// InvoiceLease reserves a contiguous counter range for one
// outlet+device+local-date. Ranges for the same outlet and date never
// overlap; the allocator takes the running max of to_counter under lock
// before inserting a new lease.
//
// Invariant: from_counter <= next_counter <= to_counter + 1, and
// to_counter <= 9999. A lease with next_counter > to_counter is
// exhausted; one past expires_at is unusable. Leases are never deleted.
type InvoiceLease struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID    snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	OutletID    snowflake.ID `json:"outlet_id" gorm:"not null;index:ix_leases_outlet_date"`
	DeviceID    snowflake.ID `json:"device_id" gorm:"not null;index"`
	LeaseDate   string       `json:"lease_date" gorm:"type:varchar(10);not null;index:ix_leases_outlet_date"`
	Prefix      string       `json:"prefix" gorm:"type:varchar(20);not null"`
	FromCounter int          `json:"from_counter" gorm:"not null"`
	ToCounter   int          `json:"to_counter" gorm:"not null"`
	NextCounter int          `json:"next_counter" gorm:"not null"`
	ExpiresAt   time.Time    `json:"expires_at" gorm:"not null"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null"`
}

func (InvoiceLease) TableName() string { return "invoice_leases" }

// Usable reports whether the lease can still hand out counters.
func (l *InvoiceLease) Usable(now time.Time) bool {
	return l.NextCounter <= l.ToCounter && now.Before(l.ExpiresAt)
}

// Contains reports whether a counter falls inside the lease range.
func (l *InvoiceLease) Contains(counter int) bool {
	return counter >= l.FromCounter && counter <= l.ToCounter
}

// ClaimRequest asks for counter capacity on one local date.
type ClaimRequest struct {
	Date  time.Time
	Count int
}

// Assignment is the resolver outcome. InvoiceNo is empty when the
// device's leases for the day are exhausted and a new claim is needed.
// Assigned is true only when the engine picked the number itself.
type Assignment struct {
	InvoiceNo string
	Assigned  bool
}
