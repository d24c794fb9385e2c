package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Allocator claims counter ranges for devices.
type Allocator interface {
	// ClaimRanges reserves capacity for every requested date in one
	// transaction. If any date cannot be satisfied the whole batch is
	// rejected.
	ClaimRanges(ctx context.Context, tenantID, outletID, deviceID snowflake.ID, requests []ClaimRequest) ([]InvoiceLease, error)
	// ActiveLeases lists the device's usable leases for one local date.
	ActiveLeases(ctx context.Context, tenantID, outletID, deviceID snowflake.ID, localDate time.Time) ([]InvoiceLease, error)
}

// Resolver turns a lease (or a client-declared number) into a validated
// invoice number for an order.
type Resolver interface {
	WithTx(tx *gorm.DB) Resolver
	ValidateOrAssign(ctx context.Context, req AssignRequest) (Assignment, error)
}

// AssignRequest carries everything the resolver needs. OrderTime is
// interpreted in the outlet's timezone to pick the local date.
type AssignRequest struct {
	TenantID        snowflake.ID
	OutletID        snowflake.ID
	DeviceID        snowflake.ID
	OrderTime       time.Time
	ClientInvoiceNo string
}
