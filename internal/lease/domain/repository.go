package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	outletdomain "github.com/kiloan-app/kiloan/internal/outlet/domain"
	"gorm.io/gorm"
)

// Repository is the lease store. Methods take the transaction handle so
// the allocator and resolver control transaction boundaries.
type Repository interface {
	LockOutlet(ctx context.Context, db *gorm.DB, tenantID, outletID snowflake.ID) (*outletdomain.Outlet, error)
	MaxToCounter(ctx context.Context, db *gorm.DB, tenantID, outletID snowflake.ID, leaseDate string) (int, error)
	Insert(ctx context.Context, db *gorm.DB, lease *InvoiceLease) error
	OldestUsable(ctx context.Context, db *gorm.DB, tenantID, outletID, deviceID snowflake.ID, leaseDate string, now time.Time) (*InvoiceLease, error)
	LeasesForDeviceDate(ctx context.Context, db *gorm.DB, tenantID, outletID, deviceID snowflake.ID, leaseDate string) ([]InvoiceLease, error)
	ActiveLeases(ctx context.Context, db *gorm.DB, tenantID, outletID, deviceID snowflake.ID, leaseDate string, now time.Time) ([]InvoiceLease, error)
	AdvanceCursor(ctx context.Context, db *gorm.DB, id snowflake.ID, next int, now time.Time) error
}
