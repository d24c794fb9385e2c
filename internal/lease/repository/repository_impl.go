package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kiloan-app/kiloan/internal/lease/domain"
	outletdomain "github.com/kiloan-app/kiloan/internal/outlet/domain"
	pkgdb "github.com/kiloan-app/kiloan/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// LockOutlet takes the (tenant, outlet) claim lock. Locking the outlet
// row instead of the lease rows also serializes the first claim of a
// fresh date, where no lease row exists to lock yet.
func (r *repo) LockOutlet(ctx context.Context, db *gorm.DB, tenantID, outletID snowflake.ID) (*outletdomain.Outlet, error) {
	var outlet outletdomain.Outlet
	err := pkgdb.ForUpdate(db.WithContext(ctx)).
		Where("tenant_id = ? AND id = ?", tenantID, outletID).
		First(&outlet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, outletdomain.ErrOutletNotFound
		}
		return nil, err
	}
	return &outlet, nil
}

// MaxToCounter returns the highest counter already promised for an
// outlet-day, 0 when the day is untouched. Callers must hold the outlet
// claim lock.
func (r *repo) MaxToCounter(ctx context.Context, db *gorm.DB, tenantID, outletID snowflake.ID, leaseDate string) (int, error) {
	var max int
	err := db.WithContext(ctx).
		Model(&domain.InvoiceLease{}).
		Select("COALESCE(MAX(to_counter), 0)").
		Where("tenant_id = ? AND outlet_id = ? AND lease_date = ?", tenantID, outletID, leaseDate).
		Scan(&max).Error
	return max, err
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, lease *domain.InvoiceLease) error {
	return db.WithContext(ctx).Create(lease).Error
}

// OldestUsable locks and returns the device's oldest lease that still
// has counters left and has not expired, or nil when none remains.
func (r *repo) OldestUsable(ctx context.Context, db *gorm.DB, tenantID, outletID, deviceID snowflake.ID, leaseDate string, now time.Time) (*domain.InvoiceLease, error) {
	var lease domain.InvoiceLease
	err := pkgdb.ForUpdate(db.WithContext(ctx)).
		Where("tenant_id = ? AND outlet_id = ? AND device_id = ? AND lease_date = ?",
			tenantID, outletID, deviceID, leaseDate).
		Where("next_counter <= to_counter AND expires_at > ?", now).
		Order("from_counter ASC").
		First(&lease).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lease, nil
}

// LeasesForDeviceDate lists every lease the device holds for a local
// date, exhausted or not. Used by the client-number validation path.
func (r *repo) LeasesForDeviceDate(ctx context.Context, db *gorm.DB, tenantID, outletID, deviceID snowflake.ID, leaseDate string) ([]domain.InvoiceLease, error) {
	var leases []domain.InvoiceLease
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND outlet_id = ? AND device_id = ? AND lease_date = ?",
			tenantID, outletID, deviceID, leaseDate).
		Order("from_counter ASC").
		Find(&leases).Error
	return leases, err
}

// ActiveLeases lists the device's usable leases for a local date.
func (r *repo) ActiveLeases(ctx context.Context, db *gorm.DB, tenantID, outletID, deviceID snowflake.ID, leaseDate string, now time.Time) ([]domain.InvoiceLease, error) {
	var leases []domain.InvoiceLease
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND outlet_id = ? AND device_id = ? AND lease_date = ?",
			tenantID, outletID, deviceID, leaseDate).
		Where("next_counter <= to_counter AND expires_at > ?", now).
		Order("from_counter ASC").
		Find(&leases).Error
	return leases, err
}

func (r *repo) AdvanceCursor(ctx context.Context, db *gorm.DB, id snowflake.ID, next int, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.InvoiceLease{}).
		Where("id = ?", id).
		Updates(map[string]any{"next_counter": next, "updated_at": now}).Error
}
