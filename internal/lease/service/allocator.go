package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kiloan-app/kiloan/internal/clock"
	"github.com/kiloan-app/kiloan/internal/config"
	"github.com/kiloan-app/kiloan/internal/lease/domain"
	"github.com/kiloan-app/kiloan/internal/lease/format"
	"github.com/kiloan-app/kiloan/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// leaseGraceDays keeps a lease usable through the end of the second day
// after its lease date, so a terminal that went offline overnight can
// still burn down its range.
const leaseGraceDays = 2

type AllocatorParams struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Cfg     *config.BillingConfigHolder
	Repo    domain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type allocator struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	cfg     *config.BillingConfigHolder
	repo    domain.Repository
	metrics *metrics.Metrics
}

func NewAllocator(p AllocatorParams) domain.Allocator {
	return &allocator{
		db:      p.DB,
		log:     p.Log.Named("lease.allocator"),
		genID:   p.GenID,
		clock:   p.Clock,
		cfg:     p.Cfg,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

// ClaimRanges reserves a contiguous counter range per requested date.
// The outlet row lock serializes concurrent claims, so the running max
// of to_counter is stable for the whole batch. Any overflow rolls the
// entire batch back.
func (s *allocator) ClaimRanges(ctx context.Context, tenantID, outletID, deviceID snowflake.ID, requests []domain.ClaimRequest) ([]domain.InvoiceLease, error) {
	if len(requests) == 0 {
		return nil, domain.ErrEmptyClaim
	}

	now := s.clock.Now()
	defaultSpan := s.cfg.Get().DefaultLeaseSpan

	var leases []domain.InvoiceLease
	err := s.db.Transaction(func(tx *gorm.DB) error {
		outlet, err := s.repo.LockOutlet(ctx, tx, tenantID, outletID)
		if err != nil {
			return err
		}
		loc := outlet.Location()

		for _, req := range requests {
			count := req.Count
			if count <= 0 {
				count = defaultSpan
			}

			// The claim names a calendar day. Anchoring it to the outlet's
			// midnight keeps a UTC-parsed date on that same local day.
			y, m, d := req.Date.Date()
			localDate := time.Date(y, m, d, 0, 0, 0, 0, loc)
			dateKey := localDate.Format("2006-01-02")

			max, err := s.repo.MaxToCounter(ctx, tx, tenantID, outletID, dateKey)
			if err != nil {
				return err
			}
			from := max + 1
			if from > format.MaxCounter {
				return fmt.Errorf("%w: outlet day %s is full", domain.ErrCounterOverflow, dateKey)
			}
			to := from + count - 1
			if to > format.MaxCounter {
				to = format.MaxCounter
			}

			lease := domain.InvoiceLease{
				ID:          s.genID.Generate(),
				TenantID:    tenantID,
				OutletID:    outletID,
				DeviceID:    deviceID,
				LeaseDate:   dateKey,
				Prefix:      format.Prefix(outlet.Code, localDate),
				FromCounter: from,
				ToCounter:   to,
				NextCounter: from,
				ExpiresAt:   endOfDayAfter(localDate, leaseGraceDays, loc),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := s.repo.Insert(ctx, tx, &lease); err != nil {
				return err
			}
			leases = append(leases, lease)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLeaseClaims(ctx, int64(len(leases)))
	s.log.Info("leases claimed",
		zap.Int64("tenant_id", tenantID.Int64()),
		zap.Int64("outlet_id", outletID.Int64()),
		zap.Int64("device_id", deviceID.Int64()),
		zap.Int("count", len(leases)),
	)
	return leases, nil
}

// ActiveLeases lists the device's still-usable leases for one local date.
func (s *allocator) ActiveLeases(ctx context.Context, tenantID, outletID, deviceID snowflake.ID, localDate time.Time) ([]domain.InvoiceLease, error) {
	dateKey := localDate.Format("2006-01-02")
	return s.repo.ActiveLeases(ctx, s.db, tenantID, outletID, deviceID, dateKey, s.clock.Now())
}

// endOfDayAfter returns midnight at the start of localDate+days+1 in
// loc, i.e. the instant the lease stops being usable.
func endOfDayAfter(localDate time.Time, days int, loc *time.Location) time.Time {
	y, m, d := localDate.Date()
	return time.Date(y, m, d+days+1, 0, 0, 0, 0, loc)
}
