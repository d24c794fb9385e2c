package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiloan-app/kiloan/internal/clock"
	"github.com/kiloan-app/kiloan/internal/lease/domain"
	"github.com/kiloan-app/kiloan/internal/lease/format"
	orderdomain "github.com/kiloan-app/kiloan/internal/order/domain"
	outletdomain "github.com/kiloan-app/kiloan/internal/outlet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ResolverParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Repo      domain.Repository
	OrderRepo orderdomain.Repository
}

type resolver struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	repo      domain.Repository
	orderRepo orderdomain.Repository
}

func NewResolver(p ResolverParams) domain.Resolver {
	return &resolver{
		db:        p.DB,
		log:       p.Log.Named("lease.resolver"),
		clock:     p.Clock,
		repo:      p.Repo,
		orderRepo: p.OrderRepo,
	}
}

// WithTx rebinds the resolver to a caller-owned transaction so order
// intake can fail the whole order when assignment fails.
func (s *resolver) WithTx(tx *gorm.DB) domain.Resolver {
	return &resolver{
		db:        tx,
		log:       s.log,
		clock:     s.clock,
		repo:      s.repo,
		orderRepo: s.orderRepo,
	}
}

// ValidateOrAssign resolves the invoice number for an order. A
// client-declared number is validated against the grammar, the outlet,
// the local date, the device's leases and uniqueness, and is never
// auto-corrected. Otherwise the oldest usable lease hands out its next
// free counter, skipping counters already burned by external numbers.
func (s *resolver) ValidateOrAssign(ctx context.Context, req domain.AssignRequest) (domain.Assignment, error) {
	var outlet outletdomain.Outlet
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", req.TenantID, req.OutletID).
		First(&outlet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Assignment{}, outletdomain.ErrOutletNotFound
		}
		return domain.Assignment{}, err
	}

	localDate := req.OrderTime.In(outlet.Location())
	dateKey := localDate.Format("2006-01-02")

	if req.ClientInvoiceNo != "" {
		return s.validateClientNumber(ctx, req, &outlet, dateKey)
	}
	return s.assignFromLease(ctx, req, &outlet, dateKey)
}

func (s *resolver) validateClientNumber(ctx context.Context, req domain.AssignRequest, outlet *outletdomain.Outlet, dateKey string) (domain.Assignment, error) {
	parsed, err := format.Parse(req.ClientInvoiceNo)
	if err != nil {
		return domain.Assignment{}, fmt.Errorf("%w: %v", domain.ErrInvoiceRangeInvalid, err)
	}
	if parsed.OutletCode != outlet.Code {
		return domain.Assignment{}, fmt.Errorf("%w: outlet code %s does not match %s",
			domain.ErrInvoiceRangeInvalid, parsed.OutletCode, outlet.Code)
	}
	localDate := req.OrderTime.In(outlet.Location())
	if parsed.DateToken != format.DateToken(localDate) {
		return domain.Assignment{}, fmt.Errorf("%w: date token %s does not match local date",
			domain.ErrInvoiceRangeInvalid, parsed.DateToken)
	}

	leases, err := s.repo.LeasesForDeviceDate(ctx, s.db, req.TenantID, req.OutletID, req.DeviceID, dateKey)
	if err != nil {
		return domain.Assignment{}, err
	}
	covered := false
	for i := range leases {
		if leases[i].Contains(parsed.Counter) {
			covered = true
			break
		}
	}
	if !covered {
		return domain.Assignment{}, fmt.Errorf("%w: counter %04d outside device leases",
			domain.ErrInvoiceRangeInvalid, parsed.Counter)
	}

	number, err := format.Format(outlet.Code, localDate, parsed.Counter)
	if err != nil {
		return domain.Assignment{}, fmt.Errorf("%w: %v", domain.ErrInvoiceRangeInvalid, err)
	}
	taken, err := s.orderRepo.InvoiceNoExists(ctx, s.db, req.OutletID, number)
	if err != nil {
		return domain.Assignment{}, err
	}
	if taken {
		return domain.Assignment{}, fmt.Errorf("%w: %s already used", domain.ErrInvoiceRangeInvalid, number)
	}

	return domain.Assignment{InvoiceNo: number, Assigned: false}, nil
}

func (s *resolver) assignFromLease(ctx context.Context, req domain.AssignRequest, outlet *outletdomain.Outlet, dateKey string) (domain.Assignment, error) {
	now := s.clock.Now()
	localDate := req.OrderTime.In(outlet.Location())

	for {
		lease, err := s.repo.OldestUsable(ctx, s.db, req.TenantID, req.OutletID, req.DeviceID, dateKey, now)
		if err != nil {
			return domain.Assignment{}, err
		}
		if lease == nil {
			// Exhausted: the order proceeds without a number and the
			// caller claims a new lease.
			return domain.Assignment{}, nil
		}

		used, err := s.orderRepo.UsedCountersByPrefix(ctx, s.db, req.OutletID, lease.Prefix)
		if err != nil {
			return domain.Assignment{}, err
		}

		for counter := lease.NextCounter; counter <= lease.ToCounter; counter++ {
			if used[counter] {
				continue
			}
			number, err := format.Format(outlet.Code, localDate, counter)
			if err != nil {
				return domain.Assignment{}, err
			}
			if err := s.repo.AdvanceCursor(ctx, s.db, lease.ID, counter+1, now); err != nil {
				return domain.Assignment{}, err
			}
			return domain.Assignment{InvoiceNo: number, Assigned: true}, nil
		}

		// Every remaining counter was burned externally. Close the lease
		// and fall through to the device's next one.
		if err := s.repo.AdvanceCursor(ctx, s.db, lease.ID, lease.ToCounter+1, now); err != nil {
			return domain.Assignment{}, err
		}
	}
}
