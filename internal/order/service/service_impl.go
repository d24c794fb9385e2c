package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/kiloan-app/kiloan/internal/clock"
	leasedomain "github.com/kiloan-app/kiloan/internal/lease/domain"
	"github.com/kiloan-app/kiloan/internal/order/domain"
	quotadomain "github.com/kiloan-app/kiloan/internal/quota/domain"
	pkgdb "github.com/kiloan-app/kiloan/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Quota    quotadomain.Service
	Resolver leasedomain.Resolver
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	quota    quotadomain.Service
	resolver leasedomain.Resolver
}

func NewService(p ServiceParams) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("order"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		quota:    p.Quota,
		resolver: p.Resolver,
	}
}

// CreateOrder runs quota consumption, invoice-number resolution and the
// order insert in one transaction. A quota rejection or an invalid
// client number fails the whole order; nothing is persisted and the
// usage counter is not consumed.
func (s *service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	if req.TotalAmount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	orderedAt := req.OrderedAt
	if orderedAt.IsZero() {
		orderedAt = now
	}

	var order *domain.Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.quota.WithTx(tx).ConsumeOrderSlot(ctx, req.TenantID, ""); err != nil {
			return err
		}

		assignment, err := s.resolver.WithTx(tx).ValidateOrAssign(ctx, leasedomain.AssignRequest{
			TenantID:        req.TenantID,
			OutletID:        req.OutletID,
			DeviceID:        req.DeviceID,
			OrderTime:       orderedAt,
			ClientInvoiceNo: req.ClientInvoiceNo,
		})
		if err != nil {
			return err
		}

		order = &domain.Order{
			ID:          s.genID.Generate(),
			TenantID:    req.TenantID,
			OutletID:    req.OutletID,
			DeviceID:    req.DeviceID,
			TotalAmount: req.TotalAmount,
			DueAmount:   req.TotalAmount,
			Status:      "open",
			OrderedAt:   orderedAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if assignment.InvoiceNo != "" {
			order.InvoiceNo = &assignment.InvoiceNo
		}
		if err := s.repo.Insert(ctx, tx, order); err != nil {
			// Two intakes can race the same client number past the
			// uniqueness check; the index decides and the loser gets the
			// same rejection as a stale number.
			if req.ClientInvoiceNo != "" && pkgdb.IsDuplicateKeyErr(err) {
				return fmt.Errorf("%w: %s already used", leasedomain.ErrInvoiceRangeInvalid, req.ClientInvoiceNo)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("order created",
		zap.Int64("tenant_id", req.TenantID.Int64()),
		zap.Int64("order_id", order.ID.Int64()),
		zap.Stringp("invoice_no", order.InvoiceNo),
	)
	return order, nil
}
