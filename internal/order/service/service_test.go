package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/kiloan-app/kiloan/internal/clock"
	"github.com/kiloan-app/kiloan/internal/config"
	leasedomain "github.com/kiloan-app/kiloan/internal/lease/domain"
	leaserepo "github.com/kiloan-app/kiloan/internal/lease/repository"
	leaseservice "github.com/kiloan-app/kiloan/internal/lease/service"
	"github.com/kiloan-app/kiloan/internal/order/domain"
	"github.com/kiloan-app/kiloan/internal/order/repository"
	outletdomain "github.com/kiloan-app/kiloan/internal/outlet/domain"
	quotadomain "github.com/kiloan-app/kiloan/internal/quota/domain"
	quotaservice "github.com/kiloan-app/kiloan/internal/quota/service"
	"github.com/kiloan-app/kiloan/internal/seed"
	tenantdomain "github.com/kiloan-app/kiloan/internal/tenant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type orderEnv struct {
	db        *gorm.DB
	clock     *clock.FakeClock
	genID     *snowflake.Node
	svc       domain.Service
	allocator leasedomain.Allocator

	tenantID snowflake.ID
	outletID snowflake.ID
	deviceID snowflake.ID
}

func int64ptr(v int64) *int64 { return &v }

func newOrderEnv(t *testing.T, ordersLimit *int64) *orderEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, seed.AutoMigrate(db))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC))
	holder := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())

	leaseRepo := leaserepo.Provide()
	orderRepo := repository.Provide()
	log := zap.NewNop()

	quotaSvc := quotaservice.NewService(quotaservice.ServiceParams{
		DB: db, Log: log, GenID: node, Clock: fake,
	})
	resolver := leaseservice.NewResolver(leaseservice.ResolverParams{
		DB: db, Log: log, Clock: fake, Repo: leaseRepo, OrderRepo: orderRepo,
	})
	allocator := leaseservice.NewAllocator(leaseservice.AllocatorParams{
		DB: db, Log: log, GenID: node, Clock: fake, Cfg: holder, Repo: leaseRepo,
	})

	env := &orderEnv{
		db:        db,
		clock:     fake,
		genID:     node,
		allocator: allocator,
		tenantID:  node.Generate(),
		outletID:  node.Generate(),
		deviceID:  node.Generate(),
	}
	env.svc = NewService(ServiceParams{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		Repo:     orderRepo,
		Quota:    quotaSvc,
		Resolver: resolver,
	})

	now := fake.Now()
	require.NoError(t, db.Create(&tenantdomain.Plan{
		Key: "basic", Name: "Basic", OrdersLimit: ordersLimit, Currency: "IDR", CreatedAt: now,
	}).Error)
	require.NoError(t, db.Create(&tenantdomain.Tenant{
		ID:                env.tenantID,
		Name:              "Laundry Melati",
		PlanKey:           "basic",
		SubscriptionState: tenantdomain.SubscriptionStateActive,
		WriteAccessMode:   tenantdomain.WriteAccessFull,
		Currency:          "IDR",
		CreatedAt:         now,
		UpdatedAt:         now,
	}).Error)
	require.NoError(t, db.Create(&outletdomain.Outlet{
		ID:        env.outletID,
		TenantID:  env.tenantID,
		Code:      "BL",
		Name:      "Cabang Utama",
		Timezone:  "Asia/Jakarta",
		CreatedAt: now,
		UpdatedAt: now,
	}).Error)
	return env
}

func (e *orderEnv) claimLease(t *testing.T, count int) {
	t.Helper()
	_, err := e.allocator.ClaimRanges(context.Background(), e.tenantID, e.outletID, e.deviceID,
		[]leasedomain.ClaimRequest{{Date: e.clock.Now(), Count: count}})
	require.NoError(t, err)
}

func TestCreateOrderAssignsInvoiceNumber(t *testing.T) {
	env := newOrderEnv(t, int64ptr(100))
	env.claimLease(t, 10)

	order, err := env.svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		TenantID:    env.tenantID,
		OutletID:    env.outletID,
		DeviceID:    env.deviceID,
		TotalAmount: 45000,
	})
	require.NoError(t, err)
	require.NotNil(t, order.InvoiceNo)
	assert.Equal(t, "BL-240501-0001", *order.InvoiceNo)
	assert.Equal(t, int64(45000), order.DueAmount)
	assert.Equal(t, int64(0), order.PaidAmount)

	// One quota slot consumed.
	var usage quotadomain.QuotaUsage
	require.NoError(t, env.db.First(&usage).Error)
	assert.Equal(t, int64(1), usage.OrdersUsed)
}

func TestCreateOrderWithoutLeaseLeavesNumberUnset(t *testing.T) {
	env := newOrderEnv(t, int64ptr(100))

	order, err := env.svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		TenantID:    env.tenantID,
		OutletID:    env.outletID,
		DeviceID:    env.deviceID,
		TotalAmount: 20000,
	})
	require.NoError(t, err)
	assert.Nil(t, order.InvoiceNo)
}

func TestCreateOrderQuotaRejectionRollsBack(t *testing.T) {
	env := newOrderEnv(t, int64ptr(1))
	env.claimLease(t, 10)
	ctx := context.Background()

	_, err := env.svc.CreateOrder(ctx, domain.CreateOrderRequest{
		TenantID: env.tenantID, OutletID: env.outletID, DeviceID: env.deviceID, TotalAmount: 10000,
	})
	require.NoError(t, err)

	_, err = env.svc.CreateOrder(ctx, domain.CreateOrderRequest{
		TenantID: env.tenantID, OutletID: env.outletID, DeviceID: env.deviceID, TotalAmount: 10000,
	})
	require.ErrorIs(t, err, quotadomain.ErrQuotaExceeded)

	var orders int64
	require.NoError(t, env.db.Model(&domain.Order{}).Count(&orders).Error)
	assert.Equal(t, int64(1), orders, "rejected order must not be persisted")

	// The lease cursor must not have moved for the rejected order.
	var lease leasedomain.InvoiceLease
	require.NoError(t, env.db.First(&lease).Error)
	assert.Equal(t, 2, lease.NextCounter)
}

func TestCreateOrderInvalidClientNumberRollsBack(t *testing.T) {
	env := newOrderEnv(t, int64ptr(100))
	env.claimLease(t, 10)

	_, err := env.svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		TenantID:        env.tenantID,
		OutletID:        env.outletID,
		DeviceID:        env.deviceID,
		TotalAmount:     10000,
		ClientInvoiceNo: "XX-240501-0001",
	})
	require.ErrorIs(t, err, leasedomain.ErrInvoiceRangeInvalid)

	var orders int64
	require.NoError(t, env.db.Model(&domain.Order{}).Count(&orders).Error)
	assert.Zero(t, orders)

	// Quota consumption rolled back with the order.
	var usages int64
	require.NoError(t, env.db.Model(&quotadomain.QuotaUsage{}).
		Where("orders_used > 0").Count(&usages).Error)
	assert.Zero(t, usages)
}

func TestCreateOrderDuplicateClientNumberRace(t *testing.T) {
	env := newOrderEnv(t, int64ptr(100))
	env.claimLease(t, 10)

	// A rival intake lands the same client number between the
	// uniqueness check and the insert; the unique index must turn the
	// loser into the same rejection a stale number gets.
	fired := false
	err := env.db.Callback().Create().Before("gorm:create").Register("rival_intake", func(d *gorm.DB) {
		order, ok := d.Statement.Dest.(*domain.Order)
		if !ok || fired || order.InvoiceNo == nil {
			return
		}
		fired = true
		now := env.clock.Now()
		d.Session(&gorm.Session{NewDB: true, SkipHooks: true}).Exec(
			`INSERT INTO orders (id, tenant_id, outlet_id, device_id, invoice_no, total_amount, paid_amount, due_amount, status, ordered_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, 10000, 0, 10000, 'open', ?, ?, ?)`,
			env.genID.Generate(), env.tenantID, env.outletID, env.deviceID, *order.InvoiceNo, now, now, now,
		)
	})
	require.NoError(t, err)

	_, err = env.svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		TenantID:        env.tenantID,
		OutletID:        env.outletID,
		DeviceID:        env.deviceID,
		TotalAmount:     10000,
		ClientInvoiceNo: "BL-240501-0004",
	})
	require.ErrorIs(t, err, leasedomain.ErrInvoiceRangeInvalid)
	assert.True(t, fired)

	// The rival row shared the loser's transaction here, so everything
	// rolls back together.
	var orders int64
	require.NoError(t, env.db.Model(&domain.Order{}).Count(&orders).Error)
	assert.Zero(t, orders)
}

func TestCreateOrderRejectsNonPositiveAmount(t *testing.T) {
	env := newOrderEnv(t, int64ptr(100))
	_, err := env.svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		TenantID: env.tenantID, OutletID: env.outletID, DeviceID: env.deviceID, TotalAmount: 0,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestCreateOrderAcceptsClientNumber(t *testing.T) {
	env := newOrderEnv(t, int64ptr(100))
	env.claimLease(t, 10)

	order, err := env.svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		TenantID:        env.tenantID,
		OutletID:        env.outletID,
		DeviceID:        env.deviceID,
		TotalAmount:     15000,
		ClientInvoiceNo: "BL-240501-0007",
	})
	require.NoError(t, err)
	require.NotNil(t, order.InvoiceNo)
	assert.Equal(t, "BL-240501-0007", *order.InvoiceNo)

	// Auto assignment later skips the burned counter.
	auto, err := env.svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		TenantID: env.tenantID, OutletID: env.outletID, DeviceID: env.deviceID, TotalAmount: 15000,
	})
	require.NoError(t, err)
	assert.Equal(t, "BL-240501-0001", *auto.InvoiceNo)
}
