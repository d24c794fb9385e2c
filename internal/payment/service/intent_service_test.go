package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/kiloan-app/kiloan/internal/clock"
	"github.com/kiloan-app/kiloan/internal/config"
	orderdomain "github.com/kiloan-app/kiloan/internal/order/domain"
	orderrepo "github.com/kiloan-app/kiloan/internal/order/repository"
	"github.com/kiloan-app/kiloan/internal/payment/domain"
	"github.com/kiloan-app/kiloan/internal/payment/gateway"
	"github.com/kiloan-app/kiloan/internal/payment/repository"
	"github.com/kiloan-app/kiloan/internal/seed"
	tenantdomain "github.com/kiloan-app/kiloan/internal/tenant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type paymentEnv struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	genID    *snowflake.Node
	cfg      config.Config
	repo     domain.Repository
	bindings Bindings
	intents  domain.IntentService

	tenantID snowflake.ID
}

func newPaymentEnv(t *testing.T, cfg config.Config) *paymentEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, seed.AutoMigrate(db))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	holder := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())

	env := &paymentEnv{
		db:       db,
		clock:    fake,
		genID:    node,
		cfg:      cfg,
		repo:     repository.Provide(),
		bindings: NewBindings(orderrepo.Provide()),
		tenantID: node.Generate(),
	}
	env.intents = NewIntentService(IntentParams{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fake,
		Cfg:      cfg,
		Holder:   holder,
		Repo:     env.repo,
		Gateway:  gateway.NewSimulated(cfg.Gateway),
		Bindings: env.bindings,
	})

	now := fake.Now()
	require.NoError(t, db.Create(&tenantdomain.Tenant{
		ID:                env.tenantID,
		Name:              "Laundry Anggrek",
		PlanKey:           "basic",
		SubscriptionState: tenantdomain.SubscriptionStateActive,
		WriteAccessMode:   tenantdomain.WriteAccessFull,
		Currency:          "IDR",
		CreatedAt:         now,
		UpdatedAt:         now,
	}).Error)
	return env
}

func testConfig() config.Config {
	return config.Config{
		Environment: "test",
		Gateway:     config.GatewayConfig{ReferencePrefix: "KLN"},
	}
}

func (e *paymentEnv) seedOrder(t *testing.T, total int64, invoiceNo string) *orderdomain.Order {
	t.Helper()
	now := e.clock.Now()
	order := &orderdomain.Order{
		ID:          e.genID.Generate(),
		TenantID:    e.tenantID,
		OutletID:    e.genID.Generate(),
		DeviceID:    e.genID.Generate(),
		TotalAmount: total,
		DueAmount:   total,
		Status:      "open",
		OrderedAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if invoiceNo != "" {
		order.InvoiceNo = &invoiceNo
	}
	require.NoError(t, e.db.Create(order).Error)
	return order
}

func (e *paymentEnv) seedInvoice(t *testing.T, amount int64, status string) *tenantdomain.SubscriptionInvoice {
	t.Helper()
	now := e.clock.Now()
	invoice := &tenantdomain.SubscriptionInvoice{
		ID:          e.genID.Generate(),
		TenantID:    e.tenantID,
		CycleID:     e.genID.Generate(),
		Number:      fmt.Sprintf("SUB-%d", e.genID.Generate().Int64()),
		AmountTotal: amount,
		Currency:    "IDR",
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, e.db.Create(invoice).Error)
	return invoice
}

func TestCreateQrisIntentForOrder(t *testing.T) {
	env := newPaymentEnv(t, testConfig())
	order := env.seedOrder(t, 50000, "BL-240501-0001")

	intent, err := env.intents.CreateQrisIntent(context.Background(), domain.CreateIntentRequest{
		TenantID:  env.tenantID,
		OwnerType: domain.OwnerTypeOrder,
		OwnerID:   order.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.IntentStatusReady, intent.Status)
	assert.Equal(t, domain.ProviderSimulated, intent.Provider)
	assert.Equal(t, int64(50000), intent.Amount)
	assert.True(t, strings.HasPrefix(intent.Reference, "KLN-bl-240501-0001-"), intent.Reference)
	assert.True(t, strings.HasPrefix(intent.QRPayload, "SIMQR|"), intent.QRPayload)
	// Default lifetime comes from the billing config (360 minutes).
	assert.Equal(t, env.clock.Now().Add(6*time.Hour), intent.ExpiresAt)
}

func TestCreateQrisIntentReusesLiveIntent(t *testing.T) {
	env := newPaymentEnv(t, testConfig())
	order := env.seedOrder(t, 30000, "BL-240501-0002")
	req := domain.CreateIntentRequest{
		TenantID:  env.tenantID,
		OwnerType: domain.OwnerTypeOrder,
		OwnerID:   order.ID,
	}

	first, err := env.intents.CreateQrisIntent(context.Background(), req)
	require.NoError(t, err)
	second, err := env.intents.CreateQrisIntent(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Reference, second.Reference)

	var count int64
	require.NoError(t, env.db.Model(&domain.PaymentIntent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateQrisIntentNewIntentAfterExpiry(t *testing.T) {
	env := newPaymentEnv(t, testConfig())
	order := env.seedOrder(t, 30000, "BL-240501-0003")
	req := domain.CreateIntentRequest{
		TenantID:  env.tenantID,
		OwnerType: domain.OwnerTypeOrder,
		OwnerID:   order.ID,
	}

	first, err := env.intents.CreateQrisIntent(context.Background(), req)
	require.NoError(t, err)

	env.clock.Advance(7 * time.Hour)
	second, err := env.intents.CreateQrisIntent(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestCreateQrisIntentClampsExpiry(t *testing.T) {
	env := newPaymentEnv(t, testConfig())
	ctx := context.Background()

	short := env.seedOrder(t, 10000, "")
	intent, err := env.intents.CreateQrisIntent(ctx, domain.CreateIntentRequest{
		TenantID: env.tenantID, OwnerType: domain.OwnerTypeOrder, OwnerID: short.ID,
		ExpiryMinutes: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().Add(15*time.Minute), intent.ExpiresAt)

	long := env.seedOrder(t, 10000, "")
	intent, err = env.intents.CreateQrisIntent(ctx, domain.CreateIntentRequest{
		TenantID: env.tenantID, OwnerType: domain.OwnerTypeOrder, OwnerID: long.ID,
		ExpiryMinutes: 10000,
	})
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().Add(24*time.Hour), intent.ExpiresAt)
}

func TestCreateQrisIntentPartialAmount(t *testing.T) {
	env := newPaymentEnv(t, testConfig())
	order := env.seedOrder(t, 50000, "BL-240501-0011")

	intent, err := env.intents.CreateQrisIntent(context.Background(), domain.CreateIntentRequest{
		TenantID:  env.tenantID,
		OwnerType: domain.OwnerTypeOrder,
		OwnerID:   order.ID,
		Amount:    20000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20000), intent.Amount)
}

func TestCreateQrisIntentRejectsAmountOutOfBounds(t *testing.T) {
	env := newPaymentEnv(t, testConfig())
	order := env.seedOrder(t, 50000, "BL-240501-0012")
	ctx := context.Background()

	_, err := env.intents.CreateQrisIntent(ctx, domain.CreateIntentRequest{
		TenantID: env.tenantID, OwnerType: domain.OwnerTypeOrder, OwnerID: order.ID,
		Amount: 60000,
	})
	assert.ErrorIs(t, err, domain.ErrIntentAmountInvalid, "amount above due")

	_, err = env.intents.CreateQrisIntent(ctx, domain.CreateIntentRequest{
		TenantID: env.tenantID, OwnerType: domain.OwnerTypeOrder, OwnerID: order.ID,
		Amount: -1,
	})
	assert.ErrorIs(t, err, domain.ErrIntentAmountInvalid, "negative amount")
}

func TestCreateQrisIntentForceNew(t *testing.T) {
	env := newPaymentEnv(t, testConfig())
	order := env.seedOrder(t, 30000, "BL-240501-0013")
	ctx := context.Background()

	first, err := env.intents.CreateQrisIntent(ctx, domain.CreateIntentRequest{
		TenantID: env.tenantID, OwnerType: domain.OwnerTypeOrder, OwnerID: order.ID,
	})
	require.NoError(t, err)

	second, err := env.intents.CreateQrisIntent(ctx, domain.CreateIntentRequest{
		TenantID: env.tenantID, OwnerType: domain.OwnerTypeOrder, OwnerID: order.ID,
		ForceNew: true,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.Reference, second.Reference)

	var count int64
	require.NoError(t, env.db.Model(&domain.PaymentIntent{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestCreateQrisIntentClampsToInvoiceDueDate(t *testing.T) {
	env := newPaymentEnv(t, testConfig())
	invoice := env.seedInvoice(t, 99000, tenantdomain.InvoiceStatusIssued)

	// Due in two hours, well inside the six hour default lifetime.
	dueAt := env.clock.Now().Add(2 * time.Hour)
	require.NoError(t, env.db.Model(&tenantdomain.SubscriptionInvoice{}).
		Where("id = ?", invoice.ID).
		Update("due_at", dueAt).Error)

	intent, err := env.intents.CreateQrisIntent(context.Background(), domain.CreateIntentRequest{
		TenantID:  env.tenantID,
		OwnerType: domain.OwnerTypeSubscriptionInvoice,
		OwnerID:   invoice.ID,
	})
	require.NoError(t, err)
	assert.True(t, intent.ExpiresAt.Equal(dueAt), "expiry clamps to the due date")
}

func TestCreateQrisIntentRejectsSettledOrder(t *testing.T) {
	env := newPaymentEnv(t, testConfig())
	order := env.seedOrder(t, 20000, "")
	require.NoError(t, env.db.Model(&orderdomain.Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{"paid_amount": 20000, "due_amount": 0, "status": "paid"}).Error)

	_, err := env.intents.CreateQrisIntent(context.Background(), domain.CreateIntentRequest{
		TenantID: env.tenantID, OwnerType: domain.OwnerTypeOrder, OwnerID: order.ID,
	})
	assert.ErrorIs(t, err, domain.ErrOwnerNotPayable)
}

func TestCreateQrisIntentUnknownOwner(t *testing.T) {
	env := newPaymentEnv(t, testConfig())

	_, err := env.intents.CreateQrisIntent(context.Background(), domain.CreateIntentRequest{
		TenantID: env.tenantID, OwnerType: domain.OwnerTypeOrder, OwnerID: env.genID.Generate(),
	})
	assert.ErrorIs(t, err, domain.ErrIntentNotFound)

	_, err = env.intents.CreateQrisIntent(context.Background(), domain.CreateIntentRequest{
		TenantID: env.tenantID, OwnerType: "gift_card", OwnerID: env.genID.Generate(),
	})
	assert.ErrorIs(t, err, domain.ErrOwnerTypeUnknown)
}

func TestCreateQrisIntentForSubscriptionInvoice(t *testing.T) {
	env := newPaymentEnv(t, testConfig())
	invoice := env.seedInvoice(t, 99000, tenantdomain.InvoiceStatusIssued)

	intent, err := env.intents.CreateQrisIntent(context.Background(), domain.CreateIntentRequest{
		TenantID:  env.tenantID,
		OwnerType: domain.OwnerTypeSubscriptionInvoice,
		OwnerID:   invoice.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(99000), intent.Amount)

	var reloaded tenantdomain.SubscriptionInvoice
	require.NoError(t, env.db.First(&reloaded, "id = ?", invoice.ID).Error)
	assert.Equal(t, tenantdomain.GatewayStatusIntentCreated, reloaded.GatewayStatus)
}

func TestCreateQrisIntentRejectsPaidInvoice(t *testing.T) {
	env := newPaymentEnv(t, testConfig())
	invoice := env.seedInvoice(t, 99000, tenantdomain.InvoiceStatusPaid)

	_, err := env.intents.CreateQrisIntent(context.Background(), domain.CreateIntentRequest{
		TenantID:  env.tenantID,
		OwnerType: domain.OwnerTypeSubscriptionInvoice,
		OwnerID:   invoice.ID,
	})
	assert.ErrorIs(t, err, domain.ErrOwnerNotPayable)
}

func TestExpireStale(t *testing.T) {
	env := newPaymentEnv(t, testConfig())
	order := env.seedOrder(t, 25000, "")
	ctx := context.Background()

	intent, err := env.intents.CreateQrisIntent(ctx, domain.CreateIntentRequest{
		TenantID: env.tenantID, OwnerType: domain.OwnerTypeOrder, OwnerID: order.ID,
	})
	require.NoError(t, err)

	n, err := env.intents.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "live intents stay untouched")

	env.clock.Advance(25 * time.Hour)
	n, err = env.intents.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var reloaded domain.PaymentIntent
	require.NoError(t, env.db.First(&reloaded, "id = ?", intent.ID).Error)
	assert.Equal(t, domain.IntentStatusExpired, reloaded.Status)
}
