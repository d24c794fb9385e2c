package integration

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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
	orderdomain "github.com/kiloan-app/kiloan/internal/order/domain"
	orderrepo "github.com/kiloan-app/kiloan/internal/order/repository"
	orderservice "github.com/kiloan-app/kiloan/internal/order/service"
	outletdomain "github.com/kiloan-app/kiloan/internal/outlet/domain"
	paymentdomain "github.com/kiloan-app/kiloan/internal/payment/domain"
	"github.com/kiloan-app/kiloan/internal/payment/gateway"
	paymentrepo "github.com/kiloan-app/kiloan/internal/payment/repository"
	paymentservice "github.com/kiloan-app/kiloan/internal/payment/service"
	quotadomain "github.com/kiloan-app/kiloan/internal/quota/domain"
	quotaservice "github.com/kiloan-app/kiloan/internal/quota/service"
	"github.com/kiloan-app/kiloan/internal/seed"
	tenantdomain "github.com/kiloan-app/kiloan/internal/tenant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const webhookSecret = "whsec-integration"

type billingStack struct {
	db        *gorm.DB
	clock     *clock.FakeClock
	genID     *snowflake.Node
	allocator leasedomain.Allocator
	orders    orderdomain.Service
	quota     quotadomain.Service
	intents   paymentdomain.IntentService
	webhooks  paymentdomain.WebhookService

	tenantID snowflake.ID
	outletID snowflake.ID
	deviceID snowflake.ID
}

func newBillingStack(t *testing.T) *billingStack {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, seed.AutoMigrate(db))

	node, err := snowflake.NewNode(6)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC))
	holder := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	cfg := config.Config{
		Environment: "test",
		Gateway: config.GatewayConfig{
			ReferencePrefix: "KLN",
			WebhookSecret:   webhookSecret,
		},
	}
	log := zap.NewNop()

	leaseRepo := leaserepo.Provide()
	ordRepo := orderrepo.Provide()
	payRepo := paymentrepo.Provide()
	bindings := paymentservice.NewBindings(ordRepo)

	quotaSvc := quotaservice.NewService(quotaservice.ServiceParams{
		DB: db, Log: log, GenID: node, Clock: fake,
	})
	resolver := leaseservice.NewResolver(leaseservice.ResolverParams{
		DB: db, Log: log, Clock: fake, Repo: leaseRepo, OrderRepo: ordRepo,
	})

	stack := &billingStack{
		db:       db,
		clock:    fake,
		genID:    node,
		tenantID: node.Generate(),
		outletID: node.Generate(),
		deviceID: node.Generate(),
	}
	stack.quota = quotaSvc
	stack.allocator = leaseservice.NewAllocator(leaseservice.AllocatorParams{
		DB: db, Log: log, GenID: node, Clock: fake, Cfg: holder, Repo: leaseRepo,
	})
	stack.orders = orderservice.NewService(orderservice.ServiceParams{
		DB: db, Log: log, GenID: node, Clock: fake,
		Repo: ordRepo, Quota: quotaSvc, Resolver: resolver,
	})
	stack.intents = paymentservice.NewIntentService(paymentservice.IntentParams{
		DB: db, Log: log, GenID: node, Clock: fake,
		Cfg: cfg, Holder: holder, Repo: payRepo,
		Gateway: gateway.NewSimulated(cfg.Gateway), Bindings: bindings,
	})
	stack.webhooks = paymentservice.NewWebhookService(paymentservice.WebhookParams{
		DB: db, Log: log, GenID: node, Clock: fake,
		Cfg: cfg, Repo: payRepo, Bindings: bindings,
	})

	now := fake.Now()
	require.NoError(t, db.Create(&tenantdomain.Plan{
		Key: "basic", Name: "Basic", OrdersLimit: int64ptr(100), Currency: "IDR", CreatedAt: now,
	}).Error)
	require.NoError(t, db.Create(&tenantdomain.Tenant{
		ID:                stack.tenantID,
		Name:              "Laundry Cempaka",
		PlanKey:           "basic",
		SubscriptionState: tenantdomain.SubscriptionStateActive,
		WriteAccessMode:   tenantdomain.WriteAccessFull,
		Currency:          "IDR",
		CreatedAt:         now,
		UpdatedAt:         now,
	}).Error)
	require.NoError(t, db.Create(&outletdomain.Outlet{
		ID:        stack.outletID,
		TenantID:  stack.tenantID,
		Code:      "BL",
		Name:      "Cabang Utama",
		Timezone:  "Asia/Jakarta",
		CreatedAt: now,
		UpdatedAt: now,
	}).Error)
	return stack
}

func int64ptr(v int64) *int64 { return &v }

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// The whole billing path, end to end: lease claim, metered order intake
// with invoice numbering, QRIS intent issuance, webhook settlement, and
// replay safety.
func TestBillingCriticalPath(t *testing.T) {
	stack := newBillingStack(t)
	ctx := context.Background()

	claims, err := stack.allocator.ClaimRanges(ctx, stack.tenantID, stack.outletID, stack.deviceID,
		[]leasedomain.ClaimRequest{{Date: stack.clock.Now(), Count: 5}})
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, 1, claims[0].FromCounter)
	assert.Equal(t, 5, claims[0].ToCounter)

	first, err := stack.orders.CreateOrder(ctx, orderdomain.CreateOrderRequest{
		TenantID: stack.tenantID, OutletID: stack.outletID, DeviceID: stack.deviceID,
		TotalAmount: 45000,
	})
	require.NoError(t, err)
	require.NotNil(t, first.InvoiceNo)
	assert.Equal(t, "BL-240501-0001", *first.InvoiceNo)

	second, err := stack.orders.CreateOrder(ctx, orderdomain.CreateOrderRequest{
		TenantID: stack.tenantID, OutletID: stack.outletID, DeviceID: stack.deviceID,
		TotalAmount: 30000,
	})
	require.NoError(t, err)
	require.NotNil(t, second.InvoiceNo)
	assert.Equal(t, "BL-240501-0002", *second.InvoiceNo)

	intent, err := stack.intents.CreateQrisIntent(ctx, paymentdomain.CreateIntentRequest{
		TenantID:  stack.tenantID,
		OwnerType: paymentdomain.OwnerTypeOrder,
		OwnerID:   first.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(45000), intent.Amount)
	assert.NotEmpty(t, intent.QRPayload)

	payload := []byte(fmt.Sprintf(
		`{"event_id":"evt-settle-1","partner_reference_no":%q,"transaction_status":"settlement","amount":45000,"payment_method":"qris"}`,
		intent.Reference,
	))
	res, err := stack.webhooks.HandleEvent(ctx, paymentdomain.ProviderBriQris, payload, signBody(payload))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventAccepted, res.Outcome)

	var settled orderdomain.Order
	require.NoError(t, stack.db.First(&settled, "id = ?", first.ID).Error)
	assert.Equal(t, "paid", settled.Status)
	assert.Equal(t, int64(0), settled.DueAmount)

	// Gateway retries must not credit twice.
	res, err = stack.webhooks.HandleEvent(ctx, paymentdomain.ProviderBriQris, payload, signBody(payload))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventDuplicate, res.Outcome)

	var payments int64
	require.NoError(t, stack.db.Model(&orderdomain.OrderPayment{}).
		Where("order_id = ?", first.ID).Count(&payments).Error)
	assert.Equal(t, int64(1), payments)

	// Two orders consumed two quota slots.
	view, err := stack.quota.Snapshot(ctx, stack.tenantID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), view.Used)
	require.NotNil(t, view.Remaining)
	assert.Equal(t, int64(98), *view.Remaining)
}
