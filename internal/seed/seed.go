package seed

import (
	"time"

	leasedomain "github.com/kiloan-app/kiloan/internal/lease/domain"
	orderdomain "github.com/kiloan-app/kiloan/internal/order/domain"
	outletdomain "github.com/kiloan-app/kiloan/internal/outlet/domain"
	paymentdomain "github.com/kiloan-app/kiloan/internal/payment/domain"
	quotadomain "github.com/kiloan-app/kiloan/internal/quota/domain"
	tenantdomain "github.com/kiloan-app/kiloan/internal/tenant/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AutoMigrate creates the schema from the models. Non-postgres setups
// use this instead of the versioned SQL migrations.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&tenantdomain.Tenant{},
		&tenantdomain.Plan{},
		&tenantdomain.SubscriptionCycle{},
		&tenantdomain.SubscriptionInvoice{},
		&outletdomain.Outlet{},
		&outletdomain.Device{},
		&leasedomain.InvoiceLease{},
		&orderdomain.Order{},
		&orderdomain.OrderPayment{},
		&quotadomain.QuotaUsage{},
		&quotadomain.QuotaUsageCycle{},
		&paymentdomain.PaymentIntent{},
		&paymentdomain.PaymentEvent{},
	)
}

func int64ptr(v int64) *int64 { return &v }

// EnsureDefaultPlans inserts the stock plans when missing so a fresh
// install can register tenants immediately. Existing rows are left
// untouched; operators tune limits directly.
func EnsureDefaultPlans(db *gorm.DB) error {
	now := time.Now().UTC()
	plans := []tenantdomain.Plan{
		{Key: "free", Name: "Gratis", OrdersLimit: int64ptr(100), PriceAmount: 0, Currency: "IDR", CreatedAt: now},
		{Key: "basic", Name: "Basic", OrdersLimit: int64ptr(1500), PriceAmount: 99000, Currency: "IDR", CreatedAt: now},
		{Key: "pro", Name: "Pro", OrdersLimit: nil, PriceAmount: 249000, Currency: "IDR", CreatedAt: now},
	}
	return db.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoNothing: true,
		}).
		Create(&plans).Error
}
