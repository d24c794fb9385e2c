package repository

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kiloan-app/kiloan/internal/order/domain"
	pkgdb "github.com/kiloan-app/kiloan/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Create(order).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *repo) LockByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := pkgdb.ForUpdate(db.WithContext(ctx)).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *repo) InvoiceNoExists(ctx context.Context, db *gorm.DB, outletID snowflake.ID, invoiceNo string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("outlet_id = ? AND invoice_no = ?", outletID, invoiceNo).
		Count(&count).Error
	return count > 0, err
}

func (r *repo) UsedCountersByPrefix(ctx context.Context, db *gorm.DB, outletID snowflake.ID, prefix string) (map[int]bool, error) {
	var numbers []string
	err := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("outlet_id = ? AND invoice_no LIKE ?", outletID, prefix+"%").
		Pluck("invoice_no", &numbers).Error
	if err != nil {
		return nil, err
	}

	used := make(map[int]bool, len(numbers))
	for _, number := range numbers {
		tail := strings.TrimPrefix(number, prefix)
		counter, err := strconv.Atoi(tail)
		if err != nil {
			continue
		}
		used[counter] = true
	}
	return used, nil
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.OrderPayment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (r *repo) RecomputeTotals(ctx context.Context, db *gorm.DB, order *domain.Order, now time.Time) error {
	var paid int64
	err := db.WithContext(ctx).
		Model(&domain.OrderPayment{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("order_id = ?", order.ID).
		Scan(&paid).Error
	if err != nil {
		return err
	}

	due := order.TotalAmount - paid
	if due < 0 {
		due = 0
	}
	order.PaidAmount = paid
	order.DueAmount = due
	order.UpdatedAt = now

	return db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{
			"paid_amount": paid,
			"due_amount":  due,
			"updated_at":  now,
		}).Error
}
