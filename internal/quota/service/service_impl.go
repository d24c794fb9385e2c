package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kiloan-app/kiloan/internal/clock"
	"github.com/kiloan-app/kiloan/internal/observability/metrics"
	"github.com/kiloan-app/kiloan/internal/quota/domain"
	tenantdomain "github.com/kiloan-app/kiloan/internal/tenant/domain"
	pkgdb "github.com/kiloan-app/kiloan/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParams struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
}

type service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	metrics *metrics.Metrics
}

func NewService(p ServiceParams) domain.Service {
	return &service{
		db:      p.DB,
		log:     p.Log.Named("quota"),
		genID:   p.GenID,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (s *service) WithTx(tx *gorm.DB) domain.Service {
	return &service{
		db:      tx,
		log:     s.log,
		genID:   s.genID,
		clock:   s.clock,
		metrics: s.metrics,
	}
}

// ConsumeOrderSlot checks and increments usage under the tenant row
// lock. Two racing intakes serialize on that lock, so the last slot
// before the limit goes to exactly one of them.
func (s *service) ConsumeOrderSlot(ctx context.Context, tenantID snowflake.ID, period string) (*domain.QuotaView, error) {
	now := s.clock.Now()
	if period == "" {
		period = now.Format("2006-01")
	}

	var view *domain.QuotaView
	err := s.db.Transaction(func(tx *gorm.DB) error {
		tenant, err := s.lockTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if !tenant.CanWrite() {
			return tenantdomain.ErrWriteAccessRestricted
		}

		cycle, err := s.activeCycle(ctx, tx, tenantID, now)
		if err != nil {
			return err
		}

		if cycle != nil {
			view, err = s.consumeCycle(ctx, tx, tenant, cycle, now)
		} else {
			view, err = s.consumePeriod(ctx, tx, tenant, period, now)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			s.metrics.RecordQuotaRejection(ctx, quotaPlanKey(err))
		}
		return nil, err
	}
	return view, nil
}

// Snapshot resolves the same scope and limit chain without consuming.
func (s *service) Snapshot(ctx context.Context, tenantID snowflake.ID, period string) (*domain.QuotaView, error) {
	now := s.clock.Now()
	if period == "" {
		period = now.Format("2006-01")
	}

	var tenant tenantdomain.Tenant
	err := s.db.WithContext(ctx).Where("id = ?", tenantID).First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, tenantdomain.ErrTenantNotFound
		}
		return nil, err
	}

	cycle, err := s.activeCycle(ctx, s.db, tenantID, now)
	if err != nil {
		return nil, err
	}

	if cycle != nil {
		var usage domain.QuotaUsageCycle
		err := s.db.WithContext(ctx).Where("cycle_id = ?", cycle.ID).First(&usage).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		limit, err := s.cycleLimit(ctx, s.db, &tenant, cycle, usage.OrdersLimitSnapshot)
		if err != nil {
			return nil, err
		}
		return cycleView(cycle, limit, usage.OrdersUsed), nil
	}

	var usage domain.QuotaUsage
	err = s.db.WithContext(ctx).
		Where("tenant_id = ? AND period = ?", tenantID, period).
		First(&usage).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	limit, err := s.periodLimit(ctx, s.db, &tenant, usage.OrdersLimitSnapshot)
	if err != nil {
		return nil, err
	}
	return periodView(&tenant, period, limit, usage.OrdersUsed), nil
}

func (s *service) consumeCycle(ctx context.Context, tx *gorm.DB, tenant *tenantdomain.Tenant, cycle *tenantdomain.SubscriptionCycle, now time.Time) (*domain.QuotaView, error) {
	usage, err := s.lockOrCreateCycleUsage(ctx, tx, tenant, cycle, now)
	if err != nil {
		return nil, err
	}

	limit, err := s.cycleLimit(ctx, tx, tenant, cycle, usage.OrdersLimitSnapshot)
	if err != nil {
		return nil, err
	}
	if limit != nil && usage.OrdersUsed >= *limit {
		return nil, &domain.QuotaExceededError{
			PlanKey: cycle.PlanKey,
			CycleID: cycle.ID,
			Limit:   *limit,
			Used:    usage.OrdersUsed,
		}
	}

	usage.OrdersUsed++
	err = tx.WithContext(ctx).
		Model(&domain.QuotaUsageCycle{}).
		Where("id = ?", usage.ID).
		Updates(map[string]any{"orders_used": usage.OrdersUsed, "updated_at": now}).Error
	if err != nil {
		return nil, err
	}
	return cycleView(cycle, limit, usage.OrdersUsed), nil
}

func (s *service) consumePeriod(ctx context.Context, tx *gorm.DB, tenant *tenantdomain.Tenant, period string, now time.Time) (*domain.QuotaView, error) {
	usage, err := s.lockOrCreatePeriodUsage(ctx, tx, tenant, period, now)
	if err != nil {
		return nil, err
	}

	limit, err := s.periodLimit(ctx, tx, tenant, usage.OrdersLimitSnapshot)
	if err != nil {
		return nil, err
	}
	if limit != nil && usage.OrdersUsed >= *limit {
		return nil, &domain.QuotaExceededError{
			PlanKey: tenant.PlanKey,
			Period:  period,
			Limit:   *limit,
			Used:    usage.OrdersUsed,
		}
	}

	usage.OrdersUsed++
	err = tx.WithContext(ctx).
		Model(&domain.QuotaUsage{}).
		Where("id = ?", usage.ID).
		Updates(map[string]any{"orders_used": usage.OrdersUsed, "updated_at": now}).Error
	if err != nil {
		return nil, err
	}
	return periodView(tenant, period, limit, usage.OrdersUsed), nil
}

// lockOrCreateCycleUsage returns the cycle usage row under lock,
// inserting it first when the cycle has never been metered. The insert
// tolerates a concurrent creator; the reselect then locks whichever row
// won.
func (s *service) lockOrCreateCycleUsage(ctx context.Context, tx *gorm.DB, tenant *tenantdomain.Tenant, cycle *tenantdomain.SubscriptionCycle, now time.Time) (*domain.QuotaUsageCycle, error) {
	seed := domain.QuotaUsageCycle{
		ID:                  s.genID.Generate(),
		TenantID:            tenant.ID,
		CycleID:             cycle.ID,
		OrdersLimitSnapshot: cycle.OrdersLimitSnapshot,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cycle_id"}},
			DoNothing: true,
		}).
		Create(&seed).Error
	if err != nil {
		return nil, err
	}

	var usage domain.QuotaUsageCycle
	err = pkgdb.ForUpdate(tx.WithContext(ctx)).
		Where("cycle_id = ?", cycle.ID).
		First(&usage).Error
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

func (s *service) lockOrCreatePeriodUsage(ctx context.Context, tx *gorm.DB, tenant *tenantdomain.Tenant, period string, now time.Time) (*domain.QuotaUsage, error) {
	plan, err := s.findPlan(ctx, tx, tenant.PlanKey)
	if err != nil {
		return nil, err
	}
	var snapshot *int64
	if plan != nil {
		snapshot = plan.OrdersLimit
	}

	seed := domain.QuotaUsage{
		ID:                  s.genID.Generate(),
		TenantID:            tenant.ID,
		Period:              period,
		PlanKey:             tenant.PlanKey,
		OrdersLimitSnapshot: snapshot,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	err = tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "period"}},
			DoNothing: true,
		}).
		Create(&seed).Error
	if err != nil {
		return nil, err
	}

	var usage domain.QuotaUsage
	err = pkgdb.ForUpdate(tx.WithContext(ctx)).
		Where("tenant_id = ? AND period = ?", tenant.ID, period).
		First(&usage).Error
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

// cycleLimit resolves the effective cycle limit: usage snapshot, then
// cycle snapshot, then the cycle plan's limit. First non-nil wins; all
// nil means unlimited.
func (s *service) cycleLimit(ctx context.Context, tx *gorm.DB, tenant *tenantdomain.Tenant, cycle *tenantdomain.SubscriptionCycle, usageSnapshot *int64) (*int64, error) {
	if usageSnapshot != nil {
		return usageSnapshot, nil
	}
	if cycle.OrdersLimitSnapshot != nil {
		return cycle.OrdersLimitSnapshot, nil
	}
	planKey := cycle.PlanKey
	if planKey == "" {
		planKey = tenant.PlanKey
	}
	plan, err := s.findPlan(ctx, tx, planKey)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, nil
	}
	return plan.OrdersLimit, nil
}

func (s *service) periodLimit(ctx context.Context, tx *gorm.DB, tenant *tenantdomain.Tenant, usageSnapshot *int64) (*int64, error) {
	if usageSnapshot != nil {
		return usageSnapshot, nil
	}
	plan, err := s.findPlan(ctx, tx, tenant.PlanKey)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, nil
	}
	return plan.OrdersLimit, nil
}

func (s *service) lockTenant(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (*tenantdomain.Tenant, error) {
	var tenant tenantdomain.Tenant
	err := pkgdb.ForUpdate(tx.WithContext(ctx)).
		Where("id = ?", tenantID).
		First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, tenantdomain.ErrTenantNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

func (s *service) activeCycle(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, now time.Time) (*tenantdomain.SubscriptionCycle, error) {
	var cycle tenantdomain.SubscriptionCycle
	err := tx.WithContext(ctx).
		Where("tenant_id = ? AND status = ? AND start_at <= ? AND end_at >= ?",
			tenantID, tenantdomain.SubscriptionStateActive, now, now).
		Order("start_at DESC").
		First(&cycle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cycle, nil
}

func (s *service) findPlan(ctx context.Context, tx *gorm.DB, key string) (*tenantdomain.Plan, error) {
	var plan tenantdomain.Plan
	err := tx.WithContext(ctx).Where("key = ?", key).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func cycleView(cycle *tenantdomain.SubscriptionCycle, limit *int64, used int64) *domain.QuotaView {
	return &domain.QuotaView{
		Scope:     domain.ScopeCycle,
		CycleID:   cycle.ID,
		PlanKey:   cycle.PlanKey,
		Limit:     limit,
		Used:      used,
		Remaining: remaining(limit, used),
	}
}

func periodView(tenant *tenantdomain.Tenant, period string, limit *int64, used int64) *domain.QuotaView {
	return &domain.QuotaView{
		Scope:     domain.ScopePeriod,
		Period:    period,
		PlanKey:   tenant.PlanKey,
		Limit:     limit,
		Used:      used,
		Remaining: remaining(limit, used),
	}
}

func remaining(limit *int64, used int64) *int64 {
	if limit == nil {
		return nil
	}
	left := *limit - used
	if left < 0 {
		left = 0
	}
	return &left
}

func quotaPlanKey(err error) string {
	var qe *domain.QuotaExceededError
	if errors.As(err, &qe) {
		return qe.PlanKey
	}
	return "unknown"
}
