package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ErrQuotaExceeded is the sentinel matched via errors.Is; the concrete
// error carries the plan, scope and counts for the rejection response.
var ErrQuotaExceeded = errors.New("quota_exceeded")

// QuotaExceededError reports a metered rejection.
type QuotaExceededError struct {
	PlanKey string
	Period  string
	CycleID snowflake.ID
	Limit   int64
	Used    int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota_exceeded: plan=%s period=%s limit=%d used=%d",
		e.PlanKey, e.Period, e.Limit, e.Used)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// QuotaUsage meters orders for a tenant within one legacy calendar
// period (YYYY-MM). Superseded by cycle-scoped rows once the tenant has
// an active subscription cycle.
type QuotaUsage struct {
	ID                  snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID            snowflake.ID `json:"tenant_id" gorm:"not null;uniqueIndex:ux_quota_tenant_period"`
	Period              string       `json:"period" gorm:"type:varchar(7);not null;uniqueIndex:ux_quota_tenant_period"`
	PlanKey             string       `json:"plan_key" gorm:"type:varchar(50);not null"`
	OrdersLimitSnapshot *int64       `json:"orders_limit_snapshot"`
	OrdersUsed          int64        `json:"orders_used" gorm:"not null;default:0"`
	CreatedAt           time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt           time.Time    `json:"updated_at" gorm:"not null"`
}

func (QuotaUsage) TableName() string { return "quota_usages" }

// QuotaUsageCycle meters orders for one subscription cycle.
type QuotaUsageCycle struct {
	ID                  snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID            snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	CycleID             snowflake.ID `json:"cycle_id" gorm:"not null;uniqueIndex"`
	OrdersLimitSnapshot *int64       `json:"orders_limit_snapshot"`
	OrdersUsed          int64        `json:"orders_used" gorm:"not null;default:0"`
	CreatedAt           time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt           time.Time    `json:"updated_at" gorm:"not null"`
}

func (QuotaUsageCycle) TableName() string { return "quota_usage_cycles" }

const (
	ScopePeriod = "period"
	ScopeCycle  = "cycle"
)

// QuotaView is the resolved usage state for a tenant. Limit nil means
// unlimited; Remaining is nil in that case too.
type QuotaView struct {
	Scope     string       `json:"scope"`
	Period    string       `json:"period,omitempty"`
	CycleID   snowflake.ID `json:"cycle_id,omitempty"`
	PlanKey   string       `json:"plan_key"`
	Limit     *int64       `json:"limit"`
	Used      int64        `json:"used"`
	Remaining *int64       `json:"remaining"`
}
