package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var ErrOutletNotFound = errors.New("outlet_not_found")

// Outlet is a physical laundry branch. Code prefixes invoice numbers and
// Timezone anchors lease-date math to the branch's local day.
type Outlet struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID  snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	Code      string       `json:"code" gorm:"type:varchar(8);not null"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	Timezone  string       `json:"timezone" gorm:"type:varchar(64);not null;default:Asia/Jakarta"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (Outlet) TableName() string { return "outlets" }

// Location resolves the outlet timezone, falling back to UTC for
// unknown names rather than failing order intake.
func (o *Outlet) Location() *time.Location {
	if o.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Device is a POS terminal registered at an outlet. Leases are claimed
// per device so two terminals never share a counter range.
type Device struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID  snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	OutletID  snowflake.ID `json:"outlet_id" gorm:"not null;index"`
	Label     string       `json:"label" gorm:"type:text"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (Device) TableName() string { return "devices" }
