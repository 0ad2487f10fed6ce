package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/luisherrera/subtally-backend/pkg/enums"
)

// Subscription is a recurring-cost record owned by a single admin user.
// AdminID is immutable after creation.
type Subscription struct {
	ID            uuid.UUID            `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AdminID       uuid.UUID            `gorm:"column:admin_id;type:uuid;not null;index"`
	Name          string               `gorm:"type:text;not null"`
	Cost          decimal.Decimal      `gorm:"column:cost;type:numeric(12,2);not null"`
	Cadence       enums.RenewalCadence `gorm:"column:cadence;type:renewal_cadence;not null"`
	StartDate     time.Time            `gorm:"column:start_date;type:date;not null"`
	NextRenewalAt time.Time            `gorm:"column:next_renewal_at;not null"`
	Category      string               `gorm:"type:text;not null;default:''"`
	AutoRenew     bool                 `gorm:"column:auto_renew;not null;default:true"`
	IsShared      bool                 `gorm:"column:is_shared;not null;default:false"`
	MaxMembers    *int                 `gorm:"column:max_members"`
	CreatedAt     time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
