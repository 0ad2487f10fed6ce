package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/luisherrera/subtally-backend/pkg/enums"
)

// Membership links a user with a shared subscription. At most one row may
// exist per (subscription_id, user_id) pair; the subscription's admin never
// has a row. The subscription_id and user_id column names are contract: the
// delete coordinator's alternate-formulation fallback addresses rows by them.
type Membership struct {
	ID              uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID  uuid.UUID              `gorm:"column:subscription_id;type:uuid;not null;uniqueIndex:ux_memberships_subscription_user"`
	UserID          uuid.UUID              `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_memberships_subscription_user"`
	Status          enums.MembershipStatus `gorm:"column:status;type:membership_status;not null"`
	JoinedAt        *time.Time             `gorm:"column:joined_at"`
	InvitedByUserID *uuid.UUID             `gorm:"column:invited_by_user_id;type:uuid"`
	CreatedAt       time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
