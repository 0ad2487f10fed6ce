package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/luisherrera/subtally-backend/pkg/enums"
)

// Notification stores in-app notification payloads addressed to one user.
// A nil ReadAt means unread. Rows referencing a subscription are removed
// when the subscription is deleted.
type Notification struct {
	ID             uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID         uuid.UUID              `gorm:"column:user_id;type:uuid;not null;index"`
	SubscriptionID uuid.UUID              `gorm:"column:subscription_id;type:uuid;not null;index"`
	Type           enums.NotificationType `gorm:"type:notification_type;not null"`
	Message        string                 `gorm:"type:text;not null"`
	ReadAt         *time.Time             `gorm:"type:timestamptz"`
	CreatedAt      time.Time              `gorm:"type:timestamptz;default:now()"`
}
