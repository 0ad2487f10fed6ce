package subscriptions

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/luisherrera/subtally-backend/pkg/db/models"
	"github.com/luisherrera/subtally-backend/pkg/enums"
)

// SubscriptionDTO is the transport shape returned to API clients.
type SubscriptionDTO struct {
	ID            uuid.UUID            `json:"id"`
	AdminID       uuid.UUID            `json:"admin_id"`
	Name          string               `json:"name"`
	Cost          decimal.Decimal      `json:"cost"`
	Cadence       enums.RenewalCadence `json:"cadence"`
	StartDate     time.Time            `json:"start_date"`
	NextRenewalAt time.Time            `json:"next_renewal_at"`
	Category      string               `json:"category"`
	AutoRenew     bool                 `json:"auto_renew"`
	IsShared      bool                 `json:"is_shared"`
	MaxMembers    *int                 `json:"max_members,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// CreateSubscriptionInput holds the fields accepted on creation.
type CreateSubscriptionInput struct {
	Name       string
	Cost       decimal.Decimal
	Cadence    enums.RenewalCadence
	StartDate  time.Time
	Category   string
	AutoRenew  *bool
	IsShared   bool
	MaxMembers *int
}

// UpdateSubscriptionInput carries optional field updates. AdminID is
// deliberately absent: ownership never changes.
type UpdateSubscriptionInput struct {
	Name       *string
	Cost       *decimal.Decimal
	Cadence    *enums.RenewalCadence
	Category   *string
	AutoRenew  *bool
	IsShared   *bool
	MaxMembers *int
}

func FromModel(s *models.Subscription) *SubscriptionDTO {
	if s == nil {
		return nil
	}
	return &SubscriptionDTO{
		ID:            s.ID,
		AdminID:       s.AdminID,
		Name:          s.Name,
		Cost:          s.Cost,
		Cadence:       s.Cadence,
		StartDate:     s.StartDate,
		NextRenewalAt: s.NextRenewalAt,
		Category:      s.Category,
		AutoRenew:     s.AutoRenew,
		IsShared:      s.IsShared,
		MaxMembers:    s.MaxMembers,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func fromModels(rows []models.Subscription) []SubscriptionDTO {
	out := make([]SubscriptionDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i]))
	}
	return out
}
