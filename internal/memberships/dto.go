package memberships

import (
	"time"

	"github.com/google/uuid"

	"github.com/luisherrera/subtally-backend/pkg/db/models"
	"github.com/luisherrera/subtally-backend/pkg/enums"
)

// MembershipDTO is the transport shape returned to API clients.
type MembershipDTO struct {
	ID              uuid.UUID              `json:"id"`
	SubscriptionID  uuid.UUID              `json:"subscription_id"`
	UserID          uuid.UUID              `json:"user_id"`
	Status          enums.MembershipStatus `json:"status"`
	JoinedAt        *time.Time             `json:"joined_at,omitempty"`
	InvitedByUserID *uuid.UUID             `json:"invited_by_user_id,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// MemberDTO is a membership joined with the member's public profile.
type MemberDTO struct {
	MembershipDTO
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

func FromModel(m *models.Membership) *MembershipDTO {
	if m == nil {
		return nil
	}
	return &MembershipDTO{
		ID:              m.ID,
		SubscriptionID:  m.SubscriptionID,
		UserID:          m.UserID,
		Status:          m.Status,
		JoinedAt:        m.JoinedAt,
		InvitedByUserID: m.InvitedByUserID,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
