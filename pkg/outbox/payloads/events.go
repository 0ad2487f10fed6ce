package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/luisherrera/subtally-backend/pkg/enums"
)

// InviteCreatedEvent signals a pending membership awaiting the invitee's response.
type InviteCreatedEvent struct {
	MembershipID     uuid.UUID `json:"membership_id"`
	SubscriptionID   uuid.UUID `json:"subscription_id"`
	SubscriptionName string    `json:"subscription_name"`
	InviteeUserID    uuid.UUID `json:"invitee_user_id"`
	InvitedByUserID  uuid.UUID `json:"invited_by_user_id"`
}

// MembershipRespondedEvent is emitted when an invitee accepts or rejects an invite.
type MembershipRespondedEvent struct {
	MembershipID     uuid.UUID              `json:"membership_id"`
	SubscriptionID   uuid.UUID              `json:"subscription_id"`
	SubscriptionName string                 `json:"subscription_name"`
	AdminUserID      uuid.UUID              `json:"admin_user_id"`
	ResponderUserID  uuid.UUID              `json:"responder_user_id"`
	Accepted         bool                   `json:"accepted"`
	Status           enums.MembershipStatus `json:"status"`
}

// MembershipLeftEvent is emitted when an accepted member leaves a shared subscription.
type MembershipLeftEvent struct {
	MembershipID     uuid.UUID `json:"membership_id"`
	SubscriptionID   uuid.UUID `json:"subscription_id"`
	SubscriptionName string    `json:"subscription_name"`
	AdminUserID      uuid.UUID `json:"admin_user_id"`
	MemberUserID     uuid.UUID `json:"member_user_id"`
	LeftAt           time.Time `json:"left_at"`
}

// SubscriptionDeletedEvent carries the recipients whose feeds must be refreshed
// after a cascade completes.
type SubscriptionDeletedEvent struct {
	SubscriptionID   uuid.UUID   `json:"subscription_id"`
	SubscriptionName string      `json:"subscription_name"`
	AdminUserID      uuid.UUID   `json:"admin_user_id"`
	MemberUserIDs    []uuid.UUID `json:"member_user_ids"`
	DeletedAt        time.Time   `json:"deleted_at"`
}

// RenewalDueEvent describes an upcoming renewal for the admin and accepted members.
type RenewalDueEvent struct {
	SubscriptionID   uuid.UUID       `json:"subscription_id"`
	SubscriptionName string          `json:"subscription_name"`
	AdminUserID      uuid.UUID       `json:"admin_user_id"`
	MemberUserIDs    []uuid.UUID     `json:"member_user_ids"`
	RenewalAt        time.Time       `json:"renewal_at"`
	Cost             decimal.Decimal `json:"cost"`
}
