package invitations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/luisherrera/subtally-backend/internal/memberships"
	dbpkg "github.com/luisherrera/subtally-backend/pkg/db"
	"github.com/luisherrera/subtally-backend/pkg/db/models"
	"github.com/luisherrera/subtally-backend/pkg/enums"
	pkgerrors "github.com/luisherrera/subtally-backend/pkg/errors"
	"github.com/luisherrera/subtally-backend/pkg/logger"
	"github.com/luisherrera/subtally-backend/pkg/outbox"
	"github.com/luisherrera/subtally-backend/pkg/outbox/payloads"
)

type usersRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByEmailFold(ctx context.Context, email string) ([]models.User, error)
	ResolveIdentifier(ctx context.Context, identifier string) (*uuid.UUID, error)
}

type membershipsRepository interface {
	Get(ctx context.Context, subscriptionID, userID uuid.UUID) (*models.Membership, error)
	CountAccepted(ctx context.Context, subscriptionID uuid.UUID) (int64, error)
	WithTx(tx *gorm.DB) *memberships.Repository
}

type subscriptionsRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service manages the invitation side of shared subscriptions.
type Service interface {
	Invite(ctx context.Context, subscriptionID uuid.UUID, inviteeIdentifier string, actorID uuid.UUID) (*memberships.MembershipDTO, error)
}

type service struct {
	users   usersRepository
	members membershipsRepository
	subs    subscriptionsRepository
	dbc     txRunner
	emitter eventEmitter
	logg    *logger.Logger
}

// NewService wires invitation dependencies.
func NewService(users usersRepository, members membershipsRepository, subs subscriptionsRepository, dbc txRunner, emitter eventEmitter, logg *logger.Logger) (Service, error) {
	if users == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if members == nil {
		return nil, fmt.Errorf("memberships repository required")
	}
	if subs == nil {
		return nil, fmt.Errorf("subscriptions repository required")
	}
	if dbc == nil {
		return nil, fmt.Errorf("db client required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		users:   users,
		members: members,
		subs:    subs,
		dbc:     dbc,
		emitter: emitter,
		logg:    logg,
	}, nil
}

func (s *service) Invite(ctx context.Context, subscriptionID uuid.UUID, inviteeIdentifier string, actorID uuid.UUID) (*memberships.MembershipDTO, error) {
	if subscriptionID == uuid.Nil || actorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription and actor ids required")
	}
	identifier := strings.TrimSpace(inviteeIdentifier)
	if identifier == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invitee identifier required")
	}

	sub, err := s.subs.FindByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub.AdminID != actorID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the subscription admin can invite members")
	}
	if !sub.IsShared {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is not shared")
	}

	if sub.MaxMembers != nil {
		accepted, err := s.members.CountAccepted(ctx, subscriptionID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count members")
		}
		// The admin holds an implicit seat.
		if accepted+1 >= int64(*sub.MaxMembers) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "subscription has no free seats")
		}
	}

	inviteeID, err := s.resolveInvitee(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if inviteeID == sub.AdminID {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "user already has access to this subscription")
	}

	if _, err := s.members.Get(ctx, subscriptionID, inviteeID); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "user already has a membership for this subscription")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing membership")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"subscription_id": subscriptionID.String(),
		"invitee_id":      inviteeID.String(),
		"actor_id":        actorID.String(),
	})

	var created *models.Membership
	err = s.dbc.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.members.WithTx(tx)

		membership, err := repo.Create(ctx, subscriptionID, inviteeID, enums.MembershipStatusPending, &actorID)
		if err != nil {
			// A concurrent invite for the same pair loses on the unique index.
			if dbpkg.IsUniqueViolation(err, "ux_memberships_subscription_user") {
				return pkgerrors.New(pkgerrors.CodeConflict, "user already has a membership for this subscription")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create membership")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventInviteCreated,
			AggregateType: enums.AggregateMembership,
			AggregateID:   membership.ID,
			Actor:         &outbox.ActorRef{UserID: actorID},
			Version:       1,
			Data: payloads.InviteCreatedEvent{
				MembershipID:     membership.ID,
				SubscriptionID:   subscriptionID,
				SubscriptionName: sub.Name,
				InviteeUserID:    inviteeID,
				InvitedByUserID:  actorID,
			},
		}
		if err := s.emitter.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit invite event")
		}

		created = membership
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(logCtx, "invitation created")
	return memberships.FromModel(created), nil
}

// resolveInvitee maps an identifier to exactly one user: exact email match
// first, then case-insensitive, then the server-side resolution function.
func (s *service) resolveInvitee(ctx context.Context, identifier string) (uuid.UUID, error) {
	user, err := s.users.FindByEmail(ctx, identifier)
	if err == nil {
		return user.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "invitee lookup")
	}

	matches, err := s.users.FindByEmailFold(ctx, identifier)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "invitee lookup")
	}
	switch {
	case len(matches) == 1:
		return matches[0].ID, nil
	case len(matches) > 1:
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeAmbiguousIdentifier, fmt.Sprintf("identifier %q matches %d users", identifier, len(matches)))
	}

	resolved, err := s.users.ResolveIdentifier(ctx, identifier)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "invitee resolution")
	}
	if resolved == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "no user matches the invitee identifier")
	}
	return *resolved, nil
}
