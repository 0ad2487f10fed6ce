package memberships

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/luisherrera/subtally-backend/pkg/db/models"
	"github.com/luisherrera/subtally-backend/pkg/enums"
	pkgerrors "github.com/luisherrera/subtally-backend/pkg/errors"
	"github.com/luisherrera/subtally-backend/pkg/logger"
	"github.com/luisherrera/subtally-backend/pkg/outbox"
	"github.com/luisherrera/subtally-backend/pkg/outbox/payloads"
)

type membershipsRepository interface {
	Get(ctx context.Context, subscriptionID, userID uuid.UUID) (*models.Membership, error)
	AcceptPending(ctx context.Context, subscriptionID, userID uuid.UUID, now time.Time) (int64, error)
	DeletePending(ctx context.Context, subscriptionID, userID uuid.UUID) (int64, error)
	MarkLeft(ctx context.Context, subscriptionID, userID uuid.UUID) (int64, error)
	ListMembers(ctx context.Context, subscriptionID uuid.UUID) ([]MemberDTO, error)
	ListForUser(ctx context.Context, userID uuid.UUID, statuses ...enums.MembershipStatus) ([]models.Membership, error)
	WithTx(tx *gorm.DB) *Repository
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

// Service handles invitation responses and membership exits.
type Service interface {
	Respond(ctx context.Context, subscriptionID, userID uuid.UUID, decision enums.MembershipStatus) error
	Leave(ctx context.Context, subscriptionID, userID uuid.UUID) error
	ListMembers(ctx context.Context, subscriptionID, actorID uuid.UUID) ([]MemberDTO, error)
	ListMine(ctx context.Context, userID uuid.UUID) ([]MembershipDTO, error)
}

type service struct {
	repo    membershipsRepository
	subs    subscriptionsRepository
	dbc     txRunner
	emitter eventEmitter
	logg    *logger.Logger
}

// NewService wires membership response dependencies.
func NewService(repo membershipsRepository, subs subscriptionsRepository, dbc txRunner, emitter eventEmitter, logg *logger.Logger) (Service, error) {
	if repo == nil {
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
	return &service{repo: repo, subs: subs, dbc: dbc, emitter: emitter, logg: logg}, nil
}

func (s *service) Respond(ctx context.Context, subscriptionID, userID uuid.UUID, decision enums.MembershipStatus) error {
	if subscriptionID == uuid.Nil || userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription and user ids required")
	}
	if decision != enums.MembershipStatusAccepted && decision != enums.MembershipStatusRejected {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("decision must be %s or %s", enums.MembershipStatusAccepted, enums.MembershipStatusRejected))
	}

	sub, err := s.subs.FindByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"subscription_id": subscriptionID.String(),
		"user_id":         userID.String(),
		"decision":        decision,
	})

	return s.dbc.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		membership, err := repo.Get(ctx, subscriptionID, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "invitation not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load membership")
		}

		if decision == enums.MembershipStatusAccepted {
			// Pending invitations do not hold a seat, so the limit is
			// re-checked here before the flip. The admin holds an implicit
			// seat.
			if membership.Status == enums.MembershipStatusPending && sub.MaxMembers != nil {
				accepted, err := repo.CountAccepted(ctx, subscriptionID)
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count accepted members")
				}
				if accepted+1 >= int64(*sub.MaxMembers) {
					return pkgerrors.New(pkgerrors.CodeConflict, "subscription has no free seats")
				}
			}
			rows, err := repo.AcceptPending(ctx, subscriptionID, userID, time.Now().UTC())
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "accept invitation")
			}
			if rows == 0 {
				// Re-accepting an accepted invite is a no-op.
				if membership.Status == enums.MembershipStatusAccepted {
					s.logg.Info(logCtx, "invitation already accepted")
					return nil
				}
				return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("invitation is %s, not pending", membership.Status))
			}
		} else {
			rows, err := repo.DeletePending(ctx, subscriptionID, userID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject invitation")
			}
			if rows == 0 {
				return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("invitation is %s, not pending", membership.Status))
			}
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventMembershipResponded,
			AggregateType: enums.AggregateMembership,
			AggregateID:   membership.ID,
			Actor:         &outbox.ActorRef{UserID: userID},
			Version:       1,
			Data: payloads.MembershipRespondedEvent{
				MembershipID:     membership.ID,
				SubscriptionID:   subscriptionID,
				SubscriptionName: sub.Name,
				AdminUserID:      sub.AdminID,
				ResponderUserID:  userID,
				Accepted:         decision == enums.MembershipStatusAccepted,
				Status:           decision,
			},
		}
		if err := s.emitter.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit membership response event")
		}

		s.logg.Info(logCtx, "invitation response recorded")
		return nil
	})
}

func (s *service) Leave(ctx context.Context, subscriptionID, userID uuid.UUID) error {
	if subscriptionID == uuid.Nil || userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription and user ids required")
	}

	sub, err := s.subs.FindByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}

	return s.dbc.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		membership, err := repo.Get(ctx, subscriptionID, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "membership not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load membership")
		}

		rows, err := repo.MarkLeft(ctx, subscriptionID, userID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "leave subscription")
		}
		if rows == 0 {
			if membership.Status == enums.MembershipStatusLeft {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("membership is %s, not accepted", membership.Status))
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventMembershipLeft,
			AggregateType: enums.AggregateMembership,
			AggregateID:   membership.ID,
			Actor:         &outbox.ActorRef{UserID: userID},
			Version:       1,
			Data: payloads.MembershipLeftEvent{
				MembershipID:     membership.ID,
				SubscriptionID:   subscriptionID,
				SubscriptionName: sub.Name,
				AdminUserID:      sub.AdminID,
				MemberUserID:     userID,
				LeftAt:           time.Now().UTC(),
			},
		}
		if err := s.emitter.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit membership left event")
		}
		return nil
	})
}

func (s *service) ListMembers(ctx context.Context, subscriptionID, actorID uuid.UUID) ([]MemberDTO, error) {
	if subscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id required")
	}

	sub, err := s.subs.FindByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}

	allowed := sub.AdminID == actorID
	members, err := s.repo.ListMembers(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list members")
	}
	if !allowed {
		for _, member := range members {
			if member.UserID == actorID && member.Status == enums.MembershipStatusAccepted {
				allowed = true
				break
			}
		}
	}
	if !allowed {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not a member of this subscription")
	}
	return members, nil
}

func (s *service) ListMine(ctx context.Context, userID uuid.UUID) ([]MembershipDTO, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	rows, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list memberships")
	}
	out := make([]MembershipDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i]))
	}
	return out, nil
}
