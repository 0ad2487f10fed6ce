package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/luisherrera/subtally-backend/pkg/db/models"
	"github.com/luisherrera/subtally-backend/pkg/enums"
	pkgerrors "github.com/luisherrera/subtally-backend/pkg/errors"
	"github.com/luisherrera/subtally-backend/pkg/logger"
	"github.com/luisherrera/subtally-backend/pkg/outbox"
	"github.com/luisherrera/subtally-backend/pkg/outbox/payloads"
)

type membershipsRepository interface {
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.Membership, error)
	ListForUser(ctx context.Context, userID uuid.UUID, statuses ...enums.MembershipStatus) ([]models.Membership, error)
	CountBySubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error)
	CountAccepted(ctx context.Context, subscriptionID uuid.UUID) (int64, error)
	DeleteByID(ctx context.Context, id uuid.UUID) error
	DeleteByPair(ctx context.Context, subscriptionID, userID uuid.UUID) error
}

type notificationsRepository interface {
	DeleteBySubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error)
}

type subscriptionsRepository interface {
	Create(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	ListByAdmin(ctx context.Context, adminID uuid.UUID) ([]models.Subscription, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Subscription, error)
	Updates(ctx context.Context, id uuid.UUID, fields map[string]any) error
	DeleteRow(ctx context.Context, id uuid.UUID) error
	DeleteCascade(ctx context.Context, id, actorID uuid.UUID) error
	ListRenewalsDue(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	AdvanceRenewal(ctx context.Context, id uuid.UUID, from, to time.Time) (int64, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns the subscription lifecycle, including the delete cascade.
type Service interface {
	Create(ctx context.Context, adminID uuid.UUID, input CreateSubscriptionInput) (*SubscriptionDTO, error)
	Get(ctx context.Context, id, actorID uuid.UUID) (*SubscriptionDTO, error)
	List(ctx context.Context, userID uuid.UUID) ([]SubscriptionDTO, error)
	Update(ctx context.Context, id, actorID uuid.UUID, input UpdateSubscriptionInput) (*SubscriptionDTO, error)
	Delete(ctx context.Context, id, actorID uuid.UUID) error
	AdvanceDueRenewals(ctx context.Context, now time.Time, limit int) (int, error)
}

type service struct {
	repo          subscriptionsRepository
	members       membershipsRepository
	notifications notificationsRepository
	dbc           txRunner
	emitter       eventEmitter
	logg          *logger.Logger
	cascadeRPC    bool
}

// NewService wires subscription dependencies. cascadeRPC toggles the
// server-side cascade procedure; when false deletes go straight to the
// manual fallback.
func NewService(repo subscriptionsRepository, members membershipsRepository, notifications notificationsRepository, dbc txRunner, emitter eventEmitter, logg *logger.Logger, cascadeRPC bool) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("subscriptions repository required")
	}
	if members == nil {
		return nil, fmt.Errorf("memberships repository required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notifications repository required")
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
		repo:          repo,
		members:       members,
		notifications: notifications,
		dbc:           dbc,
		emitter:       emitter,
		logg:          logg,
		cascadeRPC:    cascadeRPC,
	}, nil
}

func (s *service) Create(ctx context.Context, adminID uuid.UUID, input CreateSubscriptionInput) (*SubscriptionDTO, error) {
	if adminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "admin id required")
	}
	if input.Name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name required")
	}
	if input.Cost.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cost must not be negative")
	}
	if !input.Cadence.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid cadence %q", input.Cadence))
	}
	if input.StartDate.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "start date required")
	}
	if input.MaxMembers != nil && *input.MaxMembers < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "max members must be positive")
	}

	autoRenew := true
	if input.AutoRenew != nil {
		autoRenew = *input.AutoRenew
	}

	sub := &models.Subscription{
		AdminID:       adminID,
		Name:          input.Name,
		Cost:          input.Cost,
		Cadence:       input.Cadence,
		StartDate:     input.StartDate,
		NextRenewalAt: input.Cadence.Next(input.StartDate),
		Category:      input.Category,
		AutoRenew:     autoRenew,
		IsShared:      input.IsShared,
		MaxMembers:    input.MaxMembers,
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
	}
	return FromModel(sub), nil
}

func (s *service) Get(ctx context.Context, id, actorID uuid.UUID) (*SubscriptionDTO, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id required")
	}
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub.AdminID != actorID {
		member, err := s.isAcceptedMember(ctx, id, actorID)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not a member of this subscription")
		}
	}
	return FromModel(sub), nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID) ([]SubscriptionDTO, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	owned, err := s.repo.ListByAdmin(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list owned subscriptions")
	}

	rows, err := s.members.ListForUser(ctx, userID, enums.MembershipStatusAccepted)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list memberships")
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.SubscriptionID)
	}
	shared, err := s.repo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shared subscriptions")
	}

	return fromModels(append(owned, shared...)), nil
}

func (s *service) Update(ctx context.Context, id, actorID uuid.UUID, input UpdateSubscriptionInput) (*SubscriptionDTO, error) {
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub.AdminID != actorID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the subscription admin can update it")
	}

	fields := map[string]any{}
	if input.Name != nil {
		if *input.Name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "name must not be empty")
		}
		fields["name"] = *input.Name
	}
	if input.Cost != nil {
		if input.Cost.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "cost must not be negative")
		}
		fields["cost"] = *input.Cost
	}
	if input.Cadence != nil {
		if !input.Cadence.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid cadence %q", *input.Cadence))
		}
		fields["cadence"] = *input.Cadence
	}
	if input.Category != nil {
		fields["category"] = *input.Category
	}
	if input.AutoRenew != nil {
		fields["auto_renew"] = *input.AutoRenew
	}
	if input.IsShared != nil {
		if !*input.IsShared {
			// A private subscription carries no membership rows beyond the
			// admin's implicit one, so the flip is blocked while any exist.
			rows, err := s.members.CountBySubscription(ctx, id)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count memberships")
			}
			if rows > 0 {
				return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cannot unshare a subscription with members or pending invitations")
			}
		}
		fields["is_shared"] = *input.IsShared
	}
	if input.MaxMembers != nil {
		if *input.MaxMembers < 1 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "max members must be positive")
		}
		// The admin holds an implicit seat on top of accepted members.
		accepted, err := s.members.CountAccepted(ctx, id)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count accepted members")
		}
		if int64(*input.MaxMembers) < accepted+1 {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "max members cannot drop below occupied seats")
		}
		fields["max_members"] = *input.MaxMembers
	}
	if len(fields) == 0 {
		return FromModel(sub), nil
	}

	if err := s.repo.Updates(ctx, id, fields); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription")
	}
	updated, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload subscription")
	}
	return FromModel(updated), nil
}

// Delete removes the subscription and every dependent row. The server-side
// procedure is tried first; any failure there falls through to the manual
// cascade. The subscription row is never deleted while membership rows
// referencing it survive.
func (s *service) Delete(ctx context.Context, id, actorID uuid.UUID) error {
	if id == uuid.Nil || actorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription and actor ids required")
	}

	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub.AdminID != actorID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only the subscription admin can delete it")
	}

	members, err := s.members.ListBySubscription(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list memberships")
	}
	memberIDs := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		if m.Status == enums.MembershipStatusAccepted {
			memberIDs = append(memberIDs, m.UserID)
		}
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"subscription_id": id.String(),
		"member_rows":     len(members),
	})

	if s.cascadeRPC {
		if err := s.repo.DeleteCascade(ctx, id, actorID); err == nil {
			s.logg.Info(logCtx, "cascade procedure completed")
			s.emitDeleted(ctx, sub, memberIDs)
			return nil
		} else {
			s.logg.Warn(logCtx, fmt.Sprintf("cascade procedure failed, falling back to manual cascade: %v", err))
		}
	}

	// Notifications are not authoritative; residue is tolerated.
	if _, err := s.notifications.DeleteBySubscription(ctx, id); err != nil {
		s.logg.Warn(logCtx, fmt.Sprintf("notification cleanup failed, continuing: %v", err))
	}

	var rowErrs error
	for _, m := range members {
		if err := s.members.DeleteByID(ctx, m.ID); err == nil {
			continue
		} else {
			s.logg.Warn(logCtx, fmt.Sprintf("membership delete by id failed, retrying by pair: %v", err))
		}
		if err := s.members.DeleteByPair(ctx, m.SubscriptionID, m.UserID); err != nil {
			rowErrs = multierr.Append(rowErrs, fmt.Errorf("membership %s (user %s): %w", m.ID, m.UserID, err))
		}
	}

	remaining, err := s.members.CountBySubscription(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify cascade")
	}
	if remaining > 0 {
		// Parent row stays so the cascade can be retried.
		msg := fmt.Sprintf("%d membership rows survived the cascade", remaining)
		if rowErrs != nil {
			return pkgerrors.Wrap(pkgerrors.CodeIncompleteCascade, rowErrs, msg)
		}
		return pkgerrors.New(pkgerrors.CodeIncompleteCascade, msg)
	}

	if err := s.repo.DeleteRow(ctx, id); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDeleteFailed, err, "delete subscription row")
	}

	s.logg.Info(logCtx, "manual cascade completed")
	s.emitDeleted(ctx, sub, memberIDs)
	return nil
}

// AdvanceDueRenewals moves past-due renewal dates forward one cadence step
// and emits a renewal_due event per advanced subscription.
func (s *service) AdvanceDueRenewals(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.repo.ListRenewalsDue(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due renewals")
	}

	advanced := 0
	for _, sub := range due {
		next := sub.Cadence.Next(sub.NextRenewalAt)
		memberIDs, err := s.acceptedMemberIDs(ctx, sub.ID)
		if err != nil {
			return advanced, err
		}

		sub := sub
		err = s.dbc.WithTx(ctx, func(tx *gorm.DB) error {
			rows, err := s.repo.AdvanceRenewal(ctx, sub.ID, sub.NextRenewalAt, next)
			if err != nil {
				return err
			}
			if rows == 0 {
				// Another run advanced it.
				return nil
			}
			return s.emitter.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventRenewalDue,
				AggregateType: enums.AggregateSubscription,
				AggregateID:   sub.ID,
				Version:       1,
				Data: payloads.RenewalDueEvent{
					SubscriptionID:   sub.ID,
					SubscriptionName: sub.Name,
					AdminUserID:      sub.AdminID,
					MemberUserIDs:    memberIDs,
					RenewalAt:        sub.NextRenewalAt,
					Cost:             sub.Cost,
				},
			})
		})
		if err != nil {
			return advanced, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advance renewal")
		}
		advanced++
	}
	return advanced, nil
}

func (s *service) acceptedMemberIDs(ctx context.Context, subscriptionID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.members.ListBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list memberships")
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		if row.Status == enums.MembershipStatusAccepted {
			ids = append(ids, row.UserID)
		}
	}
	return ids, nil
}

func (s *service) isAcceptedMember(ctx context.Context, subscriptionID, userID uuid.UUID) (bool, error) {
	rows, err := s.members.ListForUser(ctx, userID, enums.MembershipStatusAccepted)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check membership")
	}
	for _, row := range rows {
		if row.SubscriptionID == subscriptionID {
			return true, nil
		}
	}
	return false, nil
}

func (s *service) emitDeleted(ctx context.Context, sub *models.Subscription, memberIDs []uuid.UUID) {
	err := s.dbc.WithTx(ctx, func(tx *gorm.DB) error {
		return s.emitter.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionDeleted,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			Actor:         &outbox.ActorRef{UserID: sub.AdminID},
			Version:       1,
			Data: payloads.SubscriptionDeletedEvent{
				SubscriptionID:   sub.ID,
				SubscriptionName: sub.Name,
				AdminUserID:      sub.AdminID,
				MemberUserIDs:    memberIDs,
				DeletedAt:        time.Now().UTC(),
			},
		})
	})
	if err != nil {
		// The cascade already completed; the event is best-effort.
		s.logg.Error(ctx, "emit subscription deleted event", err)
	}
}
