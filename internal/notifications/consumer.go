package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/luisherrera/subtally-backend/pkg/db/models"
	"github.com/luisherrera/subtally-backend/pkg/enums"
	"github.com/luisherrera/subtally-backend/pkg/logger"
	"github.com/luisherrera/subtally-backend/pkg/outbox"
	"github.com/luisherrera/subtally-backend/pkg/outbox/idempotency"
	"github.com/luisherrera/subtally-backend/pkg/outbox/payloads"
)

const notificationFanoutConsumer = "notification-fanout"

type pinger interface {
	Ping(ctx context.Context, userID uuid.UUID) error
}

// Consumer watches domain events and fans them out into per-user notifications.
type Consumer struct {
	repo         Repository
	pings        pinger
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds the notification fan-out consumer.
func NewConsumer(repo Repository, pings pinger, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if pings == nil {
		return nil, fmt.Errorf("realtime pinger required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		pings:        pings,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	fields := map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	}
	logCtx := c.logg.WithFields(ctx, fields)

	if !eventType.IsValid() {
		c.logg.Info(logCtx, "skipping unknown event")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, notificationFanoutConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	if err := c.handle(ctx, eventType, envelope.Data, logCtx); err != nil {
		c.logg.Error(logCtx, "notification fan-out failed", err)
		_ = c.idempotency.Delete(ctx, notificationFanoutConsumer, eventID)
		return processResult{nack: true}
	}

	return processResult{ack: true}
}

func (c *Consumer) handle(ctx context.Context, eventType enums.OutboxEventType, data json.RawMessage, logCtx context.Context) error {
	switch eventType {
	case enums.EventInviteCreated:
		return c.handleInviteCreated(ctx, data, logCtx)
	case enums.EventMembershipResponded:
		return c.handleMembershipResponded(ctx, data, logCtx)
	case enums.EventMembershipLeft:
		return c.handleMembershipLeft(ctx, data, logCtx)
	case enums.EventSubscriptionDeleted:
		return c.handleSubscriptionDeleted(ctx, data, logCtx)
	case enums.EventRenewalDue:
		return c.handleRenewalDue(ctx, data, logCtx)
	default:
		c.logg.Info(logCtx, "event type not handled")
		return nil
	}
}

func (c *Consumer) handleInviteCreated(ctx context.Context, data json.RawMessage, logCtx context.Context) error {
	var payload payloads.InviteCreatedEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse invite payload: %w", err)
	}
	if payload.InviteeUserID == uuid.Nil {
		return fmt.Errorf("invitee user id missing")
	}

	notification := &models.Notification{
		UserID:         payload.InviteeUserID,
		SubscriptionID: payload.SubscriptionID,
		Type:           enums.NotificationTypeInvite,
		Message:        fmt.Sprintf("You have been invited to share %s.", payload.SubscriptionName),
	}
	if err := c.repo.Create(ctx, notification); err != nil {
		return err
	}
	c.ping(ctx, logCtx, payload.InviteeUserID)
	c.logg.Info(logCtx, "invitee notified")
	return nil
}

func (c *Consumer) handleMembershipResponded(ctx context.Context, data json.RawMessage, logCtx context.Context) error {
	var payload payloads.MembershipRespondedEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse response payload: %w", err)
	}
	if payload.AdminUserID == uuid.Nil {
		return fmt.Errorf("admin user id missing")
	}

	verb := "declined"
	if payload.Accepted {
		verb = "accepted"
	}
	notification := &models.Notification{
		UserID:         payload.AdminUserID,
		SubscriptionID: payload.SubscriptionID,
		Type:           enums.NotificationTypeMembershipUpdate,
		Message:        fmt.Sprintf("Your invitation to %s was %s.", payload.SubscriptionName, verb),
	}
	if err := c.repo.Create(ctx, notification); err != nil {
		return err
	}

	// The invite notification is stale once the invitee has responded.
	if _, err := c.repo.MarkInviteRead(ctx, payload.ResponderUserID, payload.SubscriptionID, time.Now().UTC()); err != nil {
		c.logg.Error(logCtx, "failed to retire invite notification", err)
	}

	c.ping(ctx, logCtx, payload.AdminUserID)
	c.ping(ctx, logCtx, payload.ResponderUserID)
	c.logg.Info(logCtx, "admin notified of invitation response")
	return nil
}

func (c *Consumer) handleMembershipLeft(ctx context.Context, data json.RawMessage, logCtx context.Context) error {
	var payload payloads.MembershipLeftEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse leave payload: %w", err)
	}
	if payload.AdminUserID == uuid.Nil {
		return fmt.Errorf("admin user id missing")
	}

	notification := &models.Notification{
		UserID:         payload.AdminUserID,
		SubscriptionID: payload.SubscriptionID,
		Type:           enums.NotificationTypeMembershipUpdate,
		Message:        fmt.Sprintf("A member left %s.", payload.SubscriptionName),
	}
	if err := c.repo.Create(ctx, notification); err != nil {
		return err
	}
	c.ping(ctx, logCtx, payload.AdminUserID)
	c.logg.Info(logCtx, "admin notified of member leaving")
	return nil
}

func (c *Consumer) handleSubscriptionDeleted(ctx context.Context, data json.RawMessage, logCtx context.Context) error {
	var payload payloads.SubscriptionDeletedEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse deletion payload: %w", err)
	}

	for _, memberID := range payload.MemberUserIDs {
		if memberID == uuid.Nil || memberID == payload.AdminUserID {
			continue
		}
		notification := &models.Notification{
			UserID:         memberID,
			SubscriptionID: payload.SubscriptionID,
			Type:           enums.NotificationTypeSystem,
			Message:        fmt.Sprintf("%s was deleted by its admin.", payload.SubscriptionName),
		}
		if err := c.repo.Create(ctx, notification); err != nil {
			return err
		}
		c.ping(ctx, logCtx, memberID)
	}
	c.logg.Info(logCtx, "members notified of deletion")
	return nil
}

func (c *Consumer) handleRenewalDue(ctx context.Context, data json.RawMessage, logCtx context.Context) error {
	var payload payloads.RenewalDueEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse renewal payload: %w", err)
	}
	if payload.AdminUserID == uuid.Nil {
		return fmt.Errorf("admin user id missing")
	}

	message := fmt.Sprintf("%s renews on %s for %s.",
		payload.SubscriptionName,
		payload.RenewalAt.Format("Jan 2, 2006"),
		payload.Cost.StringFixed(2))

	recipients := append([]uuid.UUID{payload.AdminUserID}, payload.MemberUserIDs...)
	seen := make(map[uuid.UUID]struct{}, len(recipients))
	for _, userID := range recipients {
		if userID == uuid.Nil {
			continue
		}
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}

		notification := &models.Notification{
			UserID:         userID,
			SubscriptionID: payload.SubscriptionID,
			Type:           enums.NotificationTypeRenewalDue,
			Message:        message,
		}
		if err := c.repo.Create(ctx, notification); err != nil {
			return err
		}
		c.ping(ctx, logCtx, userID)
	}
	c.logg.Info(logCtx, "renewal reminders created")
	return nil
}

func (c *Consumer) ping(ctx context.Context, logCtx context.Context, userID uuid.UUID) {
	if err := c.pings.Ping(ctx, userID); err != nil {
		c.logg.Error(logCtx, "realtime ping failed", err)
	}
}
