package realtime

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	redisclient "github.com/luisherrera/subtally-backend/pkg/redis"
)

// Publisher pushes a ping on a user's notification channel. The payload
// carries no data; subscribers re-query their feed on every ping.
type Publisher struct {
	client *redisclient.Client
}

func NewPublisher(client *redisclient.Client) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &Publisher{client: client}, nil
}

func (p *Publisher) Ping(ctx context.Context, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return fmt.Errorf("user id required")
	}
	return p.client.Publish(ctx, p.client.RealtimeChannel(userID.String()), "1")
}
