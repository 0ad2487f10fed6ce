package realtime

import (
	"context"
	"fmt"
	"sync"

	redisclient "github.com/luisherrera/subtally-backend/pkg/redis"
)

// Source delivers pings published on a named channel. The returned stop
// function releases the underlying subscription and may be called more
// than once.
type Source interface {
	Subscribe(ctx context.Context, channel string) (<-chan struct{}, func(), error)
}

type redisSource struct {
	client *redisclient.Client
}

// NewRedisSource adapts the shared redis client into a realtime Source.
func NewRedisSource(client *redisclient.Client) (Source, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &redisSource{client: client}, nil
}

func (s *redisSource) Subscribe(ctx context.Context, channel string) (<-chan struct{}, func(), error) {
	sub, err := s.client.Subscribe(ctx, channel)
	if err != nil {
		return nil, nil, err
	}

	events := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		defer close(events)
		messages := sub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				// Pings coalesce; a pending one already covers this wakeup.
				select {
				case events <- struct{}{}:
				default:
				}
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return events, stop, nil
}
