package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/luisherrera/subtally-backend/pkg/logger"
)

type channelKeyer interface {
	RealtimeChannel(userID string) string
}

type listener struct {
	stop func()
	once sync.Once
}

// Hub multiplexes per-user notification pings onto listener callbacks.
// Each user holds at most one live subscription; subscribing again tears
// down the previous listener first.
type Hub struct {
	source Source
	keyer  channelKeyer
	logg   *logger.Logger

	mu     sync.Mutex
	active map[uuid.UUID]*listener
}

// NewHub wires the hub over a ping source.
func NewHub(source Source, keyer channelKeyer, logg *logger.Logger) (*Hub, error) {
	if source == nil {
		return nil, fmt.Errorf("realtime source required")
	}
	if keyer == nil {
		return nil, fmt.Errorf("channel keyer required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Hub{
		source: source,
		keyer:  keyer,
		logg:   logg,
		active: make(map[uuid.UUID]*listener),
	}, nil
}

// Subscribe registers onChange to run for every ping addressed to userID.
// The returned function removes the listener and is safe to call twice.
func (h *Hub) Subscribe(ctx context.Context, userID uuid.UUID, onChange func()) (func(), error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("user id required")
	}
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback required")
	}

	events, stop, err := h.source.Subscribe(ctx, h.keyer.RealtimeChannel(userID.String()))
	if err != nil {
		return nil, err
	}

	lst := &listener{}
	lst.stop = stop

	unsubscribe := func() {
		lst.once.Do(func() {
			lst.stop()
			h.mu.Lock()
			if h.active[userID] == lst {
				delete(h.active, userID)
			}
			h.mu.Unlock()
		})
	}

	h.mu.Lock()
	previous := h.active[userID]
	h.active[userID] = lst
	h.mu.Unlock()
	if previous != nil {
		previous.once.Do(previous.stop)
	}

	logCtx := h.logg.WithUserID(ctx, userID.String())
	h.logg.Info(logCtx, "realtime listener attached")

	go func() {
		defer unsubscribe()
		for range events {
			onChange()
		}
	}()

	return unsubscribe, nil
}

// ActiveListeners reports how many users currently hold a live subscription.
func (h *Hub) ActiveListeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}
