package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/luisherrera/subtally-backend/pkg/enums"
)

type decoderFunc func(payload json.RawMessage) (interface{}, error)

type registryKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry maps (event type, payload version) pairs to decoder
// functions. Safe for concurrent use; registration normally happens
// once at startup.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]decoderFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{registry: make(map[registryKey]decoderFunc)}
}

// Register stores a decoder for the given event type and version,
// replacing any previous registration.
func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder decoderFunc) {
	key := registryKey{eventType: eventType, version: version}
	r.mtx.Lock()
	r.registry[key] = decoder
	r.mtx.Unlock()
}

// Decode runs the decoder registered for the event type and version.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (interface{}, error) {
	key := registryKey{eventType: eventType, version: version}
	r.mtx.RLock()
	decoder, ok := r.registry[key]
	r.mtx.RUnlock()

	if !ok {
		return nil, fmt.Errorf("decoder not registered for %s@v%d", eventType, version)
	}
	return decoder(payload)
}
