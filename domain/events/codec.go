package events

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Codec maps event type names to payload factories so storage adapters can
// rehydrate typed events from their serialized form. Registration happens
// once at composition time; decoding an unregistered type is an error, not
// a silent fallback.
type Codec struct {
	factories map[string]func() DomainEvent
	mu        sync.RWMutex
}

// NewCodec creates an empty codec
func NewCodec() *Codec {
	return &Codec{
		factories: make(map[string]func() DomainEvent),
	}
}

// Register associates an event type name with a factory producing an empty
// payload of that type. Registering the same type twice is a configuration
// error.
func (c *Codec) Register(eventType string, factory func() DomainEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.factories[eventType]; exists {
		return fmt.Errorf("event type %q already registered", eventType)
	}

	c.factories[eventType] = factory
	return nil
}

// Encode serializes an event payload to JSON
func (c *Codec) Encode(event DomainEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %q: %w", event.GetEventType(), err)
	}
	return data, nil
}

// Decode deserializes an event payload of the given type
func (c *Codec) Decode(eventType string, data []byte) (DomainEvent, error) {
	c.mu.RLock()
	factory, exists := c.factories[eventType]
	c.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no factory registered for event type %q", eventType)
	}

	event := factory()
	if err := json.Unmarshal(data, event); err != nil {
		return nil, fmt.Errorf("failed to decode event %q: %w", eventType, err)
	}
	return event, nil
}
