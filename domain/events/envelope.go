package events

import (
	"time"

	"github.com/google/uuid"
)

// Envelope wraps a domain event with the bookkeeping the event store and
// the publishing pipeline need: the version the event produced on its
// aggregate, the time it was applied, and free-form metadata.
//
// Replaying the envelopes for an aggregate in version order reconstructs
// the exact state that existed when they were written.
type Envelope struct {
	EventID     string      `json:"event_id"`
	AggregateID string      `json:"aggregate_id"`
	EventType   string      `json:"event_type"`
	Version     int         `json:"version"`
	Timestamp   time.Time   `json:"timestamp"`
	Metadata    Metadata    `json:"metadata,omitempty"`
	Event       DomainEvent `json:"-"`
}

// NewEnvelope wraps an event at the version it produced
func NewEnvelope(event DomainEvent, version int, timestamp time.Time, metadata Metadata) Envelope {
	return Envelope{
		EventID:     uuid.New().String(),
		AggregateID: event.GetAggregateID(),
		EventType:   event.GetEventType(),
		Version:     version,
		Timestamp:   timestamp,
		Metadata:    metadata.Clone(),
		Event:       event,
	}
}

// WithEvent returns a copy of the envelope carrying the given payload
func (e Envelope) WithEvent(event DomainEvent) Envelope {
	e.Event = event
	return e
}
