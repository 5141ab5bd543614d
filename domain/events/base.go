package events

// DomainEvent is the base interface for all domain events.
// Events represent something that has happened in the past; the version
// and timestamp an event was recorded at live on its Envelope, not on the
// payload itself.
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string `json:"aggregate_id"`
	EventType   string `json:"event_type"`
}

func (e BaseEvent) GetAggregateID() string { return e.AggregateID }
func (e BaseEvent) GetEventType() string   { return e.EventType }

// Metadata carries out-of-band context recorded alongside an event,
// such as the triggering command type or actor.
type Metadata map[string]string

// Clone returns a copy of the metadata
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
