package ports

import (
	"context"

	"chronicle/domain/aggregate"
	"chronicle/domain/events"
)

// EventStore persists and retrieves the ordered event and snapshot
// history for aggregate IDs. Implementations must provide read-your-writes
// consistency per aggregate ID, and AppendEvents must be all-or-nothing
// for the batch written in one call.
type EventStore interface {
	// ReadHistory returns the latest snapshot for the aggregate, if any,
	// and all events recorded after it in version order. A nil snapshot
	// with an empty slice means no history exists.
	ReadHistory(ctx context.Context, aggregateID string) (*aggregate.Snapshot, []events.Envelope, error)

	// AppendEvents appends the envelopes for one aggregate in version
	// order. The batch is written atomically or not at all.
	AppendEvents(ctx context.Context, aggregateID string, envelopes []events.Envelope) error

	// WriteSnapshot stores a new snapshot, superseding any previous one
	WriteSnapshot(ctx context.Context, aggregateID string, snapshot aggregate.Snapshot) error

	// ReadPostSnapshotCount returns the number of events written since
	// the last snapshot
	ReadPostSnapshotCount(ctx context.Context, aggregateID string) (int, error)

	// WritePostSnapshotCount records the number of events written since
	// the last snapshot
	WritePostSnapshotCount(ctx context.Context, aggregateID string, count int) error
}

// EventPublisher forwards durably persisted events to the event
// distribution collaborator. The repository guarantees the envelopes it
// hands over are exactly the ones it persisted, in the same order.
type EventPublisher interface {
	Publish(ctx context.Context, envelopes []events.Envelope) error
}

// CommandRouter derives the target aggregate ID from a command. The
// default strategy reads the command's own AggregateID; alternative
// strategies can shard or alias targets.
type CommandRouter interface {
	ResolveTargetID(cmd aggregate.Command) (string, error)
}

// Locker serializes aggregate dispatch across processes. Acquire blocks
// until the lock for the aggregate is held or its wait budget elapses,
// and returns the function releasing the lock. The repository's keyed
// mutex already serializes within one process; a Locker extends that
// guarantee to multi-writer deployments.
type Locker interface {
	Acquire(ctx context.Context, aggregateType, aggregateID string) (release func(context.Context) error, err error)
}

// Cache provides a simple TTL cache for read-side helpers
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
