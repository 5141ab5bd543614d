package memory

import (
	"context"
	"fmt"
	"sync"

	"chronicle/domain/aggregate"
	"chronicle/domain/events"
	pkgerrors "chronicle/pkg/errors"
)

// MemoryEventStore is an in-memory implementation of the event store
// port, used by tests and local single-process deployments. Envelope
// batches append atomically under one lock, giving the all-or-nothing
// and read-your-writes guarantees the port requires.
type MemoryEventStore struct {
	mu      sync.RWMutex
	streams map[string]*stream
}

type stream struct {
	snapshot *aggregate.Snapshot
	events   []events.Envelope
	count    int
}

// NewMemoryEventStore creates an empty in-memory event store
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		streams: make(map[string]*stream),
	}
}

// ReadHistory returns the latest snapshot and the events recorded after
// it, in version order
func (s *MemoryEventStore) ReadHistory(ctx context.Context, aggregateID string) (*aggregate.Snapshot, []events.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streams[aggregateID]
	if !ok {
		return nil, nil, nil
	}

	var snapshot *aggregate.Snapshot
	after := 0
	if st.snapshot != nil {
		snap := *st.snapshot
		snapshot = &snap
		after = snap.Version
	}

	tail := make([]events.Envelope, 0, len(st.events))
	for _, env := range st.events {
		if env.Version > after {
			tail = append(tail, env)
		}
	}
	return snapshot, tail, nil
}

// AppendEvents appends the batch atomically. The first envelope must
// continue the stream's version sequence; a gap or overlap rejects the
// whole batch.
func (s *MemoryEventStore) AppendEvents(ctx context.Context, aggregateID string, envelopes []events.Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(aggregateID)

	expected := st.lastVersion() + 1
	for i, env := range envelopes {
		if env.Version != expected+i {
			return pkgerrors.NewDomainError(
				pkgerrors.DomainConflictError,
				"VERSION_CONFLICT",
				fmt.Sprintf("event %d of batch has version %d, stream expects %d", i, env.Version, expected+i),
			)
		}
	}

	st.events = append(st.events, envelopes...)
	return nil
}

// WriteSnapshot stores the snapshot, superseding any previous one
func (s *MemoryEventStore) WriteSnapshot(ctx context.Context, aggregateID string, snapshot aggregate.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(aggregateID)
	st.snapshot = &snapshot
	return nil
}

// ReadPostSnapshotCount returns the recorded post-snapshot event count
func (s *MemoryEventStore) ReadPostSnapshotCount(ctx context.Context, aggregateID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streams[aggregateID]
	if !ok {
		return 0, nil
	}
	return st.count, nil
}

// WritePostSnapshotCount records the post-snapshot event count
func (s *MemoryEventStore) WritePostSnapshotCount(ctx context.Context, aggregateID string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stream(aggregateID).count = count
	return nil
}

// EventCount reports the total number of stored events for an aggregate.
// Test helper; not part of the port.
func (s *MemoryEventStore) EventCount(aggregateID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streams[aggregateID]
	if !ok {
		return 0
	}
	return len(st.events)
}

// HasSnapshot reports whether a snapshot exists for an aggregate. Test
// helper; not part of the port.
func (s *MemoryEventStore) HasSnapshot(aggregateID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streams[aggregateID]
	return ok && st.snapshot != nil
}

func (s *MemoryEventStore) stream(aggregateID string) *stream {
	st, ok := s.streams[aggregateID]
	if !ok {
		st = &stream{}
		s.streams[aggregateID] = st
	}
	return st
}

func (st *stream) lastVersion() int {
	if len(st.events) > 0 {
		return st.events[len(st.events)-1].Version
	}
	if st.snapshot != nil {
		return st.snapshot.Version
	}
	return 0
}
