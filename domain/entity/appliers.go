package entity

import (
	"fmt"
	"sync"

	"chronicle/domain/events"
	pkgerrors "chronicle/pkg/errors"
)

// Applier folds one event into the working state builder. Appliers receive
// exactly the event payload, mutate the builder in place, and must be
// deterministic: no wall-clock reads, no random values.
type Applier func(builder StateBuilder, event events.DomainEvent) error

// FlagEffect adjusts the transaction's working lifecycle flags when its
// event type is applied, so flags stay derivable from the event history.
type FlagEffect func(flags *LifecycleFlags)

// Common flag effects
func ArchiveEffect(flags *LifecycleFlags)   { flags.Archived = true }
func UnarchiveEffect(flags *LifecycleFlags) { flags.Archived = false }
func DeleteEffect(flags *LifecycleFlags)    { flags.Deleted = true }

type applierEntry struct {
	apply  Applier
	effect FlagEffect
}

// ApplierSet maps event types to the unique applier responsible for
// folding them into an entity's state. One set is built per entity type at
// composition time; ambiguity is rejected at registration, and a missing
// applier at apply time is a fatal configuration error, since an event
// with no applier means event history and materialized state diverge.
type ApplierSet struct {
	appliers map[string]applierEntry
	mu       sync.RWMutex
}

// NewApplierSet creates an empty applier set
func NewApplierSet() *ApplierSet {
	return &ApplierSet{
		appliers: make(map[string]applierEntry),
	}
}

// Register registers the applier for an event type
func (s *ApplierSet) Register(eventType string, apply Applier) error {
	return s.RegisterWithEffect(eventType, apply, nil)
}

// RegisterWithEffect registers an applier together with a lifecycle flag
// effect for the event type
func (s *ApplierSet) RegisterWithEffect(eventType string, apply Applier, effect FlagEffect) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.appliers[eventType]; exists {
		return pkgerrors.NewConfigurationError(
			"DUPLICATE_APPLIER",
			fmt.Sprintf("applier already registered for event type %q", eventType),
		)
	}
	if apply == nil {
		return pkgerrors.NewConfigurationError(
			"NIL_APPLIER",
			fmt.Sprintf("nil applier registered for event type %q", eventType),
		)
	}

	s.appliers[eventType] = applierEntry{apply: apply, effect: effect}
	return nil
}

// Resolve returns the applier and flag effect for an event type. A miss is
// fatal: the caller must not continue applying events.
func (s *ApplierSet) Resolve(eventType string) (Applier, FlagEffect, error) {
	s.mu.RLock()
	entry, exists := s.appliers[eventType]
	s.mu.RUnlock()

	if !exists {
		return nil, nil, pkgerrors.NewConfigurationError(
			"MISSING_APPLIER",
			fmt.Sprintf("no applier registered for event type %q", eventType),
		)
	}
	return entry.apply, entry.effect, nil
}
