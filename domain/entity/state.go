package entity

// State is an immutable snapshot of an entity's domain state. Concrete
// states are plain structs; the only way to derive a new State is through
// a StateBuilder inside an open transaction.
type State interface {
	// ToBuilder returns a mutable builder seeded with a copy of this
	// state. Mutating the builder must never affect the source state.
	ToBuilder() StateBuilder
}

// StateBuilder is the mutable staging object used inside a transaction to
// construct the next immutable state. Event appliers mutate the builder in
// place; Build produces the candidate state installed at commit.
type StateBuilder interface {
	Build() State
}

// LifecycleFlags gate an entity's visibility without erasing its stored
// history. Archived or deleted entities are excluded from normal
// repository loads.
type LifecycleFlags struct {
	Archived bool `json:"archived"`
	Deleted  bool `json:"deleted"`
}

// IsVisible reports whether the entity should appear in normal reads
func (f LifecycleFlags) IsVisible() bool {
	return !f.Archived && !f.Deleted
}
