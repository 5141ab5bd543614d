package entity

import (
	pkgerrors "chronicle/pkg/errors"
)

// Entity is a versioned, event-sourced entity. It holds an identity, an
// immutable state, a monotonically increasing version, and lifecycle
// flags. The only mutation path is a committing Transaction; everything
// else is a pure read.
type Entity struct {
	id      string
	state   State
	version int
	flags   LifecycleFlags

	// active is the single open transaction, if any. At most one
	// transaction may be attached at a time; Begin sets it and Commit or
	// Discard clears it.
	active *Transaction
}

// New creates an entity with the given identity and default state,
// version 0, and clean lifecycle flags.
func New(id string, initial State) *Entity {
	return &Entity{
		id:    id,
		state: initial,
	}
}

// ID returns the entity's identity
func (e *Entity) ID() string {
	return e.id
}

// State returns the last committed state
func (e *Entity) State() State {
	return e.state
}

// Version returns the last committed version
func (e *Entity) Version() int {
	return e.version
}

// Flags returns the last committed lifecycle flags
func (e *Entity) Flags() LifecycleFlags {
	return e.flags
}

// Builder returns the open transaction's state builder. Calling it with no
// open transaction is a protocol violation.
func (e *Entity) Builder() (StateBuilder, error) {
	if e.active == nil {
		return nil, pkgerrors.ErrNoTransaction
	}
	return e.active.builder, nil
}

// attach registers tx as the entity's single open transaction
func (e *Entity) attach(tx *Transaction) error {
	if e.active != nil {
		return pkgerrors.ErrTransactionOpen
	}
	e.active = tx
	return nil
}

// detach clears the active transaction reference. Only the owning
// transaction may detach itself.
func (e *Entity) detach(tx *Transaction) {
	if e.active == tx {
		e.active = nil
	}
}

// updateState installs the committed state, version, and flags atomically.
// It is reachable only from the owning transaction's commit path; any
// other call fails without touching the entity.
func (e *Entity) updateState(tx *Transaction, state State, version int, flags LifecycleFlags) error {
	if e.active != tx || !tx.committing {
		return pkgerrors.ErrNoTransaction
	}
	e.state = state
	e.version = version
	e.flags = flags
	return nil
}
