package entity

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"chronicle/domain/events"
	pkgerrors "chronicle/pkg/errors"
)

// validate checks built states at commit time. Struct tags on concrete
// state types drive the rules; non-struct states skip validation.
var validate = validator.New()

// Transaction is a scoped, single-use mutation context wrapping one
// entity. It accumulates state edits into a builder and advances a working
// version per applied event; the entity itself is untouched until Commit
// installs the built state, final version, and final flags atomically. A
// transaction that is never committed leaves the entity unchanged.
type Transaction struct {
	entity   *Entity
	appliers *ApplierSet
	builder  StateBuilder
	version  int
	flags    LifecycleFlags

	dirty      bool
	closed     bool
	committing bool
}

// Begin opens a transaction on the entity, capturing its current state
// into a builder along with the current version and flags. It fails if the
// entity already has an open transaction.
func Begin(e *Entity, appliers *ApplierSet) (*Transaction, error) {
	tx := &Transaction{
		entity:   e,
		appliers: appliers,
		version:  e.Version(),
		flags:    e.Flags(),
	}
	if err := e.attach(tx); err != nil {
		return nil, err
	}
	tx.builder = e.State().ToBuilder()
	return tx, nil
}

// Version returns the transaction's working version
func (t *Transaction) Version() int {
	return t.version
}

// Flags returns the transaction's working lifecycle flags
func (t *Transaction) Flags() LifecycleFlags {
	return t.flags
}

// Builder returns the working state builder
func (t *Transaction) Builder() (StateBuilder, error) {
	if t.closed {
		return nil, pkgerrors.ErrNoTransaction
	}
	return t.builder, nil
}

// Apply resolves the applier for the event's type and invokes it against
// the builder, then applies any registered lifecycle flag effect. Applier
// errors propagate unchanged: an applier failing mid-replay means state is
// unrecoverable for this unit of work, and nothing here may soften that.
func (t *Transaction) Apply(event events.DomainEvent) error {
	if t.closed {
		return pkgerrors.ErrTransactionClosed
	}

	apply, effect, err := t.appliers.Resolve(event.GetEventType())
	if err != nil {
		return err
	}

	if err := apply(t.builder, event); err != nil {
		return err
	}
	if effect != nil {
		effect(&t.flags)
	}

	t.dirty = true
	return nil
}

// AdvanceVersion moves the working version to newVersion, which must be
// exactly the current working version plus one. Anything else is a
// protocol violation and is never silently corrected.
func (t *Transaction) AdvanceVersion(newVersion int) error {
	if t.closed {
		return pkgerrors.ErrTransactionClosed
	}
	if newVersion != t.version+1 {
		return fmt.Errorf("%w: have %d, got %d", pkgerrors.ErrVersionGap, t.version, newVersion)
	}
	t.version = newVersion
	t.dirty = true
	return nil
}

// InitAll seeds the transaction from a snapshot: full state, version, and
// flags at once. Only valid as the very first hydration of an entity.
func (t *Transaction) InitAll(state State, version int, flags LifecycleFlags) error {
	if t.closed {
		return pkgerrors.ErrTransactionClosed
	}
	if t.entity.Version() != 0 {
		return pkgerrors.ErrAlreadyHydrated
	}
	t.builder = state.ToBuilder()
	t.version = version
	t.flags = flags
	t.dirty = true
	return nil
}

// InitVersion sets the working version directly. Only valid as the very
// first hydration of an entity.
func (t *Transaction) InitVersion(version int) error {
	if t.closed {
		return pkgerrors.ErrTransactionClosed
	}
	if t.entity.Version() != 0 {
		return pkgerrors.ErrAlreadyHydrated
	}
	t.version = version
	t.dirty = true
	return nil
}

// Commit builds and validates the final state, installs it on the entity
// together with the final version and flags, and releases the transaction
// handle. The handle is released whether or not validation succeeds; a
// validation failure leaves the entity's prior committed state untouched.
// Committing a non-dirty transaction only releases the handle.
func (t *Transaction) Commit() error {
	if t.closed {
		return pkgerrors.ErrTransactionClosed
	}

	defer func() {
		t.closed = true
		t.entity.detach(t)
	}()

	if !t.dirty {
		return nil
	}

	state := t.builder.Build()
	if err := validateState(state); err != nil {
		return err
	}

	t.committing = true
	defer func() { t.committing = false }()
	return t.entity.updateState(t, state, t.version, t.flags)
}

// Discard releases the transaction handle without touching the entity
func (t *Transaction) Discard() {
	if t.closed {
		return
	}
	t.closed = true
	t.entity.detach(t)
}

// validateState runs struct validation on the built state and converts
// failures into a structured invalid-entity-state error carrying the
// field-level violations.
func validateState(state State) error {
	err := validate.Struct(state)
	if err == nil {
		return nil
	}

	if _, ok := err.(*validator.InvalidValidationError); ok {
		// Non-struct states carry no validation tags.
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	violations := pkgerrors.NewValidationErrors()
	for _, fe := range fieldErrs {
		violations.Add(fe.Field(), fmt.Sprintf("failed %q constraint", fe.Tag()))
	}
	return pkgerrors.NewInvalidEntityState(violations)
}
