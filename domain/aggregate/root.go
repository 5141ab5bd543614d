package aggregate

import (
	"context"
	"time"

	"chronicle/domain/entity"
	"chronicle/domain/events"
)

// Root is an event-sourced aggregate: a versioned entity plus command
// handling and event replay. Commands produce events through the
// registered handlers; events fold into state through the registered
// appliers, inside a transaction, so a failure anywhere leaves the
// externally visible state, version, and flags exactly as they were.
//
// A Root is not safe for concurrent use. Each repository call operates on
// its own freshly loaded instance.
type Root struct {
	entity   *entity.Entity
	appliers *entity.ApplierSet
	handlers *HandlerSet

	// Events applied in-memory but not yet persisted or published,
	// in version order.
	uncommitted []events.Envelope

	now func() time.Time
}

// Option configures a Root
type Option func(*Root)

// WithClock overrides the timestamp source for recorded envelopes.
// Appliers themselves must stay deterministic; the clock only feeds
// envelope metadata.
func WithClock(now func() time.Time) Option {
	return func(r *Root) {
		r.now = now
	}
}

// NewRoot creates an aggregate with default state and version 0
func NewRoot(id string, initial entity.State, appliers *entity.ApplierSet, handlers *HandlerSet, opts ...Option) *Root {
	r := &Root{
		entity:   entity.New(id, initial),
		appliers: appliers,
		handlers: handlers,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID returns the aggregate's identity
func (r *Root) ID() string {
	return r.entity.ID()
}

// State returns the last committed state
func (r *Root) State() entity.State {
	return r.entity.State()
}

// Version returns the last committed version
func (r *Root) Version() int {
	return r.entity.Version()
}

// Flags returns the last committed lifecycle flags
func (r *Root) Flags() entity.LifecycleFlags {
	return r.entity.Flags()
}

// HandleCommand routes the command to its registered handler and applies
// the produced events transactionally. Handler errors, including business
// rule rejections, propagate to the caller unmodified; if any apply step
// fails, the transaction is never committed and the aggregate is
// unchanged.
func (r *Root) HandleCommand(ctx context.Context, cmd Command) error {
	handler, err := r.handlers.Resolve(cmd.GetCommandType())
	if err != nil {
		return err
	}

	result, err := handler(ctx, r.entity.State(), cmd)
	if err != nil {
		return err
	}

	produced := result.Events()
	if len(produced) == 0 {
		return nil
	}

	meta := events.Metadata{"command_type": cmd.GetCommandType()}
	return r.applyAll(produced, meta)
}

// applyAll applies produced events in one transaction: apply, advance the
// version by one, stage an envelope tagged with the new version and a
// timestamp. The envelopes join the uncommitted list only after the
// transaction commits.
func (r *Root) applyAll(produced []events.DomainEvent, meta events.Metadata) error {
	tx, err := entity.Begin(r.entity, r.appliers)
	if err != nil {
		return err
	}

	staged := make([]events.Envelope, 0, len(produced))
	for _, ev := range produced {
		if err := tx.Apply(ev); err != nil {
			tx.Discard()
			return err
		}
		next := tx.Version() + 1
		if err := tx.AdvanceVersion(next); err != nil {
			tx.Discard()
			return err
		}
		staged = append(staged, events.NewEnvelope(ev, next, r.now(), meta))
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	r.uncommitted = append(r.uncommitted, staged...)
	return nil
}

// Replay reconstructs state from an optional snapshot followed by the
// events recorded after it, in version order. It records no uncommitted
// events: replayed history is already durable.
func (r *Root) Replay(snapshot *Snapshot, history []events.Envelope) error {
	tx, err := entity.Begin(r.entity, r.appliers)
	if err != nil {
		return err
	}

	if snapshot != nil {
		if err := tx.InitAll(snapshot.State, snapshot.Version, snapshot.Flags); err != nil {
			tx.Discard()
			return err
		}
	}

	phase := tx.Phase()
	for _, env := range history {
		phase = phase.Apply(env.Event).AdvanceTo(env.Version)
	}
	return phase.Commit()
}

// ToSnapshot captures the current state, version, and flags. Pure; the
// aggregate is not mutated.
func (r *Root) ToSnapshot() Snapshot {
	return Snapshot{
		AggregateID: r.entity.ID(),
		State:       r.entity.State(),
		Version:     r.entity.Version(),
		Flags:       r.entity.Flags(),
		TakenAt:     r.now(),
	}
}

// Restore hydrates a fresh aggregate from a snapshot, through the same
// init path replay uses
func (r *Root) Restore(snapshot Snapshot) error {
	return r.Replay(&snapshot, nil)
}

// UncommittedEvents returns the events pending persistence without
// clearing them
func (r *Root) UncommittedEvents() []events.Envelope {
	out := make([]events.Envelope, len(r.uncommitted))
	copy(out, r.uncommitted)
	return out
}

// CommitEvents atomically returns the pending events and empties the
// list. Calling it again without intervening handling yields an empty
// slice.
func (r *Root) CommitEvents() []events.Envelope {
	drained := r.uncommitted
	r.uncommitted = nil
	return drained
}
