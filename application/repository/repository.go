package repository

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"chronicle/application/ports"
	"chronicle/domain/aggregate"
	"chronicle/domain/events"
	"chronicle/pkg/common"
	pkgerrors "chronicle/pkg/errors"
	"chronicle/pkg/extensions"
)

// DefaultSnapshotTrigger is the number of events written since the last
// snapshot that triggers a new one
const DefaultSnapshotTrigger = 100

// Factory constructs a fresh aggregate with default state and version 0
// for the given ID, with its applier and handler sets attached.
type Factory func(id string) *aggregate.Root

// SelfRouter is the default command routing strategy: the target ID is
// the command's own aggregate ID.
type SelfRouter struct{}

// ResolveTargetID implements ports.CommandRouter
func (SelfRouter) ResolveTargetID(cmd aggregate.Command) (string, error) {
	id := cmd.GetAggregateID()
	if id == "" {
		return "", pkgerrors.NewValidationError("command carries no target aggregate id")
	}
	return id, nil
}

// Options configures an AggregateRepository
type Options struct {
	// AggregateType names the aggregate for logs and metadata
	AggregateType string

	// Factory builds fresh aggregates (required)
	Factory Factory

	// Store is the event/snapshot storage adapter (required)
	Store ports.EventStore

	// Publisher receives persisted envelopes after a successful store.
	// Optional; nil disables publishing.
	Publisher ports.EventPublisher

	// Router resolves command target IDs. Defaults to SelfRouter.
	Router ports.CommandRouter

	// Locker serializes dispatch across processes. Optional; the keyed
	// mutex still serializes within this process either way.
	Locker ports.Locker

	// Hooks fire around the dispatch lifecycle. Optional.
	Hooks *extensions.HookManager

	// Logger defaults to a no-op logger
	Logger *zap.Logger

	// SnapshotTrigger defaults to DefaultSnapshotTrigger
	SnapshotTrigger int
}

// AggregateRepository orchestrates loading aggregates by replaying their
// history, dispatching commands to them, persisting the resulting events,
// and snapshotting every N events to bound replay cost.
type AggregateRepository struct {
	aggregateType string
	factory       Factory
	store         ports.EventStore
	publisher     ports.EventPublisher
	router        ports.CommandRouter
	locker        ports.Locker
	hooks         *extensions.HookManager
	logger        *zap.Logger

	triggerMu       sync.RWMutex
	snapshotTrigger int

	// locks serializes dispatch per aggregate ID within this process
	locks *KeyedMutex
}

// New creates an aggregate repository
func New(opts Options) (*AggregateRepository, error) {
	if opts.AggregateType == "" {
		return nil, fmt.Errorf("aggregate type cannot be empty")
	}
	if opts.Factory == nil {
		return nil, fmt.Errorf("aggregate factory cannot be nil")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("event store cannot be nil")
	}

	repo := &AggregateRepository{
		aggregateType:   opts.AggregateType,
		factory:         opts.Factory,
		store:           opts.Store,
		publisher:       opts.Publisher,
		router:          opts.Router,
		locker:          opts.Locker,
		hooks:           opts.Hooks,
		logger:          opts.Logger,
		snapshotTrigger: opts.SnapshotTrigger,
		locks:           NewKeyedMutex(),
	}
	if repo.router == nil {
		repo.router = SelfRouter{}
	}
	if repo.logger == nil {
		repo.logger = zap.NewNop()
	}
	if repo.snapshotTrigger == 0 {
		repo.snapshotTrigger = DefaultSnapshotTrigger
	}
	if repo.snapshotTrigger < 1 {
		return nil, pkgerrors.ErrInvalidSnapshotTrigger
	}

	return repo, nil
}

// SnapshotTrigger returns the current snapshot trigger threshold
func (r *AggregateRepository) SnapshotTrigger() int {
	r.triggerMu.RLock()
	defer r.triggerMu.RUnlock()
	return r.snapshotTrigger
}

// SetSnapshotTrigger changes the snapshot trigger threshold. Zero and
// negative values are rejected.
func (r *AggregateRepository) SetSnapshotTrigger(trigger int) error {
	if trigger < 1 {
		return pkgerrors.ErrInvalidSnapshotTrigger
	}
	r.triggerMu.Lock()
	r.snapshotTrigger = trigger
	r.triggerMu.Unlock()
	return nil
}

// Load reads the latest snapshot and subsequent events for the ID and
// replays them into a fresh aggregate. It returns ErrAggregateNotFound
// when no history exists, and also when the aggregate's lifecycle flags
// mark it archived or deleted: stored history is kept, visibility is not.
func (r *AggregateRepository) Load(ctx context.Context, id string) (*aggregate.Root, error) {
	root, found, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found || !root.Flags().IsVisible() {
		return nil, pkgerrors.ErrAggregateNotFound
	}
	return root, nil
}

// LoadOrCreate replays existing history into a fresh aggregate, or
// returns a default-state aggregate at version 0 when none exists.
// Command-handling paths use this so they always have a target; the
// visibility filter does not apply here, since commands may legitimately
// address archived aggregates.
func (r *AggregateRepository) LoadOrCreate(ctx context.Context, id string) (*aggregate.Root, error) {
	root, _, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return root, nil
}

func (r *AggregateRepository) load(ctx context.Context, id string) (*aggregate.Root, bool, error) {
	snapshot, history, err := r.store.ReadHistory(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read history for %s: %w", id, err)
	}

	root := r.factory(id)
	if snapshot == nil && len(history) == 0 {
		return root, false, nil
	}

	if err := root.Replay(snapshot, history); err != nil {
		return nil, false, fmt.Errorf("failed to replay %s %s: %w", r.aggregateType, id, err)
	}

	r.logger.Debug("Aggregate loaded",
		zap.String("aggregateType", r.aggregateType),
		zap.String("aggregateID", id),
		zap.Int("version", root.Version()),
		zap.Bool("fromSnapshot", snapshot != nil),
		zap.Int("replayedEvents", len(history)),
	)
	return root, true, nil
}

// Store drains the aggregate's uncommitted events, appends them to the
// event store in version order, maintains the snapshot trigger
// bookkeeping, and forwards the persisted envelopes to the publisher.
// The append is all-or-nothing per the store contract.
func (r *AggregateRepository) Store(ctx context.Context, root *aggregate.Root) error {
	envelopes := root.CommitEvents()
	if len(envelopes) == 0 {
		return nil
	}
	enrichMetadata(ctx, envelopes)

	id := root.ID()
	if r.hooks != nil {
		if err := r.hooks.Execute(ctx, extensions.HookBeforeStore, envelopes); err != nil {
			return err
		}
	}

	if err := r.store.AppendEvents(ctx, id, envelopes); err != nil {
		return fmt.Errorf("failed to append events for %s: %w", id, err)
	}

	if err := r.maintainSnapshot(ctx, root, len(envelopes)); err != nil {
		return err
	}

	if r.hooks != nil {
		if err := r.hooks.Execute(ctx, extensions.HookAfterStore, envelopes); err != nil {
			return err
		}
	}

	r.publish(ctx, envelopes)
	return nil
}

// enrichMetadata stamps request-scoped identifiers onto the envelopes
// before they are persisted. Keys already set by the domain win.
func enrichMetadata(ctx context.Context, envelopes []events.Envelope) {
	extra := common.EventMetadata(ctx)
	if len(extra) == 0 {
		return
	}
	for i := range envelopes {
		if envelopes[i].Metadata == nil {
			envelopes[i].Metadata = make(events.Metadata, len(extra))
		}
		for key, value := range extra {
			if _, exists := envelopes[i].Metadata[key]; !exists {
				envelopes[i].Metadata[key] = value
			}
		}
	}
}

// maintainSnapshot advances the post-snapshot event counter and writes a
// snapshot once the counter reaches the trigger, resetting it to zero.
func (r *AggregateRepository) maintainSnapshot(ctx context.Context, root *aggregate.Root, written int) error {
	id := root.ID()

	count, err := r.store.ReadPostSnapshotCount(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read post-snapshot count for %s: %w", id, err)
	}
	count += written

	if count >= r.SnapshotTrigger() {
		if err := r.store.WriteSnapshot(ctx, id, root.ToSnapshot()); err != nil {
			return fmt.Errorf("failed to write snapshot for %s: %w", id, err)
		}
		if err := r.store.WritePostSnapshotCount(ctx, id, 0); err != nil {
			return fmt.Errorf("failed to reset post-snapshot count for %s: %w", id, err)
		}

		if r.hooks != nil {
			if err := r.hooks.Execute(ctx, extensions.HookSnapshotWritten, id); err != nil {
				return err
			}
		}
		r.logger.Info("Snapshot written",
			zap.String("aggregateType", r.aggregateType),
			zap.String("aggregateID", id),
			zap.Int("version", root.Version()),
		)
		return nil
	}

	return r.store.WritePostSnapshotCount(ctx, id, count)
}

// publish forwards the just-persisted envelopes, in order. Publishing is
// best-effort: the events are durable either way, and deployments that
// need delivery guarantees run the outbox processor behind this.
func (r *AggregateRepository) publish(ctx context.Context, envelopes []events.Envelope) {
	if r.publisher == nil {
		return
	}

	if err := r.publisher.Publish(ctx, envelopes); err != nil {
		r.logger.Warn("Failed to publish events",
			zap.String("aggregateType", r.aggregateType),
			zap.Int("count", len(envelopes)),
			zap.Error(err),
		)
		if r.hooks != nil {
			// Hook errors here have nowhere useful to go; the publish
			// already failed.
			_ = r.hooks.Execute(ctx, extensions.HookPublishFailed, envelopes)
		}
		return
	}

	if r.hooks != nil {
		_ = r.hooks.Execute(ctx, extensions.HookEventsPublished, envelopes)
	}
}

// Dispatch runs the full command-handling cycle: resolve the target ID,
// serialize against other dispatches for the same ID, load or create the
// aggregate, invoke its command handler, and persist the resulting
// events. Any failure leaves durable state for this and every other
// aggregate untouched.
func (r *AggregateRepository) Dispatch(ctx context.Context, cmd aggregate.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	id, err := r.router.ResolveTargetID(cmd)
	if err != nil {
		return err
	}

	unlock := r.locks.Lock(id)
	defer unlock()

	if r.locker != nil {
		release, err := r.locker.Acquire(ctx, r.aggregateType, id)
		if err != nil {
			return fmt.Errorf("failed to acquire dispatch lock for %s %s: %w", r.aggregateType, id, err)
		}
		defer func() {
			if err := release(ctx); err != nil {
				r.logger.Warn("Failed to release dispatch lock",
					zap.String("aggregateType", r.aggregateType),
					zap.String("aggregateID", id),
					zap.Error(err),
				)
			}
		}()
	}

	if r.hooks != nil {
		if err := r.hooks.Execute(ctx, extensions.HookBeforeDispatch, cmd); err != nil {
			return err
		}
	}

	if err := r.dispatch(ctx, id, cmd); err != nil {
		if r.hooks != nil {
			_ = r.hooks.Execute(ctx, extensions.HookDispatchFailed, cmd)
		}
		return err
	}

	if r.hooks != nil {
		return r.hooks.Execute(ctx, extensions.HookAfterDispatch, cmd)
	}
	return nil
}

func (r *AggregateRepository) dispatch(ctx context.Context, id string, cmd aggregate.Command) error {
	root, err := r.LoadOrCreate(ctx, id)
	if err != nil {
		return err
	}

	if err := root.HandleCommand(ctx, cmd); err != nil {
		r.logger.Debug("Command rejected",
			zap.String("aggregateType", r.aggregateType),
			zap.String("aggregateID", id),
			zap.String("commandType", cmd.GetCommandType()),
			zap.Error(err),
		)
		return err
	}

	return r.Store(ctx, root)
}
