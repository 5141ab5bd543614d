package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronicle/domain/aggregate"
	"chronicle/domain/entity"
	"chronicle/domain/events"
	"chronicle/infrastructure/persistence/memory"
	pkgerrors "chronicle/pkg/errors"
	"chronicle/pkg/extensions"
)

// Test domain: a tally counter that can be bumped and retired.

type tallyState struct {
	Total int `validate:"gte=0"`
}

func (s tallyState) ToBuilder() entity.StateBuilder {
	return &tallyBuilder{total: s.Total}
}

type tallyBuilder struct {
	total int
}

func (b *tallyBuilder) Build() entity.State {
	return tallyState{Total: b.total}
}

type bumped struct {
	events.BaseEvent
	By int `json:"by"`
}

type retired struct {
	events.BaseEvent
}

type tallyCommand struct {
	id   string
	kind string
	by   int
}

func (c tallyCommand) GetAggregateID() string { return c.id }
func (c tallyCommand) GetCommandType() string { return c.kind }
func (c tallyCommand) Validate() error {
	if c.kind == "" {
		return pkgerrors.NewValidationError("command type required")
	}
	return nil
}

func tallyFactory(t *testing.T) Factory {
	t.Helper()

	appliers := entity.NewApplierSet()
	require.NoError(t, appliers.Register("tally.bumped", func(b entity.StateBuilder, ev events.DomainEvent) error {
		b.(*tallyBuilder).total += ev.(bumped).By
		return nil
	}))
	require.NoError(t, appliers.RegisterWithEffect("tally.retired", func(b entity.StateBuilder, ev events.DomainEvent) error {
		return nil
	}, entity.ArchiveEffect))

	handlers := aggregate.NewHandlerSet()
	require.NoError(t, handlers.Register("tally.bump", func(ctx context.Context, state entity.State, cmd aggregate.Command) (aggregate.HandlerResult, error) {
		c := cmd.(tallyCommand)
		return aggregate.OneEvent(bumped{events.BaseEvent{AggregateID: c.id, EventType: "tally.bumped"}, c.by}), nil
	}))
	require.NoError(t, handlers.Register("tally.retire", func(ctx context.Context, state entity.State, cmd aggregate.Command) (aggregate.HandlerResult, error) {
		c := cmd.(tallyCommand)
		return aggregate.OneEvent(retired{events.BaseEvent{AggregateID: c.id, EventType: "tally.retired"}}), nil
	}))

	return func(id string) *aggregate.Root {
		return aggregate.NewRoot(id, tallyState{}, appliers, handlers)
	}
}

type capturingPublisher struct {
	mu        sync.Mutex
	published []events.Envelope
	fail      bool
}

func (p *capturingPublisher) Publish(ctx context.Context, envelopes []events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return pkgerrors.NewDomainError(pkgerrors.DomainInfrastructureError, "PUBLISH_FAILED", "sink down")
	}
	p.published = append(p.published, envelopes...)
	return nil
}

func newTestRepo(t *testing.T, store *memory.MemoryEventStore, opts ...func(*Options)) *AggregateRepository {
	t.Helper()

	o := Options{
		AggregateType: "tally",
		Factory:       tallyFactory(t),
		Store:         store,
	}
	for _, fn := range opts {
		fn(&o)
	}

	repo, err := New(o)
	require.NoError(t, err)
	return repo
}

func TestNewValidatesOptions(t *testing.T) {
	store := memory.NewMemoryEventStore()

	_, err := New(Options{Factory: tallyFactory(t), Store: store})
	assert.Error(t, err)

	_, err = New(Options{AggregateType: "tally", Store: store})
	assert.Error(t, err)

	_, err = New(Options{AggregateType: "tally", Factory: tallyFactory(t)})
	assert.Error(t, err)

	_, err = New(Options{AggregateType: "tally", Factory: tallyFactory(t), Store: store, SnapshotTrigger: -3})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidSnapshotTrigger)
}

func TestLoadMissingAggregate(t *testing.T) {
	repo := newTestRepo(t, memory.NewMemoryEventStore())

	_, err := repo.Load(context.Background(), "T1")
	assert.ErrorIs(t, err, pkgerrors.ErrAggregateNotFound)
}

func TestLoadOrCreateReturnsFreshAggregate(t *testing.T) {
	repo := newTestRepo(t, memory.NewMemoryEventStore())

	root, err := repo.LoadOrCreate(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "T1", root.ID())
	assert.Equal(t, 0, root.Version())
}

func TestDispatchThenLoadRoundTrip(t *testing.T) {
	store := memory.NewMemoryEventStore()
	repo := newTestRepo(t, store)
	ctx := context.Background()

	require.NoError(t, repo.Dispatch(ctx, tallyCommand{id: "T1", kind: "tally.bump", by: 3}))
	require.NoError(t, repo.Dispatch(ctx, tallyCommand{id: "T1", kind: "tally.bump", by: 4}))

	root, err := repo.Load(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 2, root.Version())
	assert.Equal(t, 7, root.State().(tallyState).Total)
	assert.Equal(t, 2, store.EventCount("T1"))
}

func TestLoadFiltersArchivedAggregates(t *testing.T) {
	repo := newTestRepo(t, memory.NewMemoryEventStore())
	ctx := context.Background()

	require.NoError(t, repo.Dispatch(ctx, tallyCommand{id: "T1", kind: "tally.bump", by: 1}))
	require.NoError(t, repo.Dispatch(ctx, tallyCommand{id: "T1", kind: "tally.retire"}))

	_, err := repo.Load(ctx, "T1")
	assert.ErrorIs(t, err, pkgerrors.ErrAggregateNotFound)

	// Command paths can still reach it.
	root, err := repo.LoadOrCreate(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 2, root.Version())
	assert.True(t, root.Flags().Archived)
}

func TestSnapshotTriggerWritesAndResets(t *testing.T) {
	store := memory.NewMemoryEventStore()
	repo := newTestRepo(t, store, func(o *Options) { o.SnapshotTrigger = 3 })
	ctx := context.Background()

	require.NoError(t, repo.Dispatch(ctx, tallyCommand{id: "T1", kind: "tally.bump", by: 1}))
	require.NoError(t, repo.Dispatch(ctx, tallyCommand{id: "T1", kind: "tally.bump", by: 1}))

	assert.False(t, store.HasSnapshot("T1"))
	count, err := store.ReadPostSnapshotCount(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, repo.Dispatch(ctx, tallyCommand{id: "T1", kind: "tally.bump", by: 1}))

	assert.True(t, store.HasSnapshot("T1"))
	count, err = store.ReadPostSnapshotCount(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// The snapshot actually shortens replay.
	snap, tail, err := store.ReadHistory(ctx, "T1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 3, snap.Version)
	assert.Empty(t, tail)

	root, err := repo.Load(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 3, root.Version())
	assert.Equal(t, 3, root.State().(tallyState).Total)
}

func TestSetSnapshotTriggerRejectsNonPositive(t *testing.T) {
	repo := newTestRepo(t, memory.NewMemoryEventStore())

	assert.ErrorIs(t, repo.SetSnapshotTrigger(0), pkgerrors.ErrInvalidSnapshotTrigger)
	assert.ErrorIs(t, repo.SetSnapshotTrigger(-1), pkgerrors.ErrInvalidSnapshotTrigger)
	require.NoError(t, repo.SetSnapshotTrigger(10))
	assert.Equal(t, 10, repo.SnapshotTrigger())
}

func TestStorePublishesExactlyPersistedEnvelopes(t *testing.T) {
	publisher := &capturingPublisher{}
	repo := newTestRepo(t, memory.NewMemoryEventStore(), func(o *Options) { o.Publisher = publisher })
	ctx := context.Background()

	require.NoError(t, repo.Dispatch(ctx, tallyCommand{id: "T1", kind: "tally.bump", by: 2}))
	require.NoError(t, repo.Dispatch(ctx, tallyCommand{id: "T1", kind: "tally.bump", by: 5}))

	require.Len(t, publisher.published, 2)
	assert.Equal(t, 1, publisher.published[0].Version)
	assert.Equal(t, 2, publisher.published[1].Version)
	assert.Equal(t, "tally.bumped", publisher.published[0].EventType)
}

func TestPublishFailureDoesNotFailDispatch(t *testing.T) {
	publisher := &capturingPublisher{fail: true}
	store := memory.NewMemoryEventStore()
	repo := newTestRepo(t, store, func(o *Options) { o.Publisher = publisher })

	require.NoError(t, repo.Dispatch(context.Background(), tallyCommand{id: "T1", kind: "tally.bump", by: 2}))
	assert.Equal(t, 1, store.EventCount("T1"))
}

func TestDispatchRejectsInvalidCommand(t *testing.T) {
	repo := newTestRepo(t, memory.NewMemoryEventStore())

	err := repo.Dispatch(context.Background(), tallyCommand{id: "T1"})
	assert.True(t, pkgerrors.IsValidationError(err))
}

func TestDispatchMissingHandlerPersistsNothing(t *testing.T) {
	store := memory.NewMemoryEventStore()
	repo := newTestRepo(t, store)

	err := repo.Dispatch(context.Background(), tallyCommand{id: "T1", kind: "tally.unknown"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConfigurationError(err))
	assert.Equal(t, 0, store.EventCount("T1"))
}

func TestDispatchHooksFire(t *testing.T) {
	hooks := extensions.NewHookManager()

	var order []extensions.HookPoint
	record := func(point extensions.HookPoint) extensions.Hook {
		return func(ctx context.Context, data interface{}) error {
			order = append(order, point)
			return nil
		}
	}
	hooks.Register(extensions.HookBeforeDispatch, record(extensions.HookBeforeDispatch))
	hooks.Register(extensions.HookAfterDispatch, record(extensions.HookAfterDispatch))
	hooks.Register(extensions.HookDispatchFailed, record(extensions.HookDispatchFailed))

	repo := newTestRepo(t, memory.NewMemoryEventStore(), func(o *Options) { o.Hooks = hooks })
	ctx := context.Background()

	require.NoError(t, repo.Dispatch(ctx, tallyCommand{id: "T1", kind: "tally.bump", by: 1}))
	require.Error(t, repo.Dispatch(ctx, tallyCommand{id: "T1", kind: "tally.unknown"}))

	assert.Equal(t, []extensions.HookPoint{
		extensions.HookBeforeDispatch,
		extensions.HookAfterDispatch,
		extensions.HookBeforeDispatch,
		extensions.HookDispatchFailed,
	}, order)
}

func TestConcurrentDispatchSameIDLosesNothing(t *testing.T) {
	store := memory.NewMemoryEventStore()
	repo := newTestRepo(t, store)
	ctx := context.Background()

	const workers = 8
	const perWorker = 5

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := repo.Dispatch(ctx, tallyCommand{id: "T1", kind: "tally.bump", by: 1}); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	root, err := repo.Load(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, root.Version())
	assert.Equal(t, workers*perWorker, root.State().(tallyState).Total)
}

type fakeLocker struct {
	mu       sync.Mutex
	fail     bool
	acquired []string
	released int
}

func (l *fakeLocker) Acquire(ctx context.Context, aggregateType, aggregateID string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fail {
		return nil, errors.New("lock held by another process")
	}
	l.acquired = append(l.acquired, aggregateType+"/"+aggregateID)
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, nil
}

func TestDispatchAcquiresAndReleasesLocker(t *testing.T) {
	locker := &fakeLocker{}
	repo := newTestRepo(t, memory.NewMemoryEventStore(), func(o *Options) { o.Locker = locker })
	ctx := context.Background()

	require.NoError(t, repo.Dispatch(ctx, tallyCommand{id: "T1", kind: "tally.bump", by: 1}))
	assert.Equal(t, []string{"tally/T1"}, locker.acquired)
	assert.Equal(t, 1, locker.released)

	// The lock is released even when the command is rejected
	require.Error(t, repo.Dispatch(ctx, tallyCommand{id: "T1", kind: "tally.unknown"}))
	assert.Equal(t, 2, locker.released)
}

func TestDispatchLockFailureAbortsDispatch(t *testing.T) {
	store := memory.NewMemoryEventStore()
	locker := &fakeLocker{fail: true}
	repo := newTestRepo(t, store, func(o *Options) { o.Locker = locker })

	err := repo.Dispatch(context.Background(), tallyCommand{id: "T1", kind: "tally.bump", by: 1})
	require.Error(t, err)
	assert.Equal(t, 0, store.EventCount("T1"))
	assert.Equal(t, 0, locker.released)
}

func TestStoreHooksFireAroundAppend(t *testing.T) {
	hooks := extensions.NewHookManager()

	var order []extensions.HookPoint
	var payloads []int
	record := func(point extensions.HookPoint) extensions.Hook {
		return func(ctx context.Context, data interface{}) error {
			order = append(order, point)
			envelopes, ok := data.([]events.Envelope)
			require.True(t, ok)
			payloads = append(payloads, len(envelopes))
			return nil
		}
	}
	hooks.Register(extensions.HookBeforeStore, record(extensions.HookBeforeStore))
	hooks.Register(extensions.HookAfterStore, record(extensions.HookAfterStore))

	repo := newTestRepo(t, memory.NewMemoryEventStore(), func(o *Options) { o.Hooks = hooks })
	require.NoError(t, repo.Dispatch(context.Background(), tallyCommand{id: "T1", kind: "tally.bump", by: 1}))

	assert.Equal(t, []extensions.HookPoint{
		extensions.HookBeforeStore,
		extensions.HookAfterStore,
	}, order)
	assert.Equal(t, []int{1, 1}, payloads)
}

func TestBeforeStoreHookFailureAbortsAppend(t *testing.T) {
	hooks := extensions.NewHookManager()
	hooks.Register(extensions.HookBeforeStore, func(ctx context.Context, data interface{}) error {
		return errors.New("store vetoed")
	})

	store := memory.NewMemoryEventStore()
	repo := newTestRepo(t, store, func(o *Options) { o.Hooks = hooks })

	err := repo.Dispatch(context.Background(), tallyCommand{id: "T1", kind: "tally.bump", by: 1})
	require.Error(t, err)
	assert.Equal(t, 0, store.EventCount("T1"))
}
