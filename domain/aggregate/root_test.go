package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronicle/domain/entity"
	"chronicle/domain/events"
	pkgerrors "chronicle/pkg/errors"
)

// Test domain: a cash account. Deposits and withdrawals fold into the
// balance; the balance must never be negative, which the state's
// validation tag enforces at commit time.

type accountState struct {
	Balance int `validate:"gte=0"`
	Closed  bool
}

func (s accountState) ToBuilder() entity.StateBuilder {
	return &accountBuilder{balance: s.Balance, closed: s.Closed}
}

type accountBuilder struct {
	balance int
	closed  bool
}

func (b *accountBuilder) Build() entity.State {
	return accountState{Balance: b.balance, Closed: b.closed}
}

type deposited struct {
	events.BaseEvent
	Amount int `json:"amount"`
}

type withdrawn struct {
	events.BaseEvent
	Amount int `json:"amount"`
}

type closed struct {
	events.BaseEvent
}

func newDeposited(id string, amount int) deposited {
	return deposited{events.BaseEvent{AggregateID: id, EventType: "account.deposited"}, amount}
}

func newWithdrawn(id string, amount int) withdrawn {
	return withdrawn{events.BaseEvent{AggregateID: id, EventType: "account.withdrawn"}, amount}
}

type accountCommand struct {
	id      string
	kind    string
	amount  int
	invalid bool
}

func (c accountCommand) GetAggregateID() string { return c.id }
func (c accountCommand) GetCommandType() string { return c.kind }
func (c accountCommand) Validate() error {
	if c.invalid {
		return pkgerrors.NewValidationError("bad command")
	}
	return nil
}

func accountAppliers(t *testing.T) *entity.ApplierSet {
	t.Helper()
	set := entity.NewApplierSet()

	require.NoError(t, set.Register("account.deposited", func(b entity.StateBuilder, ev events.DomainEvent) error {
		b.(*accountBuilder).balance += ev.(deposited).Amount
		return nil
	}))
	require.NoError(t, set.Register("account.withdrawn", func(b entity.StateBuilder, ev events.DomainEvent) error {
		b.(*accountBuilder).balance -= ev.(withdrawn).Amount
		return nil
	}))
	require.NoError(t, set.RegisterWithEffect("account.closed", func(b entity.StateBuilder, ev events.DomainEvent) error {
		b.(*accountBuilder).closed = true
		return nil
	}, entity.ArchiveEffect))

	return set
}

func accountHandlers(t *testing.T) *HandlerSet {
	t.Helper()
	set := NewHandlerSet()

	require.NoError(t, set.Register("account.deposit", func(ctx context.Context, state entity.State, cmd Command) (HandlerResult, error) {
		c := cmd.(accountCommand)
		return OneEvent(newDeposited(c.id, c.amount)), nil
	}))
	require.NoError(t, set.Register("account.withdraw", func(ctx context.Context, state entity.State, cmd Command) (HandlerResult, error) {
		c := cmd.(accountCommand)
		if state.(accountState).Balance < c.amount {
			return NoEvents(), pkgerrors.NewBusinessRuleError("INSUFFICIENT_FUNDS", "balance too low")
		}
		return OneEvent(newWithdrawn(c.id, c.amount)), nil
	}))
	// Deliberately unguarded: emits withdrawal regardless of balance so
	// commit-time validation has something to catch.
	require.NoError(t, set.Register("account.force_withdraw", func(ctx context.Context, state entity.State, cmd Command) (HandlerResult, error) {
		c := cmd.(accountCommand)
		return ManyEvents(newDeposited(c.id, 1), newWithdrawn(c.id, c.amount)), nil
	}))
	require.NoError(t, set.Register("account.close", func(ctx context.Context, state entity.State, cmd Command) (HandlerResult, error) {
		c := cmd.(accountCommand)
		return OneEvent(closed{events.BaseEvent{AggregateID: c.id, EventType: "account.closed"}}), nil
	}))
	// Emits an event type no applier knows about.
	require.NoError(t, set.Register("account.corrupt", func(ctx context.Context, state entity.State, cmd Command) (HandlerResult, error) {
		c := cmd.(accountCommand)
		return OneEvent(events.BaseEvent{AggregateID: c.id, EventType: "account.unknown"}), nil
	}))

	return set
}

func newAccount(t *testing.T, id string) *Root {
	t.Helper()
	return NewRoot(id, accountState{}, accountAppliers(t), accountHandlers(t))
}

func TestHandleCommandAppliesAndStagesEvents(t *testing.T) {
	acc := newAccount(t, "A1")
	ctx := context.Background()

	require.NoError(t, acc.HandleCommand(ctx, accountCommand{id: "A1", kind: "account.deposit", amount: 40}))
	require.NoError(t, acc.HandleCommand(ctx, accountCommand{id: "A1", kind: "account.withdraw", amount: 15}))

	assert.Equal(t, 2, acc.Version())
	assert.Equal(t, 25, acc.State().(accountState).Balance)

	pending := acc.UncommittedEvents()
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].Version)
	assert.Equal(t, 2, pending[1].Version)
	assert.Equal(t, "account.deposited", pending[0].EventType)
	assert.Equal(t, "account.withdrawn", pending[1].EventType)
	assert.Equal(t, "account.deposit", pending[0].Metadata["command_type"])
	assert.False(t, pending[0].Timestamp.IsZero())
}

func TestVersionGrowsByExactlyOnePerEvent(t *testing.T) {
	acc := newAccount(t, "A1")
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, acc.HandleCommand(ctx, accountCommand{id: "A1", kind: "account.deposit", amount: 1}))
	}

	assert.Equal(t, 10, acc.Version())
	for i, env := range acc.UncommittedEvents() {
		assert.Equal(t, i+1, env.Version)
	}
}

func TestBusinessFailurePropagatesWithoutMutation(t *testing.T) {
	acc := newAccount(t, "A1")
	ctx := context.Background()

	require.NoError(t, acc.HandleCommand(ctx, accountCommand{id: "A1", kind: "account.deposit", amount: 5}))

	err := acc.HandleCommand(ctx, accountCommand{id: "A1", kind: "account.withdraw", amount: 100})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsBusinessRuleError(err))

	assert.Equal(t, 1, acc.Version())
	assert.Equal(t, 5, acc.State().(accountState).Balance)
	assert.Len(t, acc.UncommittedEvents(), 1)
}

func TestCommitValidationFailureRollsBackWholeBatch(t *testing.T) {
	acc := newAccount(t, "A1")
	ctx := context.Background()

	require.NoError(t, acc.HandleCommand(ctx, accountCommand{id: "A1", kind: "account.deposit", amount: 10}))

	// Two events apply cleanly in the builder, but the built state has a
	// negative balance and fails validation at commit.
	err := acc.HandleCommand(ctx, accountCommand{id: "A1", kind: "account.force_withdraw", amount: 500})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidationError(err))

	// Pre-batch observables intact; no envelope from the failed batch.
	assert.Equal(t, 1, acc.Version())
	assert.Equal(t, 10, acc.State().(accountState).Balance)
	assert.Len(t, acc.UncommittedEvents(), 1)

	// The aggregate is still usable.
	require.NoError(t, acc.HandleCommand(ctx, accountCommand{id: "A1", kind: "account.deposit", amount: 1}))
	assert.Equal(t, 2, acc.Version())
}

func TestMissingHandlerIsFatal(t *testing.T) {
	acc := newAccount(t, "A1")

	err := acc.HandleCommand(context.Background(), accountCommand{id: "A1", kind: "account.explode"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConfigurationError(err))
	assert.Equal(t, 0, acc.Version())
}

func TestMissingApplierIsFatalAndLeavesStateUntouched(t *testing.T) {
	acc := newAccount(t, "A1")
	ctx := context.Background()

	require.NoError(t, acc.HandleCommand(ctx, accountCommand{id: "A1", kind: "account.deposit", amount: 10}))

	err := acc.HandleCommand(ctx, accountCommand{id: "A1", kind: "account.corrupt"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConfigurationError(err))

	assert.Equal(t, 1, acc.Version())
	assert.Equal(t, 10, acc.State().(accountState).Balance)
}

func TestCommitEventsDrainsOnce(t *testing.T) {
	acc := newAccount(t, "A1")
	ctx := context.Background()

	require.NoError(t, acc.HandleCommand(ctx, accountCommand{id: "A1", kind: "account.deposit", amount: 10}))

	first := acc.CommitEvents()
	assert.Len(t, first, 1)

	second := acc.CommitEvents()
	assert.Empty(t, second)
	assert.Empty(t, acc.UncommittedEvents())
}

func TestReplayIsDeterministic(t *testing.T) {
	source := newAccount(t, "A1")
	ctx := context.Background()

	require.NoError(t, source.HandleCommand(ctx, accountCommand{id: "A1", kind: "account.deposit", amount: 40}))
	require.NoError(t, source.HandleCommand(ctx, accountCommand{id: "A1", kind: "account.withdraw", amount: 15}))
	require.NoError(t, source.HandleCommand(ctx, accountCommand{id: "A1", kind: "account.deposit", amount: 5}))
	history := source.CommitEvents()

	replayOnce := newAccount(t, "A1")
	require.NoError(t, replayOnce.Replay(nil, history))

	replayTwice := newAccount(t, "A1")
	require.NoError(t, replayTwice.Replay(nil, history))

	assert.Equal(t, source.State(), replayOnce.State())
	assert.Equal(t, replayOnce.State(), replayTwice.State())
	assert.Equal(t, source.Version(), replayOnce.Version())
	assert.Equal(t, source.Flags(), replayOnce.Flags())
	assert.Empty(t, replayOnce.UncommittedEvents())
}

func TestReplayFromSnapshotPlusTail(t *testing.T) {
	source := newAccount(t, "A1")
	ctx := context.Background()

	require.NoError(t, source.HandleCommand(ctx, accountCommand{id: "A1", kind: "account.deposit", amount: 40}))
	snap := source.ToSnapshot()
	require.NoError(t, source.HandleCommand(ctx, accountCommand{id: "A1", kind: "account.withdraw", amount: 10}))

	history := source.CommitEvents()
	tail := history[1:] // events after the snapshot

	restored := newAccount(t, "A1")
	require.NoError(t, restored.Replay(&snap, tail))

	assert.Equal(t, source.State(), restored.State())
	assert.Equal(t, 2, restored.Version())
}

func TestSnapshotRoundTrip(t *testing.T) {
	source := newAccount(t, "A1")
	ctx := context.Background()

	require.NoError(t, source.HandleCommand(ctx, accountCommand{id: "A1", kind: "account.deposit", amount: 7}))
	require.NoError(t, source.HandleCommand(ctx, accountCommand{id: "A1", kind: "account.close"}))
	assert.True(t, source.Flags().Archived)

	restored := newAccount(t, "A1")
	require.NoError(t, restored.Restore(source.ToSnapshot()))

	assert.Equal(t, source.State(), restored.State())
	assert.Equal(t, source.Version(), restored.Version())
	assert.Equal(t, source.Flags(), restored.Flags())
}

func TestWithClockTagsEnvelopes(t *testing.T) {
	at := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	acc := NewRoot("A1", accountState{}, accountAppliers(t), accountHandlers(t), WithClock(func() time.Time { return at }))

	require.NoError(t, acc.HandleCommand(context.Background(), accountCommand{id: "A1", kind: "account.deposit", amount: 1}))

	pending := acc.UncommittedEvents()
	require.Len(t, pending, 1)
	assert.Equal(t, at, pending[0].Timestamp)
	assert.Equal(t, at, acc.ToSnapshot().TakenAt)
}
