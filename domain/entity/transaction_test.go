package entity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronicle/domain/events"
	pkgerrors "chronicle/pkg/errors"
)

// listState is a minimal domain state for exercising the transaction
// protocol: a named list of items. The title is required, which gives
// commit-time validation something to reject.
type listState struct {
	Title string `validate:"required"`
	Items []string
}

func (s listState) ToBuilder() StateBuilder {
	items := make([]string, len(s.Items))
	copy(items, s.Items)
	return &listBuilder{title: s.Title, items: items}
}

type listBuilder struct {
	title string
	items []string
}

func (b *listBuilder) Build() State {
	items := make([]string, len(b.items))
	copy(items, b.items)
	return listState{Title: b.title, Items: items}
}

type listRenamed struct {
	events.BaseEvent
	Title string `json:"title"`
}

type itemAdded struct {
	events.BaseEvent
	Item string `json:"item"`
}

type listArchived struct {
	events.BaseEvent
}

func renamed(id, title string) listRenamed {
	return listRenamed{
		BaseEvent: events.BaseEvent{AggregateID: id, EventType: "list.renamed"},
		Title:     title,
	}
}

func added(id, item string) itemAdded {
	return itemAdded{
		BaseEvent: events.BaseEvent{AggregateID: id, EventType: "list.item_added"},
		Item:      item,
	}
}

func newListAppliers(t *testing.T) *ApplierSet {
	t.Helper()
	set := NewApplierSet()

	require.NoError(t, set.Register("list.renamed", func(b StateBuilder, ev events.DomainEvent) error {
		b.(*listBuilder).title = ev.(listRenamed).Title
		return nil
	}))
	require.NoError(t, set.Register("list.item_added", func(b StateBuilder, ev events.DomainEvent) error {
		lb := b.(*listBuilder)
		lb.items = append(lb.items, ev.(itemAdded).Item)
		return nil
	}))
	require.NoError(t, set.RegisterWithEffect("list.archived", func(b StateBuilder, ev events.DomainEvent) error {
		return nil
	}, ArchiveEffect))

	return set
}

func TestBeginRejectsSecondTransaction(t *testing.T) {
	e := New("L1", listState{Title: "inbox"})
	set := newListAppliers(t)

	tx, err := Begin(e, set)
	require.NoError(t, err)

	_, err = Begin(e, set)
	assert.ErrorIs(t, err, pkgerrors.ErrTransactionOpen)

	require.NoError(t, tx.Commit())

	// Handle released, a new transaction may open.
	tx2, err := Begin(e, set)
	require.NoError(t, err)
	tx2.Discard()
}

func TestCommitInstallsStateVersionAndFlags(t *testing.T) {
	e := New("L1", listState{Title: "inbox"})
	tx, err := Begin(e, newListAppliers(t))
	require.NoError(t, err)

	require.NoError(t, tx.Apply(added("L1", "milk")))
	require.NoError(t, tx.AdvanceVersion(1))
	require.NoError(t, tx.Apply(listArchived{events.BaseEvent{AggregateID: "L1", EventType: "list.archived"}}))
	require.NoError(t, tx.AdvanceVersion(2))

	// Nothing visible before commit.
	assert.Equal(t, 0, e.Version())
	assert.Empty(t, e.State().(listState).Items)

	require.NoError(t, tx.Commit())

	assert.Equal(t, 2, e.Version())
	assert.Equal(t, []string{"milk"}, e.State().(listState).Items)
	assert.True(t, e.Flags().Archived)
}

func TestAdvanceVersionRequiresStrictIncrement(t *testing.T) {
	e := New("L1", listState{Title: "inbox"})
	tx, err := Begin(e, newListAppliers(t))
	require.NoError(t, err)
	defer tx.Discard()

	assert.ErrorIs(t, tx.AdvanceVersion(2), pkgerrors.ErrVersionGap)
	assert.ErrorIs(t, tx.AdvanceVersion(0), pkgerrors.ErrVersionGap)
	require.NoError(t, tx.AdvanceVersion(1))
	assert.ErrorIs(t, tx.AdvanceVersion(1), pkgerrors.ErrVersionGap)
}

func TestApplierErrorsPropagateUnchanged(t *testing.T) {
	boom := errors.New("applier exploded")
	set := NewApplierSet()
	require.NoError(t, set.Register("list.renamed", func(b StateBuilder, ev events.DomainEvent) error {
		return boom
	}))

	e := New("L1", listState{Title: "inbox"})
	tx, err := Begin(e, set)
	require.NoError(t, err)
	defer tx.Discard()

	err = tx.Apply(renamed("L1", "x"))
	assert.Same(t, boom, err)
}

func TestApplyMissingApplierIsFatal(t *testing.T) {
	e := New("L1", listState{Title: "inbox"})
	tx, err := Begin(e, NewApplierSet())
	require.NoError(t, err)
	defer tx.Discard()

	err = tx.Apply(added("L1", "milk"))
	assert.True(t, pkgerrors.IsConfigurationError(err))
}

func TestCommitValidationFailurePreservesEntity(t *testing.T) {
	e := New("L1", listState{Title: "inbox"})
	tx, err := Begin(e, newListAppliers(t))
	require.NoError(t, err)

	// Rename to empty violates the required constraint on Title.
	require.NoError(t, tx.Apply(renamed("L1", "")))
	require.NoError(t, tx.AdvanceVersion(1))

	err = tx.Commit()
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidationError(err))

	// Prior committed state untouched, handle released.
	assert.Equal(t, 0, e.Version())
	assert.Equal(t, "inbox", e.State().(listState).Title)
	_, err = Begin(e, newListAppliers(t))
	require.NoError(t, err)
}

func TestNonDirtyCommitReleasesHandle(t *testing.T) {
	e := New("L1", listState{Title: "inbox"})
	set := newListAppliers(t)

	tx, err := Begin(e, set)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, 0, e.Version())
	_, err = Begin(e, set)
	require.NoError(t, err)
}

func TestBuilderAccessRequiresOpenTransaction(t *testing.T) {
	e := New("L1", listState{Title: "inbox"})

	_, err := e.Builder()
	assert.ErrorIs(t, err, pkgerrors.ErrNoTransaction)

	tx, err := Begin(e, newListAppliers(t))
	require.NoError(t, err)

	b, err := e.Builder()
	require.NoError(t, err)
	assert.NotNil(t, b)

	require.NoError(t, tx.Commit())
	_, err = e.Builder()
	assert.ErrorIs(t, err, pkgerrors.ErrNoTransaction)
}

func TestInitAllRequiresFreshEntity(t *testing.T) {
	e := New("L1", listState{Title: "inbox"})
	set := newListAppliers(t)

	tx, err := Begin(e, set)
	require.NoError(t, err)
	require.NoError(t, tx.InitAll(listState{Title: "restored", Items: []string{"a"}}, 7, LifecycleFlags{Archived: true}))
	require.NoError(t, tx.Commit())

	assert.Equal(t, 7, e.Version())
	assert.Equal(t, "restored", e.State().(listState).Title)
	assert.True(t, e.Flags().Archived)

	tx, err = Begin(e, set)
	require.NoError(t, err)
	defer tx.Discard()
	assert.ErrorIs(t, tx.InitAll(listState{Title: "again"}, 1, LifecycleFlags{}), pkgerrors.ErrAlreadyHydrated)
	assert.ErrorIs(t, tx.InitVersion(3), pkgerrors.ErrAlreadyHydrated)
}

func TestClosedTransactionRefusesWork(t *testing.T) {
	e := New("L1", listState{Title: "inbox"})
	tx, err := Begin(e, newListAppliers(t))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.ErrorIs(t, tx.Apply(added("L1", "x")), pkgerrors.ErrTransactionClosed)
	assert.ErrorIs(t, tx.AdvanceVersion(1), pkgerrors.ErrTransactionClosed)
	assert.ErrorIs(t, tx.Commit(), pkgerrors.ErrTransactionClosed)
	_, err = tx.Builder()
	assert.ErrorIs(t, err, pkgerrors.ErrNoTransaction)
}

func TestPhaseChainShortCircuits(t *testing.T) {
	e := New("L1", listState{Title: "inbox"})
	tx, err := Begin(e, newListAppliers(t))
	require.NoError(t, err)

	err = tx.Phase().
		Apply(added("L1", "milk")).Advance().
		Apply(added("L1", "eggs")).AdvanceTo(5). // gap: working version is 2
		Apply(added("L1", "bread")).Advance().
		Commit()

	assert.ErrorIs(t, err, pkgerrors.ErrVersionGap)

	// Chain aborted before commit: entity unchanged, handle released.
	assert.Equal(t, 0, e.Version())
	assert.Empty(t, e.State().(listState).Items)
	_, err = Begin(e, newListAppliers(t))
	require.NoError(t, err)
}

func TestPhaseChainCommits(t *testing.T) {
	e := New("L1", listState{Title: "inbox"})
	tx, err := Begin(e, newListAppliers(t))
	require.NoError(t, err)

	err = tx.Phase().
		Apply(added("L1", "milk")).Advance().
		Apply(added("L1", "eggs")).Advance().
		Commit()

	require.NoError(t, err)
	assert.Equal(t, 2, e.Version())
	assert.Equal(t, []string{"milk", "eggs"}, e.State().(listState).Items)
}
