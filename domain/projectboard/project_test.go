package projectboard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronicle/domain/events"
	pkgerrors "chronicle/pkg/errors"
)

func TestProjectLifecycle(t *testing.T) {
	factory, err := Factory()
	require.NoError(t, err)
	ctx := context.Background()

	root := factory("P1")

	require.NoError(t, root.HandleCommand(ctx, CreateProject{ProjectID: "P1", Name: "Atlas"}))
	assert.Equal(t, 1, root.Version())
	assert.Equal(t, "Atlas", root.State().(ProjectState).Name)

	require.NoError(t, root.HandleCommand(ctx, AddTask{ProjectID: "P1", TaskID: "T1", Title: "survey"}))
	assert.Equal(t, 2, root.Version())

	state := root.State().(ProjectState)
	require.Len(t, state.Tasks, 1)
	assert.Equal(t, "T1", state.Tasks[0].ID)
	assert.Equal(t, "survey", state.Tasks[0].Title)

	uncommitted := root.UncommittedEvents()
	require.Len(t, uncommitted, 2)
	assert.Equal(t, EventProjectCreated, uncommitted[0].EventType)
	assert.Equal(t, 1, uncommitted[0].Version)
	assert.Equal(t, EventTaskAdded, uncommitted[1].EventType)
	assert.Equal(t, 2, uncommitted[1].Version)
}

func TestProjectReplayReconstructsState(t *testing.T) {
	factory, err := Factory()
	require.NoError(t, err)
	ctx := context.Background()

	original := factory("P1")
	require.NoError(t, original.HandleCommand(ctx, CreateProject{ProjectID: "P1", Name: "Atlas"}))
	require.NoError(t, original.HandleCommand(ctx, AddTask{ProjectID: "P1", TaskID: "T1", Title: "survey"}))
	history := original.CommitEvents()

	reloaded := factory("P1")
	require.NoError(t, reloaded.Replay(nil, history))

	assert.Equal(t, original.Version(), reloaded.Version())
	assert.Equal(t, original.State(), reloaded.State())
}

func TestCreateTwiceRejected(t *testing.T) {
	factory, err := Factory()
	require.NoError(t, err)
	ctx := context.Background()

	root := factory("P1")
	require.NoError(t, root.HandleCommand(ctx, CreateProject{ProjectID: "P1", Name: "Atlas"}))

	err = root.HandleCommand(ctx, CreateProject{ProjectID: "P1", Name: "Atlas again"})
	assert.True(t, pkgerrors.IsBusinessRuleError(err))
	assert.Equal(t, 1, root.Version())
}

func TestDuplicateTaskRejected(t *testing.T) {
	factory, err := Factory()
	require.NoError(t, err)
	ctx := context.Background()

	root := factory("P1")
	require.NoError(t, root.HandleCommand(ctx, CreateProject{ProjectID: "P1", Name: "Atlas"}))
	require.NoError(t, root.HandleCommand(ctx, AddTask{ProjectID: "P1", TaskID: "T1", Title: "survey"}))

	err = root.HandleCommand(ctx, AddTask{ProjectID: "P1", TaskID: "T1", Title: "survey again"})
	assert.True(t, pkgerrors.IsBusinessRuleError(err))
	assert.Equal(t, 2, root.Version())
	assert.Len(t, root.State().(ProjectState).Tasks, 1)
}

func TestTaskOnMissingProjectRejected(t *testing.T) {
	factory, err := Factory()
	require.NoError(t, err)

	root := factory("P1")
	err = root.HandleCommand(context.Background(), AddTask{ProjectID: "P1", TaskID: "T1", Title: "survey"})
	require.Error(t, err)
	assert.Equal(t, 0, root.Version())
}

func TestArchiveSetsLifecycleFlag(t *testing.T) {
	factory, err := Factory()
	require.NoError(t, err)
	ctx := context.Background()

	root := factory("P1")
	require.NoError(t, root.HandleCommand(ctx, CreateProject{ProjectID: "P1", Name: "Atlas"}))
	require.NoError(t, root.HandleCommand(ctx, ArchiveProject{ProjectID: "P1", Reason: "wrapped up"}))

	assert.True(t, root.Flags().Archived)
	assert.Equal(t, "Atlas", root.State().(ProjectState).Name)
}

func TestCodecRoundTrip(t *testing.T) {
	codec := events.NewCodec()
	require.NoError(t, RegisterCodec(codec))

	original := NewTaskAdded("P1", "T1", "survey")
	data, err := codec.Encode(original)
	require.NoError(t, err)

	decoded, err := codec.Decode(EventTaskAdded, data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	_, err = codec.Decode("project.unknown", data)
	assert.Error(t, err)
}

func TestCommandValidation(t *testing.T) {
	assert.Error(t, CreateProject{Name: "Atlas"}.Validate())
	assert.Error(t, CreateProject{ProjectID: "P1"}.Validate())
	assert.NoError(t, CreateProject{ProjectID: "P1", Name: "Atlas"}.Validate())

	assert.Error(t, AddTask{ProjectID: "P1", TaskID: "T1"}.Validate())
	assert.NoError(t, AddTask{ProjectID: "P1", TaskID: "T1", Title: "survey"}.Validate())

	assert.Error(t, ArchiveProject{}.Validate())
	assert.NoError(t, ArchiveProject{ProjectID: "P1"}.Validate())
}

func TestDecodeState(t *testing.T) {
	state, err := DecodeState([]byte(`{"name":"Atlas","tasks":[{"id":"T1","title":"survey"}]}`))
	require.NoError(t, err)

	project := state.(ProjectState)
	assert.Equal(t, "Atlas", project.Name)
	require.Len(t, project.Tasks, 1)
	assert.Equal(t, "T1", project.Tasks[0].ID)

	_, err = DecodeState([]byte(`{`))
	assert.Error(t, err)
}
