package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/state"
)

func mustAgent(t *testing.T, s string) ids.AgentID {
	t.Helper()
	id, err := ids.ParseAgentID(s)
	require.NoError(t, err)
	return id
}

func TestFilesystemSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := NewFilesystemProvider(dir, 0)
	ctx := context.Background()

	agentID := mustAgent(t, "host")
	st := state.New(agentID)
	st.Push(state.NewFrame("Main", nil))
	st.SetStateVar("count", 3.0)

	rec := Record{
		SchemaVersion: SchemaVersion,
		AgentID:       agentID,
		State:         st.Snapshot(),
		Metadata:      Metadata{LastDirective: "EXE", LastYieldKind: "user"},
	}
	id := NewCheckpointID()
	require.NoError(t, p.SaveCheckpoint(ctx, id, rec))

	loaded, err := p.LoadCheckpoint(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "host", loaded.AgentID.String())
	require.Equal(t, "EXE", loaded.Metadata.LastDirective)
	require.Equal(t, 3.0, loaded.State.StateVars["count"])
	require.Len(t, loaded.State.CallStack, 1)
	require.Equal(t, "Main", loaded.State.CallStack[0].PlaybookName)
}

func TestFilesystemListCheckpointsOrderedOldestFirst(t *testing.T) {
	dir := t.TempDir()
	p := NewFilesystemProvider(dir, 0)
	ctx := context.Background()
	agentID := mustAgent(t, "host")

	var ids3 []string
	for i := 0; i < 3; i++ {
		id := NewCheckpointID()
		rec := Record{AgentID: agentID, State: state.New(agentID).Snapshot()}
		require.NoError(t, p.SaveCheckpoint(ctx, id, rec))
		ids3 = append(ids3, id)
	}

	listed, err := p.ListCheckpoints(ctx, agentID)
	require.NoError(t, err)
	require.Equal(t, ids3, listed)
}

func TestFilesystemDeleteOldKeepsOnlyMostRecent(t *testing.T) {
	dir := t.TempDir()
	p := NewFilesystemProvider(dir, 0)
	ctx := context.Background()
	agentID := mustAgent(t, "host")

	var last string
	for i := 0; i < 5; i++ {
		id := NewCheckpointID()
		rec := Record{AgentID: agentID, State: state.New(agentID).Snapshot()}
		require.NoError(t, p.SaveCheckpoint(ctx, id, rec))
		last = id
	}

	require.NoError(t, p.DeleteOld(ctx, agentID, 1))
	listed, err := p.ListCheckpoints(ctx, agentID)
	require.NoError(t, err)
	require.Equal(t, []string{last}, listed)
}

func TestFilesystemSaveRejectsOversizedRecord(t *testing.T) {
	dir := t.TempDir()
	p := NewFilesystemProvider(dir, 16)
	ctx := context.Background()
	agentID := mustAgent(t, "host")

	st := state.New(agentID)
	st.SetStateVar("big", "this payload is definitely over sixteen bytes")
	rec := Record{AgentID: agentID, State: st.Snapshot()}

	err := p.SaveCheckpoint(ctx, NewCheckpointID(), rec)
	require.Error(t, err)
}

func TestFilesystemProgramCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := NewFilesystemProvider(dir, 0)
	ctx := context.Background()

	rec := ProgramRecord{
		SchemaVersion:       SchemaVersion,
		AgentCheckpointRefs: map[string]string{"host": "abc123"},
		OpenMeetings:        []string{"standup"},
	}
	require.NoError(t, p.SaveProgramCheckpoint(ctx, rec))

	loaded, err := p.LoadProgramCheckpoint(ctx)
	require.NoError(t, err)
	require.Equal(t, "abc123", loaded.AgentCheckpointRefs["host"])
	require.Equal(t, []string{"standup"}, loaded.OpenMeetings)
}

func TestCoordinatorSaveAgentTracksLatestAndRetention(t *testing.T) {
	dir := t.TempDir()
	p := NewFilesystemProvider(dir, 0)
	c := NewCoordinator(p, nil, 2)
	ctx := context.Background()
	agentID := mustAgent(t, "host")

	var lastID string
	for i := 0; i < 3; i++ {
		st := state.New(agentID)
		id, err := c.SaveAgent(ctx, agentID, st, Metadata{LastYieldKind: "user"})
		require.NoError(t, err)
		lastID = id
	}

	known, ok := c.LatestKnown(agentID)
	require.True(t, ok)
	require.Equal(t, lastID, known)

	listed, err := p.ListCheckpoints(ctx, agentID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
}

func TestCoordinatorResumeAgentUsesOnDiskLatestNotProgramRef(t *testing.T) {
	dir := t.TempDir()
	p := NewFilesystemProvider(dir, 0)
	ctx := context.Background()
	agentID := mustAgent(t, "host")

	c1 := NewCoordinator(p, nil, 0)
	_, err := c1.SaveAgent(ctx, agentID, state.New(agentID), Metadata{})
	require.NoError(t, err)
	require.NoError(t, c1.SaveProgram(ctx, nil))

	// Simulate the program checkpoint going stale: a further agent save
	// happens after the program-level snapshot was taken.
	newest, err := c1.SaveAgent(ctx, agentID, state.New(agentID), Metadata{})
	require.NoError(t, err)

	c2 := NewCoordinator(p, nil, 0)
	_, _, err = c2.ResumeProgram(ctx)
	require.NoError(t, err)

	rec, ok, err := c2.ResumeAgent(ctx, agentID)
	require.NoError(t, err)
	require.True(t, ok)

	known, _ := c2.LatestKnown(agentID)
	require.Equal(t, newest, known)
	_ = rec
}

func TestCoordinatorResumeAgentWithNoCheckpointsIsFreshStart(t *testing.T) {
	dir := t.TempDir()
	p := NewFilesystemProvider(dir, 0)
	c := NewCoordinator(p, nil, 0)
	ctx := context.Background()
	agentID := mustAgent(t, "ghost")

	_, ok, err := c.ResumeAgent(ctx, agentID)
	require.NoError(t, err)
	require.False(t, ok)
}
