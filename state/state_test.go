package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/playbooks-run/core/ids"
)

func mustAgent(t *testing.T) ids.AgentID {
	t.Helper()
	id, err := ids.ParseAgentID("host")
	require.NoError(t, err)
	return id
}

func TestPushPeekPopOrdering(t *testing.T) {
	st := New(mustAgent(t))
	require.Equal(t, 0, st.Depth())

	f1 := NewFrame("Main", nil)
	f2 := NewFrame("Helper", map[string]any{"x": 1})
	st.Push(f1)
	st.Push(f2)
	require.Equal(t, 2, st.Depth())

	top, ok := st.Peek()
	require.True(t, ok)
	require.Equal(t, "Helper", top.PlaybookName)

	popped, err := st.Pop()
	require.NoError(t, err)
	require.Equal(t, "Helper", popped.PlaybookName)
	require.Equal(t, 1, st.Depth())

	popped, err = st.Pop()
	require.NoError(t, err)
	require.Equal(t, "Main", popped.PlaybookName)
	require.Equal(t, 0, st.Depth())
}

func TestPopOnEmptyStackFails(t *testing.T) {
	st := New(mustAgent(t))
	_, err := st.Pop()
	require.Error(t, err)
}

func TestLocalsUpdateWritesThroughImmediately(t *testing.T) {
	frame := NewFrame("Main", nil)
	frame.LocalsUpdate(map[string]any{"name": "Amol"})
	require.Equal(t, "Amol", frame.Locals["name"])
	frame.LocalsUpdate(map[string]any{"reply": "Hello Amol"})
	require.Equal(t, "Amol", frame.Locals["name"])
	require.Equal(t, "Hello Amol", frame.Locals["reply"])
}

func TestStateVarsAndSessionLog(t *testing.T) {
	st := New(mustAgent(t))
	st.SetStateVar("counter", 1.0)
	v, ok := st.GetStateVar("counter")
	require.True(t, ok)
	require.Equal(t, 1.0, v)

	st.AddSessionEntry(LogEntry{Type: LogAssistantOutput, Content: "hello"})
	st.AddSessionEntry(LogEntry{Type: LogToolCall, Content: "Search(\"x\")"})
	recent := st.RecentLog(1)
	require.Len(t, recent, 1)
	require.Equal(t, LogToolCall, recent[0].Type)

	all := st.RecentLog(100)
	require.Len(t, all, 2)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	agentID := mustAgent(t)
	st := New(agentID)
	frame := NewFrame("Main", map[string]any{"name": "Amol"})
	st.Push(frame)
	st.SetStateVar("$session_count", 3.0)
	st.AddSessionEntry(LogEntry{Type: LogAssistantOutput, Content: "hi"})
	meetingID := ids.NewMeetingID("standup")
	st.SetCurrentMeeting(&meetingID)

	snap := st.Snapshot()
	require.Len(t, snap.CallStack, 1)
	require.Equal(t, "Amol", snap.CallStack[0].Locals["name"])

	restored := Restore(agentID, snap)
	require.Equal(t, 1, restored.Depth())
	top, ok := restored.Peek()
	require.True(t, ok)
	require.Equal(t, "Main", top.PlaybookName)
	require.Equal(t, "Amol", top.Locals["name"])
	require.Nil(t, top.Return)

	v, ok := restored.GetStateVar("$session_count")
	require.True(t, ok)
	require.Equal(t, 3.0, v)
	require.NotNil(t, restored.CurrentMeeting)
	require.True(t, restored.CurrentMeeting.Equal(meetingID))
	require.Len(t, restored.RecentLog(10), 1)
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	st := New(mustAgent(t))
	frame := NewFrame("Main", map[string]any{"x": 1.0})
	st.Push(frame)

	snap := st.Snapshot()
	frame.LocalsUpdate(map[string]any{"x": 2.0})

	require.Equal(t, 1.0, snap.CallStack[0].Locals["x"])
	require.Equal(t, 2.0, frame.Locals["x"])
}
