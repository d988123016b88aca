package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/state"
)

func newTestExecutor(t *testing.T) (*Executor, *state.ExecutionState, *state.CallStackFrame) {
	t.Helper()
	agentID, err := ids.ParseAgentID("host")
	require.NoError(t, err)
	st := state.New(agentID)
	frame := state.NewFrame("Main", nil)
	st.Push(frame)
	env := NewEnvironment(frame, st, nil)
	return NewExecutor(agentID, frame, st, env, NewToolNamespace(), nil), st, frame
}

// Scenario 1 from the spec: a $ state var set before a YLD survives the
// suspension and is visible to the statement that resumes after it, whose
// local is captured write-through into the frame.
func TestLocalCaptureSurvivesYield(t *testing.T) {
	ex, st, frame := newTestExecutor(t)
	ctx := context.Background()

	outcome, err := ex.Feed(ctx, "step1: EXE $name = \"Amol\"\n")
	require.NoError(t, err)
	require.Equal(t, StatusStreaming, outcome.Status)
	name, ok := st.GetStateVar("name")
	require.True(t, ok)
	require.Equal(t, "Amol", name)

	outcome, err = ex.Feed(ctx, "step2: YLD user\n")
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, outcome.Status)
	require.NotNil(t, outcome.Suspension)
	require.Equal(t, SuspendUser, outcome.Suspension.Kind)

	ex.Resume("go ahead")
	require.Equal(t, StatusResumed, ex.Status())

	outcome, err = ex.Feed(ctx, "step3: EXE reply = \"Hello \" + $name\n")
	require.NoError(t, err)
	require.Equal(t, StatusStreaming, outcome.Status)
	require.Equal(t, "Hello Amol", frame.Locals["reply"])
}

func TestExecRetCompletesAndPopsFrame(t *testing.T) {
	ex, st, _ := newTestExecutor(t)
	ctx := context.Background()

	_, err := ex.Feed(ctx, "s1: EXE result = 1 + 2\n")
	require.NoError(t, err)

	outcome, err := ex.Feed(ctx, "s2: RET result\n")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, outcome.Status)
	require.Equal(t, float64(3), outcome.ReturnValue.Num)
	require.Equal(t, 0, st.Depth())
}

func TestFreeTextIsLoggedNotExecuted(t *testing.T) {
	ex, st, _ := newTestExecutor(t)
	ctx := context.Background()

	outcome, err := ex.Feed(ctx, "Let me think about this for a moment.\n")
	require.NoError(t, err)
	require.Nil(t, outcome.Suspension)
	log := st.RecentLog(1)
	require.Len(t, log, 1)
	require.Equal(t, state.LogAssistantOutput, log[0].Type)
}

func TestNativeToolCallBindsResult(t *testing.T) {
	ex, _, frame := newTestExecutor(t)
	ex.Tools.RegisterNative("double", func(ctx context.Context, args []Value) (Value, error) {
		return Num(args[0].Num * 2), nil
	})
	ctx := context.Background()

	outcome, err := ex.Feed(ctx, "s1: EXT total = double(21)\n")
	require.NoError(t, err)
	require.Nil(t, outcome.Suspension)
	require.Equal(t, float64(42), frame.Locals["total"])
}

func TestToolErrorIsCapturedAsMappingNotFatal(t *testing.T) {
	ex, _, frame := newTestExecutor(t)
	ex.Tools.RegisterNative("boom", func(ctx context.Context, args []Value) (Value, error) {
		return Nil(), errBoom
	})
	ctx := context.Background()

	outcome, err := ex.Feed(ctx, "s1: EXT out = boom()\n")
	require.NoError(t, err)
	require.Equal(t, StatusStreaming, outcome.Status)
	v, ok := frame.Locals["out"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, v, "error")
}

func TestYldAgentParsesTargetAndBind(t *testing.T) {
	ex, _, _ := newTestExecutor(t)
	ctx := context.Background()

	outcome, err := ex.Feed(ctx, "s1: YLD agent host:worker reply\n")
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, outcome.Status)
	require.Equal(t, SuspendAgent, outcome.Suspension.Kind)
	require.Equal(t, "reply", outcome.Suspension.BindName)
}

func TestYldCallBarrierCollectsPendingSites(t *testing.T) {
	ex, _, _ := newTestExecutor(t)
	ex.Dispatcher = dispatcherFunc(func(ctx context.Context, agentID ids.AgentID, name string, args []Value) (Value, bool, string, error) {
		return Nil(), true, "callsite-1", nil
	})
	ctx := context.Background()

	_, err := ex.Feed(ctx, "s1: EXT Ask(1)\n")
	require.NoError(t, err)

	outcome, err := ex.Feed(ctx, "s2: YLD call\n")
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, outcome.Status)
	require.Equal(t, SuspendCall, outcome.Suspension.Kind)
	require.Equal(t, []string{"callsite-1"}, outcome.Suspension.CallSites)
}

func TestInvalidDirectiveBudgetEscalatesToStalled(t *testing.T) {
	ex, _, _ := newTestExecutor(t)
	ex.retryBudget = 1
	ctx := context.Background()

	_, err := ex.Feed(ctx, "s1: EXE $x = (((\n")
	require.NoError(t, err)
	outcome, err := ex.Feed(ctx, "s2: EXE $y = )))\n")
	require.Error(t, err)
	require.Equal(t, StatusFailed, outcome.Status)
}

type dispatcherFunc func(ctx context.Context, agentID ids.AgentID, name string, args []Value) (Value, bool, string, error)

func (f dispatcherFunc) Call(ctx context.Context, agentID ids.AgentID, name string, args []Value) (Value, bool, string, error) {
	return f(ctx, agentID, name, args)
}

type boomError struct{}

func (boomError) Error() string { return "boom" }

var errBoom = boomError{}
