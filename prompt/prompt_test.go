package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/playbooks-run/core/playbook"
	"github.com/playbooks-run/core/state"
)

func TestBuildIncludesActiveSourceAndLocals(t *testing.T) {
	frame := state.NewFrame("Main", map[string]any{"name": "Amol"})
	frame.SetIP("step2")
	active := &playbook.Playbook{Name: "Main", Body: "EXE $name = \"Amol\"\nYLD user"}

	out := Build(Input{
		AgentID:    "host-1",
		AgentKlass: "Host",
		Frame:      frame,
		StateVars:  map[string]any{"counter": 3},
		Active:     active,
	})

	require.Contains(t, out, "Active playbook: Main")
	require.Contains(t, out, "step: step2")
	require.Contains(t, out, active.Body)
	require.Contains(t, out, `name = "Amol"`)
	require.Contains(t, out, "self.state.counter = 3")
}

func TestBuildIncludesCatalogAndTriggers(t *testing.T) {
	own := map[string]*playbook.Playbook{
		"Main":      {Name: "Main", Description: "entry point"},
		"Broadcast": {Name: "Broadcast", Params: []playbook.Param{{Name: "topic"}}, Description: "tell everyone"},
	}
	out := Build(Input{
		AgentID: "host-1",
		Own:     own,
		Peers: []Descriptor{
			{AgentName: "Worker", Name: "DoJob", Description: "runs a job"},
		},
		Triggers: []playbook.TriggerSource{{Text: "at program start"}},
	})

	require.Contains(t, out, "Broadcast($topic)")
	require.Contains(t, out, "Worker.DoJob")
	require.Contains(t, out, "at program start")
}

func TestBuildTrimsSessionLogToBudget(t *testing.T) {
	budget, err := NewTokenBudget("gpt-4o")
	require.NoError(t, err)

	var log []state.LogEntry
	for i := 0; i < 50; i++ {
		log = append(log, state.LogEntry{Type: state.LogAssistantOutput, Content: strings.Repeat("word ", 20)})
	}

	out := Build(Input{
		AgentID:      "host-1",
		SessionLog:   log,
		LogBudget:    budget,
		LogMaxTokens: 50,
	})

	require.Contains(t, out, "Recent session log")
	// With a small budget, not all 50 verbose entries should survive.
	require.Less(t, strings.Count(out, "[assistant_output]"), 50)
}

func TestBuildSchemaMarksRequiredAndOptional(t *testing.T) {
	schema := BuildSchema([]playbook.Param{
		{Name: "topic"},
		{Name: "urgency", Default: "\"low\"", HasDefault: true},
	})
	require.Equal(t, "object", schema["type"])
	required, ok := schema["required"].([]any)
	require.True(t, ok)
	require.Contains(t, required, "topic")
	require.NotContains(t, required, "urgency")
}
