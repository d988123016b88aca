package playbook

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleSource = `# Host:AI
The host agent welcomes attendees.

## Main

### Triggers
- at program start

### Steps
- EXE $name = "Amol"
- YLD user
- EXE reply = "Hello " + $name
- EXT Say("human", reply)

## Broadcast(topic, public: true)
meeting: true
required_attendees: [Alice, Bob]

### Steps
- EXT broadcast(topic)

# Alice:Human
metadata:
  delivery:
    channel: streaming
    streaming_enabled: true
    meeting_notifications: all

# Bob:Human
metadata:
  delivery:
    channel: buffered
    meeting_notifications: targeted

# Worker:Remote
metadata:
  transport:
    agent_card_url: https://worker.example/.well-known/agent-card.json
`

func TestParseAgentHeader(t *testing.T) {
	name, typ, err := ParseAgentHeader("# Host:AI")
	require.NoError(t, err)
	require.Equal(t, "Host", name)
	require.Equal(t, TypeAI, typ)

	name, typ, err = ParseAgentHeader("# Alice")
	require.NoError(t, err)
	require.Equal(t, "Alice", name)
	require.Equal(t, TypeAI, typ)
}

func TestParseAndBuildClasses(t *testing.T) {
	ast, err := Parse(sampleSource)
	require.NoError(t, err)
	require.Len(t, ast.Sections, 4)

	classes, err := BuildClasses(ast)
	require.NoError(t, err)
	require.Len(t, classes, 4)

	host := classes["Host"]
	require.Equal(t, TypeAI, host.Type)
	require.True(t, host.StartAtInit)
	require.Contains(t, host.Playbooks, "Main")
	require.Contains(t, host.Playbooks, "Broadcast")
	require.True(t, host.Playbooks["Broadcast"].Meeting)
	require.Equal(t, []string{"Alice", "Bob"}, host.Playbooks["Broadcast"].RequiredAttendees)

	main := host.Playbooks["Main"]
	require.Len(t, main.Steps, 4)
	require.Equal(t, `EXE $name = "Amol"`, main.Steps[0])

	alice := classes["Alice"]
	require.Equal(t, TypeHuman, alice.Type)
	require.True(t, alice.Delivery.StreamingEnabled)
	require.Equal(t, NotifyAll, alice.Delivery.MeetingNotifications)

	worker := classes["Worker"]
	require.Equal(t, TypeRemote, worker.Type)
	require.Equal(t, "https://worker.example/.well-known/agent-card.json", worker.Transport.AgentCardURL)
}

func TestDuplicateAgentNameFails(t *testing.T) {
	_, err := Parse("# A\n\n# A\n")
	require.Error(t, err)
}
