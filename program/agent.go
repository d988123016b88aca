package program

import (
	"github.com/playbooks-run/core/channel"
	"github.com/playbooks-run/core/executor"
	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/message"
	"github.com/playbooks-run/core/playbook"
	"github.com/playbooks-run/core/queue"
	"github.com/playbooks-run/core/state"
	"github.com/playbooks-run/core/trigger"
)

// Agent is anything Program can route a Message to: an AI interpreter
// loop, a human inbox, or a remote A2A peer (spec §3 Agent, generalized
// over the three AgentType values C6 parses).
type Agent interface {
	channel.Participant
	Klass() string
}

// AIAgent wraps one running agent class instance's mutable runtime state:
// its call stack/session log (state), intake queue, tool namespace, and
// compiled trigger catalog — the concrete thing the per-agent goroutine
// (aiAgentLoop, loop.go) drives. Grounded on hector's agent.Agent holding
// its own Services/State bundle (agent/agent.go), generalized from one
// shared struct to one instance per running AgentClass.
type AIAgent struct {
	id      ids.AgentID
	class   *playbook.AgentClass
	state   *state.ExecutionState
	queue   *queue.Queue
	tools   *executor.ToolNamespace
	catalog *trigger.Catalog
}

func newAIAgent(id ids.AgentID, class *playbook.AgentClass, catalog *trigger.Catalog) *AIAgent {
	return &AIAgent{
		id:      id,
		class:   class,
		state:   state.New(id),
		queue:   queue.New(),
		tools:   executor.NewToolNamespace(),
		catalog: catalog,
	}
}

func (a *AIAgent) AgentID() ids.AgentID { return a.id }
func (a *AIAgent) Klass() string        { return a.class.Name }

// Enqueue implements channel.Participant: delivery into the agent's own
// intake queue.
func (a *AIAgent) Enqueue(msg message.Message, priority queue.Priority) error {
	return a.queue.Put(msg, priority)
}

// HumanAgent is a Participant backed by a human operator: delivery simply
// forwards to an injected sink (a CLI printer, a websocket writer, or in
// tests a recording channel) rather than an intake queue an interpreter
// loop drains (spec §3: a Human agent has no playbooks of its own).
type HumanAgent struct {
	id    ids.AgentID
	prefs playbook.DeliveryPreferences
	sink  func(msg message.Message)
}

func newHumanAgent(id ids.AgentID, class *playbook.AgentClass, sink func(msg message.Message)) *HumanAgent {
	return &HumanAgent{id: id, prefs: class.Delivery, sink: sink}
}

func (h *HumanAgent) AgentID() ids.AgentID   { return h.id }
func (h *HumanAgent) Klass() string          { return "Human" }
func (h *HumanAgent) StreamingEnabled() bool { return h.prefs.StreamingEnabled }

func (h *HumanAgent) Enqueue(msg message.Message, _ queue.Priority) error {
	if h.sink != nil {
		h.sink(msg)
	}
	return nil
}

// SetSink attaches (or replaces) the delivery sink after construction —
// Program.instantiate has no sink available until a caller (CLI, test)
// wires one up post-hoc via Program.SetHumanSink.
func (h *HumanAgent) SetSink(sink func(msg message.Message)) {
	h.sink = sink
}

// RemoteAgent proxies a Message to an A2A peer (spec §3 Remote agent,
// SUPPLEMENT). The concrete wire client is injected so this package never
// has to pin itself to a2a-go's exact client surface — the same
// config-wrapped-executor spirit as hector's v2/server.Executor
// (v2/server/executor.go) wrapping the a2asrv handler behind a small
// local interface.
type RemoteAgent struct {
	id        ids.AgentID
	transport playbook.RemoteTransport
	client    RemoteTransportClient
}

// RemoteTransportClient is the minimal send operation a Remote agent
// needs; a production binding implements this over a2a-go's client.
type RemoteTransportClient interface {
	Send(endpoint string, content string) error
}

func newRemoteAgent(id ids.AgentID, class *playbook.AgentClass, client RemoteTransportClient) *RemoteAgent {
	return &RemoteAgent{id: id, transport: class.Transport, client: client}
}

func (r *RemoteAgent) AgentID() ids.AgentID { return r.id }
func (r *RemoteAgent) Klass() string        { return "Remote" }

func (r *RemoteAgent) Enqueue(msg message.Message, _ queue.Priority) error {
	if r.client == nil {
		return nil
	}
	return r.client.Send(r.transport.Endpoint, msg.Content())
}

// SetClient attaches (or replaces) the wire client after construction, the
// same post-hoc wiring HumanAgent.SetSink provides.
func (r *RemoteAgent) SetClient(client RemoteTransportClient) {
	r.client = client
}
