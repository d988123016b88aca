// Package program implements the top-level runtime (spec §4.10, C10):
// agent instantiation from AgentClass declarations, the channel/event-bus
// registries, route_message and its stream pass-throughs, a per-agent
// goroutine running the interpreter loop, and graceful shutdown. Grounded
// on hector's component.ComponentManager owning every long-lived registry
// plus lifecycle (component/component_manager.go), and on agent.Agent's
// one-goroutine-per-invocation idiom (agent/agent.go), generalized here to
// one goroutine per agent for the lifetime of the program.
package program

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/playbooks-run/core/channel"
	"github.com/playbooks-run/core/checkpoint"
	"github.com/playbooks-run/core/config"
	"github.com/playbooks-run/core/eventbus"
	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/llm"
	"github.com/playbooks-run/core/message"
	"github.com/playbooks-run/core/meeting"
	"github.com/playbooks-run/core/metrics"
	"github.com/playbooks-run/core/perr"
	"github.com/playbooks-run/core/playbook"
	"github.com/playbooks-run/core/queue"
	"github.com/playbooks-run/core/state"
	"github.com/playbooks-run/core/trigger"
)

// MessageRouted is published on the event bus every time route_message
// delivers (or attempts to deliver) a Message, so observers outside the
// hot path (dashboards, audit logs) can subscribe without Program itself
// knowing about them (spec §4.2 C2 generalization).
type MessageRouted struct {
	SenderID    ids.AgentID
	RecipientID ids.EntityID
	Type        message.Type
}

// Program owns every registry a running playbooks program needs (spec
// §4.10): agent lookups by id and by class, the channel registry, the
// event bus, the meeting manager, the checkpoint coordinator, the
// scheduled-trigger scheduler, and the injected LLM binding.
type Program struct {
	classes map[string]*playbook.AgentClass

	mu            sync.RWMutex
	agentsByID    map[string]Agent
	agentsByKlass map[string][]Agent

	channels    *channel.Registry
	bus         *eventbus.Bus
	meetings    *meeting.Manager
	checkpoints *checkpoint.Coordinator
	metrics     *metrics.Metrics
	scheduler   *trigger.Scheduler
	llmProvider llm.Provider
	cfg         *config.Config
	dispatcher  *dispatcher

	wg     sync.WaitGroup
	cancel context.CancelFunc

	obsMu                 sync.Mutex
	streamObservers       []channel.Observer
	channelsWithObservers map[string]bool
}

// New builds a Program from the agent classes compiled by C6, wiring the
// checkpoint provider from cfg.Durability (spec §6) and registering every
// class's compiled trigger catalog. It does not yet start any agent loop —
// call Start for that.
func New(classes map[string]*playbook.AgentClass, llmProvider llm.Provider, cfg *config.Config, m *metrics.Metrics) (*Program, error) {
	p := &Program{
		classes:       classes,
		agentsByID:    map[string]Agent{},
		agentsByKlass: map[string][]Agent{},
		channels:      channel.NewRegistry(),
		bus:           eventbus.New(),
		metrics:       m,
		scheduler:     trigger.NewScheduler(),
		llmProvider:   llmProvider,
		cfg:           cfg,
	}
	p.meetings = meeting.NewManager(p, m)
	p.dispatcher = &dispatcher{p: p}

	var provider checkpoint.Provider
	if cfg != nil && cfg.Durability.Enabled {
		provider = checkpoint.NewFilesystemProvider(cfg.Durability.StoragePath, cfg.Durability.MaxCheckpointSizeMB<<20)
	} else {
		provider = checkpoint.NewFilesystemProvider(".playbooks/checkpoints", 8<<20)
	}
	keepLastN := 5
	if cfg != nil {
		keepLastN = cfg.Durability.KeepLastN
	}
	p.checkpoints = checkpoint.NewCoordinator(provider, m, keepLastN)

	names := make([]string, 0, len(classes))
	for name := range classes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		class := classes[name]
		if err := p.instantiate(class); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Program) instantiate(class *playbook.AgentClass) error {
	id := ids.NewAgentID(class.Name)

	switch class.Type {
	case playbook.TypeHuman:
		h := newHumanAgent(id, class, nil)
		p.register(h)
	case playbook.TypeRemote:
		var client RemoteTransportClient
		if class.Transport.AgentCardURL != "" {
			c, err := newA2ATransportClient(context.Background(), class.Transport.AgentCardURL)
			if err != nil {
				slog.Warn("program: remote agent card resolution failed, agent starts clientless", "agent", id.String(), "agent_card_url", class.Transport.AgentCardURL, "error", err)
			} else {
				client = c
			}
		}
		r := newRemoteAgent(id, class, client)
		p.register(r)
	default:
		catalog, err := trigger.CompileClass(class)
		if err != nil {
			return err
		}
		a := newAIAgent(id, class, catalog)
		p.registerTools(a)
		p.register(a)
		if err := p.scheduler.RegisterAgent(context.Background(), id, a.queue, catalog, func(playbookName string) {
			p.invoke(a, playbookName, nil)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Program) register(a Agent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agentsByID[a.AgentID().String()] = a
	p.agentsByKlass[a.Klass()] = append(p.agentsByKlass[a.Klass()], a)
}

// AgentByID looks up a registered agent (any variant) by its id.
func (p *Program) AgentByID(id ids.AgentID) (Agent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.agentsByID[id.String()]
	return a, ok
}

// SetHumanSink attaches a delivery sink to a registered Human agent (a CLI
// printer, a websocket writer, a test's recording channel) after New has
// already instantiated it with none. Reports false if id isn't a Human
// agent.
func (p *Program) SetHumanSink(id ids.AgentID, sink func(msg message.Message)) bool {
	a, ok := p.AgentByID(id)
	if !ok {
		return false
	}
	h, ok := a.(*HumanAgent)
	if !ok {
		return false
	}
	h.SetSink(sink)
	return true
}

// SetRemoteClient attaches a wire client to a registered Remote agent, the
// same post-hoc wiring SetHumanSink provides for Human agents.
func (p *Program) SetRemoteClient(id ids.AgentID, client RemoteTransportClient) bool {
	a, ok := p.AgentByID(id)
	if !ok {
		return false
	}
	r, ok := a.(*RemoteAgent)
	if !ok {
		return false
	}
	r.SetClient(client)
	return true
}

// AddStreamObserver registers o on every channel Program creates from now
// on (spec §6 "Stream events to observers") — a CLI's --stream flag, a
// dashboard, or a test can watch stream lifecycle events without Program
// knowing anything about the consumer. Call before Start; channels that
// already existed when a later call is made are not retroactively wired.
func (p *Program) AddStreamObserver(o channel.Observer) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	p.streamObservers = append(p.streamObservers, o)
}

// getOrCreateChannel wraps channels.GetOrCreate, attaching every
// registered stream observer to a channel exactly once, the first time
// this Program sees it.
func (p *Program) getOrCreateChannel(id string) *channel.Channel {
	c := p.channels.GetOrCreate(id)
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	if p.channelsWithObservers == nil {
		p.channelsWithObservers = map[string]bool{}
	}
	if !p.channelsWithObservers[id] {
		for _, o := range p.streamObservers {
			c.AddObserver(o)
		}
		p.channelsWithObservers[id] = true
	}
	return c
}

// AgentsByKlass returns every registered instance of a class name.
func (p *Program) AgentsByKlass(klass string) []Agent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Agent(nil), p.agentsByKlass[klass]...)
}

// SendInvite implements meeting.InviteSender: route_message to a
// prospective attendee's channel with the meeting_invite already built by
// the meeting manager.
func (p *Program) SendInvite(recipient ids.AgentID, msg message.Message) error {
	return p.deliver(channel.DirectChannelID(msg.SenderID(), recipient), msg, recipient)
}

// Start instantiates any on-disk checkpoint state, then runs every
// program-start trigger and spins up one goroutine per AI agent (spec
// §4.10: "instantiate declared agents... per-agent main loop").
func (p *Program) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	if rec, ok, err := p.checkpoints.ResumeProgram(runCtx); err != nil {
		return perr.New(perr.KindRecoveryFailed, "program", "Start", "loading program checkpoint", err)
	} else if ok {
		p.restoreAgents(runCtx, rec)
	}

	p.scheduler.Start()

	p.mu.RLock()
	aiAgents := make([]*AIAgent, 0, len(p.agentsByID))
	for _, a := range p.agentsByID {
		if ai, ok := a.(*AIAgent); ok {
			aiAgents = append(aiAgents, ai)
		}
	}
	p.mu.RUnlock()
	sort.Slice(aiAgents, func(i, j int) bool { return aiAgents[i].id.String() < aiAgents[j].id.String() })

	for _, ai := range aiAgents {
		ai := ai
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.aiAgentLoop(runCtx, ai)
		}()
		for _, t := range ai.catalog.ProgramStartTriggers() {
			p.invoke(ai, t.Playbook, nil)
		}
	}
	return nil
}

func (p *Program) restoreAgents(ctx context.Context, rec checkpoint.ProgramRecord) {
	for agentIDStr := range rec.AgentCheckpointRefs {
		agentID := ids.NewAgentID(agentIDStr)
		a, ok := p.AgentByID(agentID)
		if !ok {
			continue
		}
		ai, ok := a.(*AIAgent)
		if !ok {
			continue
		}
		crec, found, err := p.checkpoints.ResumeAgent(ctx, agentID)
		if err != nil || !found {
			if err != nil {
				slog.Warn("program: resume agent failed", "agent", agentIDStr, "error", err)
			}
			continue
		}
		ai.state = state.Restore(agentID, crec.State)
	}
}

// invoke requests a top-level run of playbookName on ai — used for
// program-start and scheduled triggers, which have no caller frame
// waiting on a return value. It never pushes a frame or drives runFrame
// itself: the request is handed to ai's own queue as an invokeEnvelope,
// so aiAgentLoop's single persistent goroutine is the only thing that
// ever pushes onto ai.state.CallStack or reads ai.queue (spec §5:
// exactly one active frame per agent at a time). A direct call here used
// to spawn its own goroutine to drive runFrame, which could race with
// aiAgentLoop over the same queue whenever that invocation later
// suspended on a YLD and awaited a reply on ai.queue.Find.
func (p *Program) invoke(ai *AIAgent, playbookName string, boundParams map[string]any) {
	envBytes, err := json.Marshal(invokeEnvelope{Playbook: playbookName, BoundParams: boundParams})
	if err != nil {
		slog.Warn("program: invoke: encode envelope", "agent", ai.id.String(), "playbook", playbookName, "error", err)
		return
	}
	msg, err := message.New(message.Params{
		SenderID: ai.id,
		Content:  invokeRequestPrefix + string(envBytes),
		Type:     message.TypeSystem,
	})
	if err != nil {
		slog.Warn("program: invoke: build message", "agent", ai.id.String(), "playbook", playbookName, "error", err)
		return
	}
	if err := ai.queue.Put(msg, queue.PriorityControl); err != nil {
		slog.Warn("program: invoke: enqueue", "agent", ai.id.String(), "playbook", playbookName, "error", err)
	}
}

// RouteMessage implements route_message (spec §4.10): resolve the channel
// for recipientID (creating it atomically if absent), build the Message,
// and deliver it.
func (p *Program) RouteMessage(senderID ids.AgentID, recipientID ids.EntityID, content string, msgType message.Type, targetAgentIDs []ids.AgentID, streamID string) error {
	params := message.Params{
		SenderID:       senderID,
		Content:        content,
		Type:           msgType,
		TargetAgentIDs: targetAgentIDs,
		StreamID:       streamID,
	}
	var channelID string
	var recipientAgent ids.AgentID
	var isDirect bool
	if meetingID, isMeeting := recipientID.AsMeeting(); isMeeting {
		params.RecipientID = entityPtr(recipientID)
		params.MeetingID = &meetingID
		channelID = channel.MeetingChannelID(meetingID)
	} else {
		recipientAgent, isDirect = recipientID.AsAgent()
		params.RecipientID = entityPtr(recipientID)
		channelID = channel.DirectChannelID(senderID, recipientAgent)
	}
	msg, err := message.New(params)
	if err != nil {
		return err
	}
	eventbus.Publish(p.bus, MessageRouted{SenderID: senderID, RecipientID: recipientID, Type: msgType})
	p.metrics.RecordMessageRouted(string(msgType))

	if err := p.deliverOnChannel(channelID, msg, recipientID); err != nil {
		return err
	}

	// A direct delivery to a streaming-enabled Human is also surfaced to
	// any registered observers as a one-chunk stream (spec §4.4/§6), after
	// deliverOnChannel has registered both parties as channel participants
	// — StartStream's hasMatchingHuman check (C4) only sees a participant
	// once it has actually joined the channel, so this must run after
	// delivery, not before. The Human's own sink still gets the full
	// message from deliverOnChannel regardless of whether anyone is
	// watching; the stream is purely supplementary visibility.
	if isDirect && !msgType.IsMeeting() {
		sr := p.StartStream(senderID, &recipientAgent, nil)
		if sr.ShouldStream {
			p.StreamChunk(sr.StreamID, content, &recipientAgent, nil, senderID)
			p.CompleteStream(sr.StreamID, &recipientAgent, nil, senderID, false)
		}
	}
	return nil
}

// deliver is a small convenience used by SendInvite (a single known
// recipient, not a full route_message call).
func (p *Program) deliver(channelID string, msg message.Message, recipient ids.AgentID) error {
	c := p.getOrCreateChannel(channelID)
	if part, ok := p.AgentByID(msg.SenderID()); ok {
		c.AddParticipant(part)
	}
	if part, ok := p.AgentByID(recipient); ok {
		c.AddParticipant(part)
	}
	errs := c.Deliver(msg)
	return firstErr(errs)
}

func (p *Program) deliverOnChannel(channelID string, msg message.Message, recipientID ids.EntityID) error {
	c := p.getOrCreateChannel(channelID)
	if part, ok := p.AgentByID(msg.SenderID()); ok {
		c.AddParticipant(part)
	}
	if agentID, isAgent := recipientID.AsAgent(); isAgent {
		if part, ok := p.AgentByID(agentID); ok {
			c.AddParticipant(part)
		}
	}
	errs := c.Deliver(msg)
	return firstErr(errs)
}

// StartStream/StreamChunk/CompleteStream are thin pass-throughs to the
// resolved channel (spec §4.10).
func (p *Program) StartStream(senderID ids.AgentID, recipientID *ids.AgentID, meetingID *ids.MeetingID) channel.StreamResult {
	c := p.channelFor(senderID, recipientID, meetingID)
	return c.StartStream(senderID, recipientID, meetingID)
}

func (p *Program) StreamChunk(streamID, chunk string, recipientID *ids.AgentID, meetingID *ids.MeetingID, senderID ids.AgentID) {
	c := p.channelFor(senderID, recipientID, meetingID)
	c.StreamChunk(streamID, chunk, recipientID, meetingID)
}

func (p *Program) CompleteStream(streamID string, recipientID *ids.AgentID, meetingID *ids.MeetingID, senderID ids.AgentID, cancelled bool) {
	c := p.channelFor(senderID, recipientID, meetingID)
	c.CompleteStream(streamID, recipientID, meetingID, cancelled)
}

func (p *Program) channelFor(senderID ids.AgentID, recipientID *ids.AgentID, meetingID *ids.MeetingID) *channel.Channel {
	if meetingID != nil {
		return p.getOrCreateChannel(channel.MeetingChannelID(*meetingID))
	}
	if recipientID != nil {
		return p.getOrCreateChannel(channel.DirectChannelID(senderID, *recipientID))
	}
	return p.getOrCreateChannel(channel.DirectChannelID(senderID, senderID))
}

// Shutdown implements graceful shutdown (spec §4.10, §5): close every
// agent's intake queue, end open meetings, stop the scheduler, wait for
// every agent goroutine to drain, then persist a final program checkpoint.
func (p *Program) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.scheduler.Stop()

	p.mu.RLock()
	agents := make([]Agent, 0, len(p.agentsByID))
	for _, a := range p.agentsByID {
		agents = append(agents, a)
	}
	p.mu.RUnlock()
	for _, a := range agents {
		if ai, ok := a.(*AIAgent); ok {
			ai.queue.Close()
		}
	}

	for _, m := range p.meetings.All() {
		p.meetings.End(m.ID())
	}

	p.wg.Wait()

	return p.checkpoints.SaveProgram(ctx, nil)
}

func entityPtr(e ids.EntityID) *ids.EntityID { return &e }

func firstErr(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}
