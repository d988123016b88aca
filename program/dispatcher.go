package program

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/playbooks-run/core/executor"
	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/message"
	"github.com/playbooks-run/core/perr"
	"github.com/playbooks-run/core/playbook"
	"github.com/playbooks-run/core/queue"
	"github.com/playbooks-run/core/state"
)

// callRequestPrefix/callReplyPrefix tag the system-typed Message content
// dispatcher uses to carry a cross-agent call across the target's own
// intake queue (spec §4.10: genuinely asynchronous EXT calls are the only
// ones that cross an agent boundary; everything else resolves in-process).
const (
	callRequestPrefix = "playbooks/call-request:"
	callReplyPrefix   = "playbooks/call-reply:"
	// invokeRequestPrefix tags a program-start or scheduled-trigger
	// invocation as a system message on the agent's OWN queue, so
	// aiAgentLoop is the only goroutine that ever pushes a frame onto
	// that agent's call stack or touches its queue (spec §5: exactly one
	// active invocation per agent). Without this hop, a program-start
	// trigger and an incoming-message trigger could run runFrame
	// concurrently on two different goroutines, racing on both the call
	// stack and any in-flight YLD's queue.Find.
	invokeRequestPrefix = "playbooks/invoke-request:"
)

// invokeEnvelope carries a self-invocation (program start, scheduled
// trigger) across the hop onto the agent's own queue.
type invokeEnvelope struct {
	Playbook    string
	BoundParams map[string]any
}

type callEnvelope struct {
	CallSite  string
	FromAgent string
	Playbook  string
	Args      []any
}

type replyEnvelope struct {
	CallSite string
	Result   any
	Err      string
}

// dispatcher implements executor.Dispatcher (spec §4.8, §4.10). A call
// resolving to the calling agent's own class, or to another agent's
// public playbook run entirely within markdown-playbook recursion, is
// resolved synchronously by recursing into runFrame on the SAME
// goroutine: exactly one frame is ever "active" per agent, so a same-
// agent recursive call is just another frame on that agent's own call
// stack. A call whose target is a different agent instance must cross
// goroutines and is therefore genuinely awaitable: it is sent as a
// system Message into the target's own intake queue and answered with a
// reply Message, never by touching the target's ExecutionState directly
// (spec §5: "no shared mutable state across agents except the message
// fabric").
type dispatcher struct {
	p *Program
}

func (d *dispatcher) Call(ctx context.Context, agentID ids.AgentID, name string, args []executor.Value) (executor.Value, bool, string, error) {
	callerAgent, ok := d.p.AgentByID(agentID)
	if !ok {
		return executor.Nil(), false, "", perr.New(perr.KindUnknownAgent, "program", "dispatcher.Call", agentID.String(), nil)
	}
	callerAI, ok := callerAgent.(*AIAgent)
	if !ok {
		return executor.Nil(), false, "", perr.New(perr.KindUnknownAgent, "program", "dispatcher.Call", "caller is not an AI agent: "+agentID.String(), nil)
	}

	targetID, pb, ok := d.resolvePlaybook(callerAI, name)
	if !ok {
		return executor.Nil(), false, "", perr.New(perr.KindUnknownPlaybook, "program", "dispatcher.Call", name, nil)
	}

	if targetID.Equal(agentID) {
		frame := state.NewFrame(pb.Name, bindArgs(pb.Params, args))
		callerAI.state.Push(frame)
		val, err := d.p.runFrame(ctx, callerAI, frame)
		return val, false, "", err
	}

	target, ok := d.p.AgentByID(targetID)
	if !ok {
		return executor.Nil(), false, "", perr.New(perr.KindUnknownAgent, "program", "dispatcher.Call", targetID.String(), nil)
	}
	targetAI, ok := target.(*AIAgent)
	if !ok {
		return executor.Nil(), false, "", perr.New(perr.KindUnknownAgent, "program", "dispatcher.Call", "target is not an AI agent: "+targetID.String(), nil)
	}

	nativeArgs := make([]any, len(args))
	for i, a := range args {
		nativeArgs[i] = a.ToNative()
	}
	callSite := uuid.NewString()
	envBytes, err := json.Marshal(callEnvelope{
		CallSite:  callSite,
		FromAgent: agentID.String(),
		Playbook:  pb.Name,
		Args:      nativeArgs,
	})
	if err != nil {
		return executor.Nil(), false, "", perr.New(perr.KindFatal, "program", "dispatcher.Call", "encode call envelope", err)
	}
	msg, err := message.New(message.Params{
		SenderID: agentID,
		Content:  callRequestPrefix + string(envBytes),
		Type:     message.TypeSystem,
	})
	if err != nil {
		return executor.Nil(), false, "", err
	}
	if err := targetAI.queue.Put(msg, queue.PriorityControl); err != nil {
		return executor.Nil(), false, "", err
	}
	return executor.Nil(), true, callSite, nil
}

// resolvePlaybook finds the playbook a bare or "Agent.Playbook" qualified
// name refers to (spec §4.8: "bare names resolve to frame locals first,
// then tool namespace" — by the time dispatcher.Call runs, the tool
// namespace has already failed to resolve name, so only playbook
// resolution remains).
func (d *dispatcher) resolvePlaybook(caller *AIAgent, name string) (ids.AgentID, *playbook.Playbook, bool) {
	if agentPart, pbPart, ok := strings.Cut(name, "."); ok {
		if agentID, err := ids.ParseAgentID(agentPart); err == nil {
			if a, ok := d.p.AgentByID(agentID); ok {
				if ai, ok := a.(*AIAgent); ok {
					if pb, ok := ai.class.Playbooks[pbPart]; ok {
						if ai.id.Equal(caller.id) || pb.Public {
							return ai.id, pb, true
						}
					}
				}
			}
		}
	}

	if pb, ok := caller.class.Playbooks[name]; ok {
		return caller.id, pb, true
	}

	d.p.mu.RLock()
	agentIDs := make([]string, 0, len(d.p.agentsByID))
	for id := range d.p.agentsByID {
		agentIDs = append(agentIDs, id)
	}
	d.p.mu.RUnlock()
	sort.Strings(agentIDs)
	for _, id := range agentIDs {
		a, ok := d.p.AgentByID(ids.NewAgentID(id))
		if !ok {
			continue
		}
		ai, ok := a.(*AIAgent)
		if !ok || ai.id.Equal(caller.id) {
			continue
		}
		if pb, ok := ai.class.Playbooks[name]; ok && pb.Public {
			return ai.id, pb, true
		}
	}
	return ids.AgentID{}, nil, false
}

// bindArgs positionally binds args to params' names, leaving missing
// trailing params unbound (the LLM is expected to supply them when
// required; a param with a default is meant to be evaluated by the
// caller's own mini-language expression before the EXT call, not here).
func bindArgs(params []playbook.Param, args []executor.Value) map[string]any {
	locals := make(map[string]any, len(params))
	for i, p := range params {
		if i < len(args) {
			locals[p.Name] = args[i].ToNative()
		}
	}
	return locals
}
