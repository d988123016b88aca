package program

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/playbooks-run/core/checkpoint"
	"github.com/playbooks-run/core/executor"
	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/message"
	"github.com/playbooks-run/core/perr"
	"github.com/playbooks-run/core/playbook"
	"github.com/playbooks-run/core/prompt"
	"github.com/playbooks-run/core/queue"
	"github.com/playbooks-run/core/state"
)

// aiAgentLoop is the per-agent main loop (spec §4.10): repeatedly get()
// from the intake queue, either dispatch to a matching trigger (a new
// top-of-stack frame), forward a cross-agent call envelope, or — if
// nothing matches — append the event to the session log for a later
// WaitForMessage to find (spec §4.12). There is at most one of these
// goroutines per agent for its entire lifetime; it is the only goroutine
// that ever calls runFrame for a NEW top-level invocation of that agent
// — recursive (same-agent) calls within an already-running frame happen
// on this same goroutine via ordinary Go recursion (dispatcher.Call).
func (p *Program) aiAgentLoop(ctx context.Context, ai *AIAgent) {
	for {
		msg, err := ai.queue.Get(ctx)
		if err != nil {
			return // queue closed or context cancelled: shutdown
		}

		if strings.HasPrefix(msg.Content(), invokeRequestPrefix) {
			p.handleInvokeRequest(ctx, ai, msg)
			continue
		}
		if strings.HasPrefix(msg.Content(), callRequestPrefix) {
			p.handleCallRequest(ctx, ai, msg)
			continue
		}
		if strings.HasPrefix(msg.Content(), callReplyPrefix) {
			// A reply with no waiting frame (the waiter already gave up,
			// or this is a stray duplicate) — nothing to do but log it.
			ai.state.AddSessionEntry(state.LogEntry{Type: state.LogSystemEvent, Content: "unclaimed call reply: " + msg.Content()})
			continue
		}

		if t, ok := ai.catalog.Match(msg); ok {
			bound := map[string]any{"message": msg.Content()}
			if meetingID, ok := msg.MeetingID(); ok {
				bound["meeting_id"] = meetingID.String()
			}
			frame := state.NewFrame(t.Playbook, bound)
			ai.state.Push(frame)
			if _, err := p.runFrame(ctx, ai, frame); err != nil {
				slog.Warn("program: triggered playbook failed", "agent", ai.id.String(), "playbook", t.Playbook, "error", err)
			}
			continue
		}

		ai.state.AddSessionEntry(state.LogEntry{Type: state.LogIncomingMessage, Content: msg.Content()})
	}
}

// handleInvokeRequest drives a program-start or scheduled-trigger
// invocation to completion on this, the agent's one persistent loop
// goroutine — the hop through ai.queue that Program.invoke takes exists
// solely so this is true even when the invocation suspends and later
// resumes via another Find on this same queue.
func (p *Program) handleInvokeRequest(ctx context.Context, ai *AIAgent, msg message.Message) {
	var env invokeEnvelope
	raw := strings.TrimPrefix(msg.Content(), invokeRequestPrefix)
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		slog.Warn("program: malformed invoke request", "agent", ai.id.String(), "error", err)
		return
	}
	pb, ok := ai.class.Playbooks[env.Playbook]
	if !ok {
		slog.Warn("program: invoke: unknown playbook", "agent", ai.id.String(), "playbook", env.Playbook)
		return
	}
	frame := state.NewFrame(pb.Name, env.BoundParams)
	ai.state.Push(frame)
	if _, err := p.runFrame(ctx, ai, frame); err != nil {
		slog.Warn("program: invocation failed", "agent", ai.id.String(), "playbook", env.Playbook, "error", err)
	}
}

// handleCallRequest runs an incoming cross-agent call to completion (or
// failure) and answers the caller with a reply Message on its own queue.
func (p *Program) handleCallRequest(ctx context.Context, ai *AIAgent, msg message.Message) {
	var env callEnvelope
	raw := strings.TrimPrefix(msg.Content(), callRequestPrefix)
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		slog.Warn("program: malformed call request", "agent", ai.id.String(), "error", err)
		return
	}

	reply := replyEnvelope{CallSite: env.CallSite}
	pb, ok := ai.class.Playbooks[env.Playbook]
	if !ok {
		reply.Err = "unknown playbook: " + env.Playbook
	} else {
		locals := make(map[string]any, len(pb.Params))
		for i, param := range pb.Params {
			if i < len(env.Args) {
				locals[param.Name] = env.Args[i]
			}
		}
		frame := state.NewFrame(pb.Name, locals)
		ai.state.Push(frame)
		val, err := p.runFrame(ctx, ai, frame)
		if err != nil {
			reply.Err = err.Error()
		} else {
			reply.Result = val.ToNative()
		}
	}

	replyBytes, err := json.Marshal(reply)
	if err != nil {
		slog.Warn("program: encoding call reply", "agent", ai.id.String(), "error", err)
		return
	}
	fromID, err := ids.ParseAgentID(env.FromAgent)
	if err != nil {
		slog.Warn("program: malformed call reply recipient", "agent", ai.id.String(), "error", err)
		return
	}
	caller, ok := p.AgentByID(fromID)
	if !ok {
		return
	}
	callerAI, ok := caller.(*AIAgent)
	if !ok {
		return
	}
	replyMsg, err := message.New(message.Params{
		SenderID: ai.id,
		Content:  callReplyPrefix + string(replyBytes),
		Type:     message.TypeSystem,
	})
	if err != nil {
		return
	}
	if err := callerAI.queue.Put(replyMsg, queue.PriorityControl); err != nil {
		slog.Warn("program: delivering call reply", "agent", ai.id.String(), "error", err)
	}
}

// runFrame drives frame to completion (or failure), running a fresh LLM
// completion per markdown turn, or the embedded-code body directly,
// feeding the result into the executor and resolving every suspension
// before the next turn (spec §4.7/§4.8). Returning a *recursive* Go call
// for same-agent calls is safe because exactly one frame is ever "active"
// per agent at a time (spec §5): the recursive call simply blocks this
// same goroutine on ai.queue a little deeper in the call stack, the same
// way a top-level suspension does.
func (p *Program) runFrame(ctx context.Context, ai *AIAgent, frame *state.CallStackFrame) (executor.Value, error) {
	pb, ok := ai.class.Playbooks[frame.PlaybookName]
	if !ok {
		return executor.Nil(), perr.New(perr.KindUnknownPlaybook, "program", "runFrame", frame.PlaybookName, nil)
	}

	env := executor.NewEnvironment(frame, ai.state, ai.tools)
	ex := executor.NewExecutor(ai.id, frame, ai.state, env, ai.tools, p.dispatcher)
	ex.Metrics = p.metrics
	ex.OnCheckpoint = func(ctx context.Context) error {
		_, err := p.checkpoints.SaveAgent(ctx, ai.id, ai.state, checkpoint.Metadata{LastDirective: "YLD"})
		return err
	}

	if pb.Kind == playbook.KindCode {
		return p.runCodeFrame(ctx, ai, ex, pb)
	}
	return p.runMarkdownFrame(ctx, ai, ex, pb)
}

// runCodeFrame feeds an embedded-code playbook's body in one shot — it is
// not an LLM completion, so there is no streaming source to re-poll. Since
// the body is appended with a trailing newline, every statement is always
// "complete" by Feed's line-splitting rule; a suspension's continuation
// re-enters Feed with an empty chunk, which re-splits whatever the
// suspension point left buffered rather than treating multiple remaining
// lines as one (Close's contract is "flush a single still-partial line",
// which does not apply here).
func (p *Program) runCodeFrame(ctx context.Context, ai *AIAgent, ex *executor.Executor, pb *playbook.Playbook) (executor.Value, error) {
	outcome, err := ex.Feed(ctx, pb.Body+"\n")
	if err != nil {
		return executor.Nil(), err
	}
	for {
		switch outcome.Status {
		case executor.StatusCompleted:
			return outcome.ReturnValue, nil
		case executor.StatusFailed:
			return executor.Nil(), outcome.Err
		case executor.StatusSuspended:
			if err := p.resolveSuspension(ctx, ai, ex, outcome.Suspension); err != nil {
				return executor.Nil(), err
			}
			if outcome, err = ex.Feed(ctx, ""); err != nil {
				return executor.Nil(), err
			}
		default:
			// Fell off the end of the body with no explicit RET: an
			// embedded-code playbook may end without a return statement.
			return executor.Nil(), nil
		}
	}
}

func (p *Program) runMarkdownFrame(ctx context.Context, ai *AIAgent, ex *executor.Executor, pb *playbook.Playbook) (executor.Value, error) {
	for {
		text := p.buildPrompt(ai, ex.Frame, pb)
		chunks, err := p.llmProvider.GenerateStreaming(ctx, p.modelFor(ai), text)
		if err != nil {
			return executor.Nil(), perr.New(perr.KindFatal, "program", "runMarkdownFrame", "llm generate", err)
		}

		var outcome *executor.Outcome
		for chunk := range chunks {
			if chunk.Err != nil {
				return executor.Nil(), chunk.Err
			}
			outcome, err = ex.Feed(ctx, chunk.Text)
			if err != nil {
				return executor.Nil(), err
			}
			if outcome.Status == executor.StatusSuspended || outcome.Status == executor.StatusCompleted || outcome.Status == executor.StatusFailed {
				break
			}
			if chunk.Done {
				break
			}
		}
		if outcome == nil || (outcome.Status != executor.StatusSuspended && outcome.Status != executor.StatusCompleted && outcome.Status != executor.StatusFailed) {
			outcome, err = ex.Close(ctx)
			if err != nil {
				return executor.Nil(), err
			}
		}

		switch outcome.Status {
		case executor.StatusCompleted:
			return outcome.ReturnValue, nil
		case executor.StatusFailed:
			return executor.Nil(), outcome.Err
		case executor.StatusSuspended:
			if err := p.resolveSuspension(ctx, ai, ex, outcome.Suspension); err != nil {
				return executor.Nil(), err
			}
			// loop: a fresh LLM turn is driven with the now-updated state
		default:
			return executor.Nil(), perr.New(perr.KindFatal, "program", "runMarkdownFrame", "unexpected non-terminal outcome", nil)
		}
	}
}

func (p *Program) modelFor(ai *AIAgent) string {
	if p.cfg != nil && p.cfg.Model != "" {
		return p.cfg.Model
	}
	return "default"
}

func (p *Program) buildPrompt(ai *AIAgent, frame *state.CallStackFrame, active *playbook.Playbook) string {
	in := prompt.Input{
		AgentID:    ai.id.String(),
		AgentKlass: ai.class.Name,
		Frame:      frame,
		StateVars:  copyStateVars(ai.state),
		SessionLog: ai.state.RecentLog(50),
		Active:     active,
		Own:        ai.class.Playbooks,
		Triggers:   ai.class.Triggers,
	}
	return prompt.Build(in)
}

func copyStateVars(st *state.ExecutionState) map[string]any {
	snap := st.Snapshot()
	return snap.StateVars
}

// resolveSuspension blocks on the external event a Suspension describes,
// then resumes the executor with the result (spec §4.8's suspension
// kinds, each mapped onto the queue primitive that already implements its
// wait semantics, C3).
func (p *Program) resolveSuspension(ctx context.Context, ai *AIAgent, ex *executor.Executor, s *executor.Suspension) error {
	switch s.Kind {
	case executor.SuspendUser:
		msg, err := ai.queue.Find(ctx, -1, func(m message.Message) bool { return m.Type() == message.TypeDirect })
		if err != nil {
			return err
		}
		ex.Resume(msg.Content())

	case executor.SuspendAgent:
		msg, err := ai.queue.Find(ctx, -1, func(m message.Message) bool { return m.SenderID().Equal(s.TargetAgent) })
		if err != nil {
			return err
		}
		ex.Resume(msg.Content())

	case executor.SuspendMeeting:
		return p.waitMeetingEvent(ctx, ai, ex)

	case executor.SuspendTimeout:
		msg, err := ai.queue.Find(ctx, time.Duration(s.TimeoutSeconds*float64(time.Second)), func(message.Message) bool { return true })
		if err != nil {
			if perr.Is(err, perr.KindTimeout) {
				ex.Resume(nil)
				return nil
			}
			return err
		}
		ex.Resume(msg.Content())

	case executor.SuspendCall:
		results, err := p.awaitCallSites(ctx, ai, s.CallSites)
		if err != nil {
			return err
		}
		ex.ResumeCall(results)

	default:
		return perr.New(perr.KindFatal, "program", "resolveSuspension", "unknown suspend kind: "+string(s.Kind), nil)
	}
	return nil
}

// waitMeetingEvent resolves a "YLD meeting" suspension. When the agent
// owns a currently open meeting that is not yet fully joined, it waits on
// that meeting's all-required-joined gate directly (safe: attendee Join
// calls mutate the Meeting's own mutex-guarded state from the attendee's
// OWN goroutine, never routed through the owner's queue, so the owner's
// goroutine blocking here never starves the event that would wake it).
// Otherwise it waits for the next meeting_broadcast on its own queue, as
// an attendee does.
func (p *Program) waitMeetingEvent(ctx context.Context, ai *AIAgent, ex *executor.Executor) error {
	if ai.state.CurrentMeeting != nil {
		if m, ok := p.meetings.Get(*ai.state.CurrentMeeting); ok && m.OwnerID().Equal(ai.id) {
			select {
			case <-m.WaitAllRequiredJoined():
				ex.Resume(nil)
				return nil
			case <-ctx.Done():
				return perr.New(perr.KindCancelled, "program", "waitMeetingEvent", "context done", ctx.Err())
			}
		}
	}
	msg, err := ai.queue.Find(ctx, -1, func(m message.Message) bool { return m.Type() == message.TypeMeetingBroad })
	if err != nil {
		return err
	}
	ex.Resume(msg.Content())
	return nil
}

// awaitCallSites waits for a call_reply Message for every outstanding
// call site (the "YLD call" barrier, spec §4.8), building the results map
// ResumeCall expects.
func (p *Program) awaitCallSites(ctx context.Context, ai *AIAgent, sites []string) (map[string]any, error) {
	results := make(map[string]any, len(sites))
	pending := map[string]bool{}
	for _, s := range sites {
		pending[s] = true
	}
	for len(pending) > 0 {
		msg, err := ai.queue.Find(ctx, -1, func(m message.Message) bool {
			return strings.HasPrefix(m.Content(), callReplyPrefix)
		})
		if err != nil {
			return nil, err
		}
		var reply replyEnvelope
		raw := strings.TrimPrefix(msg.Content(), callReplyPrefix)
		if jerr := json.Unmarshal([]byte(raw), &reply); jerr != nil {
			continue
		}
		if !pending[reply.CallSite] {
			continue // a reply for a call site this barrier isn't waiting on
		}
		if reply.Err != "" {
			results[reply.CallSite] = map[string]any{"error": reply.Err}
		} else {
			results[reply.CallSite] = reply.Result
		}
		delete(pending, reply.CallSite)
	}
	return results, nil
}
