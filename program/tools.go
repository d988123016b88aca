package program

import (
	"context"

	"github.com/playbooks-run/core/executor"
	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/message"
	"github.com/playbooks-run/core/perr"
)

// registerTools wires the native tools every AI agent's embedded-code
// playbooks can EXT-call (spec §4.9's meeting lifecycle plus direct
// messaging): Say, create_meeting, start_meeting, wait_all_required_joined,
// broadcast, end_meeting, join_meeting. Each is plain Go executed on the
// calling agent's own goroutine — no queue hop, no awaitable callSite —
// except wait_all_required_joined, which blocks that same goroutine on the
// Meeting's own gate (meeting/meeting.go) rather than the agent's queue,
// which is what makes blocking here safe (see loop.go's waitMeetingEvent).
func (p *Program) registerTools(ai *AIAgent) {
	ai.tools.RegisterNative("Say", func(ctx context.Context, args []executor.Value) (executor.Value, error) {
		if len(args) < 2 {
			return executor.Nil(), perr.New(perr.KindToolError, "program", "Say", "want (recipient, content)", nil)
		}
		recipient, err := ids.ParseAgentID(args[0].Str)
		if err != nil {
			return executor.Nil(), err
		}
		err = p.RouteMessage(ai.id, ids.EntityFromAgent(recipient), args[1].Str, message.TypeDirect, nil, "")
		return executor.Nil(), err
	})

	ai.tools.RegisterNative("create_meeting", func(ctx context.Context, args []executor.Value) (executor.Value, error) {
		if len(args) < 2 {
			return executor.Nil(), perr.New(perr.KindToolError, "program", "create_meeting", "want (playbook, required, optional?)", nil)
		}
		required, err := agentIDsFromValue(args[1])
		if err != nil {
			return executor.Nil(), err
		}
		var optional []ids.AgentID
		if len(args) > 2 {
			if optional, err = agentIDsFromValue(args[2]); err != nil {
				return executor.Nil(), err
			}
		}
		m, err := p.meetings.CreateMeeting(ai.id, args[0].Str, required, optional)
		if err != nil {
			return executor.Nil(), err
		}
		mid := m.ID()
		ai.state.SetCurrentMeeting(&mid)
		return executor.Str(mid.String()), nil
	})

	ai.tools.RegisterNative("start_meeting", func(ctx context.Context, args []executor.Value) (executor.Value, error) {
		id, err := meetingIDFromArgs(args, ai)
		if err != nil {
			return executor.Nil(), err
		}
		return executor.Nil(), p.meetings.Start(id)
	})

	ai.tools.RegisterNative("wait_all_required_joined", func(ctx context.Context, args []executor.Value) (executor.Value, error) {
		id, err := meetingIDFromArgs(args, ai)
		if err != nil {
			return executor.Nil(), err
		}
		m, ok := p.meetings.Get(id)
		if !ok {
			return executor.Nil(), perr.New(perr.KindUnknownAgent, "program", "wait_all_required_joined", "no such meeting: "+id.String(), nil)
		}
		select {
		case <-m.WaitAllRequiredJoined():
			return executor.Bool(true), nil
		case <-ctx.Done():
			return executor.Nil(), perr.New(perr.KindCancelled, "program", "wait_all_required_joined", "context done", ctx.Err())
		}
	})

	ai.tools.RegisterNative("broadcast", func(ctx context.Context, args []executor.Value) (executor.Value, error) {
		if len(args) < 1 {
			return executor.Nil(), perr.New(perr.KindToolError, "program", "broadcast", "want (content)", nil)
		}
		id, err := meetingIDFromArgs(nil, ai)
		if err != nil {
			return executor.Nil(), err
		}
		m, ok := p.meetings.Get(id)
		if !ok {
			return executor.Nil(), perr.New(perr.KindUnknownAgent, "program", "broadcast", "no such meeting: "+id.String(), nil)
		}
		errs, err := m.Broadcast(args[0].Str, nil)
		if err != nil {
			return executor.Nil(), err
		}
		return executor.Nil(), firstErr(errs)
	})

	ai.tools.RegisterNative("end_meeting", func(ctx context.Context, args []executor.Value) (executor.Value, error) {
		id, err := meetingIDFromArgs(args, ai)
		if err != nil {
			return executor.Nil(), err
		}
		p.meetings.End(id)
		ai.state.SetCurrentMeeting(nil)
		return executor.Nil(), nil
	})

	ai.tools.RegisterNative("join_meeting", func(ctx context.Context, args []executor.Value) (executor.Value, error) {
		id, err := meetingIDFromArgs(args, ai)
		if err != nil {
			return executor.Nil(), err
		}
		m, ok := p.meetings.Get(id)
		if !ok {
			return executor.Nil(), perr.New(perr.KindUnknownAgent, "program", "join_meeting", "no such meeting: "+id.String(), nil)
		}
		if err := m.Join(ai.id, ai); err != nil {
			return executor.Nil(), err
		}
		ai.state.SetCurrentMeeting(&id)
		return executor.Nil(), nil
	})
}

// meetingIDFromArgs takes an explicit "meeting X" argument if one was
// supplied, otherwise falls back to the agent's own CurrentMeeting (the
// common case: a playbook already inside a meeting context calling
// broadcast/end_meeting/wait_all_required_joined without repeating the id).
func meetingIDFromArgs(args []executor.Value, ai *AIAgent) (ids.MeetingID, error) {
	if len(args) > 0 && args[0].Kind == executor.KindString && args[0].Str != "" {
		return ids.ParseMeetingID(args[0].Str)
	}
	if ai.state.CurrentMeeting != nil {
		return *ai.state.CurrentMeeting, nil
	}
	return ids.MeetingID{}, perr.New(perr.KindToolError, "program", "meetingIDFromArgs", "no meeting_id argument and agent is not in a meeting", nil)
}

// agentIDsFromValue converts a sequence Value of agent-id strings into
// []ids.AgentID (create_meeting's required/optional attendee lists).
func agentIDsFromValue(v executor.Value) ([]ids.AgentID, error) {
	if v.Kind != executor.KindSequence {
		return nil, nil
	}
	out := make([]ids.AgentID, 0, len(v.Seq))
	for _, e := range v.Seq {
		id, err := ids.ParseAgentID(e.Str)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
