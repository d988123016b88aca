// Package message defines the immutable Message record routed between
// agents (spec §3, C1).
package message

import (
	"time"

	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/perr"
)

var errMeetingIDRequired = perr.New(perr.KindMalformedSpec, "message", "New",
	"meeting_id is required for meeting_* message types", nil)

// Type enumerates the kinds of Message (spec §3).
type Type string

const (
	TypeDirect         Type = "direct"
	TypeMeetingBroad   Type = "meeting_broadcast"
	TypeMeetingInvite  Type = "meeting_invite"
	TypeMeetingJoin    Type = "meeting_join"
	TypeMeetingLeave   Type = "meeting_leave"
	TypeSystem         Type = "system"
)

func (t Type) IsMeeting() bool {
	switch t {
	case TypeMeetingBroad, TypeMeetingInvite, TypeMeetingJoin, TypeMeetingLeave:
		return true
	default:
		return false
	}
}

// Message is an immutable value record. Construct with New; all fields are
// read through accessors so a Message can be freely shared across
// goroutines without synchronization.
type Message struct {
	senderID        ids.AgentID
	senderKlass     string
	recipientID     *ids.EntityID
	recipientKlass  string
	meetingID       *ids.MeetingID
	targetAgentIDs  map[ids.AgentID]struct{}
	content         string
	messageType     Type
	streamID        string
	createdAt       time.Time
}

// Params collects the New() constructor arguments.
type Params struct {
	SenderID       ids.AgentID
	SenderKlass    string
	RecipientID    *ids.EntityID
	RecipientKlass string
	MeetingID      *ids.MeetingID
	TargetAgentIDs []ids.AgentID
	Content        string
	Type           Type
	StreamID       string
}

// New builds an immutable Message, enforcing the meeting_id invariant:
// message_type is meeting_* implies meeting_id is set.
func New(p Params) (Message, error) {
	if p.Type.IsMeeting() && p.MeetingID == nil {
		return Message{}, errMeetingIDRequired
	}
	targets := make(map[ids.AgentID]struct{}, len(p.TargetAgentIDs))
	for _, id := range p.TargetAgentIDs {
		targets[id] = struct{}{}
	}
	return Message{
		senderID:       p.SenderID,
		senderKlass:    p.SenderKlass,
		recipientID:    p.RecipientID,
		recipientKlass: p.RecipientKlass,
		meetingID:      p.MeetingID,
		targetAgentIDs: targets,
		content:        p.Content,
		messageType:    p.Type,
		streamID:       p.StreamID,
		createdAt:      time.Now(),
	}, nil
}

func (m Message) SenderID() ids.AgentID         { return m.senderID }
func (m Message) SenderKlass() string           { return m.senderKlass }
func (m Message) Content() string               { return m.content }
func (m Message) Type() Type                    { return m.messageType }
func (m Message) StreamID() string              { return m.streamID }
func (m Message) CreatedAt() time.Time          { return m.createdAt }

func (m Message) RecipientID() (ids.EntityID, bool) {
	if m.recipientID == nil {
		return ids.EntityID{}, false
	}
	return *m.recipientID, true
}

func (m Message) RecipientKlass() string { return m.recipientKlass }

func (m Message) MeetingID() (ids.MeetingID, bool) {
	if m.meetingID == nil {
		return ids.MeetingID{}, false
	}
	return *m.meetingID, true
}

// TargetsAgent reports whether id is in the message's target_agent_ids set
// (meeting-wide messages directed at specific attendees). An empty target
// set means "all attendees".
func (m Message) TargetsAgent(id ids.AgentID) bool {
	if len(m.targetAgentIDs) == 0 {
		return true
	}
	_, ok := m.targetAgentIDs[id]
	return ok
}

// TargetAgentIDs returns a copy of the target agent id set.
func (m Message) TargetAgentIDs() []ids.AgentID {
	out := make([]ids.AgentID, 0, len(m.targetAgentIDs))
	for id := range m.targetAgentIDs {
		out = append(out, id)
	}
	return out
}
