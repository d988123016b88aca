// Package meeting implements the owner-governed, multi-party meeting
// lifecycle (spec §4.9, C9): creation, invites, attendee join tracking,
// ordered broadcast, and closing. Grounded on team.SharedState's
// mutex-guarded, history-tracked state idiom (team/team.go), adapted from
// a single shared blob to a per-meeting registry of join/broadcast
// events, and on team.TeamError for the component-tagged error pattern
// (generalized here to perr.Error).
package meeting

import (
	"sync"

	"github.com/playbooks-run/core/channel"
	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/message"
	"github.com/playbooks-run/core/perr"
)

// Meeting is a named multi-party channel with an owner-governed lifecycle
// and attendee list (spec §3 Meeting, §4.9).
type Meeting struct {
	mu                sync.RWMutex
	id                ids.MeetingID
	ownerID           ids.AgentID
	playbook          string
	required          []ids.AgentID
	optional          []ids.AgentID
	joined            map[ids.AgentID]struct{}
	ended             bool
	allRequiredJoined chan struct{}
	allRequiredOnce   sync.Once
	channel           *channel.Channel
	seq               int
}

// New creates a Meeting in the "invited, nobody joined yet" state. The
// caller is responsible for registering it and its Channel with the
// program-level registries.
func New(id ids.MeetingID, ownerID ids.AgentID, playbook string, required, optional []ids.AgentID) *Meeting {
	m := &Meeting{
		id:                id,
		ownerID:           ownerID,
		playbook:          playbook,
		required:          append([]ids.AgentID(nil), required...),
		optional:          append([]ids.AgentID(nil), optional...),
		joined:            make(map[ids.AgentID]struct{}),
		allRequiredJoined: make(chan struct{}),
		channel:           channel.New(channel.MeetingChannelID(id)),
	}
	// Empty required_attendees means there is nothing to wait on — the
	// gate must start closed, not wait for a Join that will never come
	// (spec §8: "Empty required_attendees → wait_all_required_joined
	// returns immediately").
	if len(required) == 0 {
		m.allRequiredOnce.Do(func() { close(m.allRequiredJoined) })
	}
	return m
}

func (m *Meeting) ID() ids.MeetingID      { return m.id }
func (m *Meeting) OwnerID() ids.AgentID   { return m.ownerID }
func (m *Meeting) Playbook() string       { return m.playbook }
func (m *Meeting) Channel() *channel.Channel { return m.channel }

// RequiredAttendees returns a copy of the required attendee list.
func (m *Meeting) RequiredAttendees() []ids.AgentID {
	return append([]ids.AgentID(nil), m.required...)
}

// OptionalAttendees returns a copy of the optional attendee list.
func (m *Meeting) OptionalAttendees() []ids.AgentID {
	return append([]ids.AgentID(nil), m.optional...)
}

// Ended reports whether the meeting has been closed.
func (m *Meeting) Ended() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ended
}

// Join registers an attendee's join (spec §4.9 attendee side:
// "joining is a message meeting_join back to owner and registration on
// the meeting channel"). Closes the all-required-joined gate once every
// required attendee has joined. Joining an ended meeting fails with
// MeetingClosed.
func (m *Meeting) Join(attendee ids.AgentID, participant channel.Participant) error {
	m.mu.Lock()
	if m.ended {
		m.mu.Unlock()
		return perr.New(perr.KindMeetingClosed, "meeting", "Join", m.id.String(), nil)
	}
	m.joined[attendee] = struct{}{}
	allJoined := m.allRequiredJoined0()
	m.mu.Unlock()

	m.channel.AddParticipant(participant)
	if allJoined {
		m.allRequiredOnce.Do(func() { close(m.allRequiredJoined) })
	}
	return nil
}

// allRequiredJoined0 reports whether the joined set covers every required
// attendee. Caller must hold m.mu.
func (m *Meeting) allRequiredJoined0() bool {
	for _, r := range m.required {
		if _, ok := m.joined[r]; !ok {
			return false
		}
	}
	return true
}

// JoinedAttendees returns a snapshot of the agents who have joined.
func (m *Meeting) JoinedAttendees() []ids.AgentID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ids.AgentID, 0, len(m.joined))
	for id := range m.joined {
		out = append(out, id)
	}
	return out
}

// WaitAllRequiredJoined returns a channel that closes once every required
// attendee has joined (spec §4.9: "suspends on an event that is set when
// the joined set covers required"). The caller (the executor's YLD
// handling, via the program scheduler) selects on this alongside a
// timeout/cancellation.
func (m *Meeting) WaitAllRequiredJoined() <-chan struct{} {
	return m.allRequiredJoined
}

// Broadcast builds and delivers a meeting_broadcast Message in the
// owner's emission order (spec §4.9 Ordering: "broadcasts are delivered
// in owner's emission order; attendees observe a consistent total order
// per meeting" — guaranteed here by serializing every Broadcast call
// under m.mu before handing off to Channel.Deliver).
func (m *Meeting) Broadcast(content string, targetIDs []ids.AgentID) ([]error, error) {
	m.mu.Lock()
	if m.ended {
		m.mu.Unlock()
		return nil, perr.New(perr.KindMeetingClosed, "meeting", "Broadcast", m.id.String(), nil)
	}
	m.seq++
	m.mu.Unlock()

	msg, err := message.New(message.Params{
		SenderID:       m.ownerID,
		RecipientID:    entityPtr(ids.EntityFromMeeting(m.id)),
		MeetingID:      &m.id,
		TargetAgentIDs: targetIDs,
		Content:        content,
		Type:           message.TypeMeetingBroad,
	})
	if err != nil {
		return nil, err
	}
	return m.channel.Deliver(msg), nil
}

// End closes the meeting: subsequent Join/Broadcast calls fail with
// MeetingClosed, and any pending WaitForMessage("meeting ...") wait on
// this meeting's channel must be failed by the caller with the same kind
// (spec §4.9 Cancellation).
func (m *Meeting) End() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = true
}

func entityPtr(e ids.EntityID) *ids.EntityID { return &e }
