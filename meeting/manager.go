package meeting

import (
	"sync"

	"github.com/google/uuid"

	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/message"
	"github.com/playbooks-run/core/metrics"
	"github.com/playbooks-run/core/perr"
)

// InviteSender delivers a meeting_invite Message to a prospective
// attendee (implemented by the program package's routing, spec §4.9:
// "start(meeting_id) sends invites").
type InviteSender interface {
	SendInvite(recipient ids.AgentID, msg message.Message) error
}

// Manager owns the set of live meetings for one program instance (spec
// §4.9 C9), generalizing team.Team's single embedded SharedState
// (team/team.go) into a registry of many independently governed
// Meetings.
type Manager struct {
	mu       sync.RWMutex
	meetings map[string]*Meeting
	invites  InviteSender
	metrics  *metrics.Metrics
}

// NewManager creates an empty meeting manager. invites may be nil in
// tests that exercise Join/Broadcast/End directly without a routing
// layer. m may be nil (metrics disabled).
func NewManager(invites InviteSender, m *metrics.Metrics) *Manager {
	return &Manager{meetings: make(map[string]*Meeting), invites: invites, metrics: m}
}

// CreateMeeting allocates a new Meeting with a fresh id (spec §4.9
// "create_meeting(playbook, required, optional) -> MeetingID").
func (m *Manager) CreateMeeting(ownerID ids.AgentID, playbook string, required, optional []ids.AgentID) (*Meeting, error) {
	id := ids.NewMeetingID(uuid.NewString())
	meeting := New(id, ownerID, playbook, required, optional)

	m.mu.Lock()
	m.meetings[id.String()] = meeting
	n := len(m.meetings)
	m.mu.Unlock()

	m.metrics.SetMeetingsActive(n)
	return meeting, nil
}

// Get looks up a live meeting by id.
func (m *Manager) Get(id ids.MeetingID) (*Meeting, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meeting, ok := m.meetings[id.String()]
	return meeting, ok
}

// Start sends a meeting_invite to every required and optional attendee
// (spec §4.9 "start(meeting_id) sends invites").
func (m *Manager) Start(id ids.MeetingID) error {
	meeting, ok := m.Get(id)
	if !ok {
		return perr.New(perr.KindUnknownAgent, "meeting", "Start", "no such meeting: "+id.String(), nil)
	}
	if m.invites == nil {
		return nil
	}
	attendees := append(meeting.RequiredAttendees(), meeting.OptionalAttendees()...)
	for _, attendee := range attendees {
		msg, err := message.New(message.Params{
			SenderID:  meeting.OwnerID(),
			MeetingID: &meeting.id,
			Type:      message.TypeMeetingInvite,
			Content:   meeting.Playbook(),
		})
		if err != nil {
			return err
		}
		if err := m.invites.SendInvite(attendee, msg); err != nil {
			return err
		}
	}
	return nil
}

// End closes a meeting and removes it from the live registry.
func (m *Manager) End(id ids.MeetingID) {
	m.mu.Lock()
	meeting, ok := m.meetings[id.String()]
	if ok {
		delete(m.meetings, id.String())
	}
	n := len(m.meetings)
	m.mu.Unlock()
	if ok {
		meeting.End()
		m.metrics.SetMeetingsActive(n)
	}
}

// All returns a snapshot of currently live meetings.
func (m *Manager) All() []*Meeting {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Meeting, 0, len(m.meetings))
	for _, meeting := range m.meetings {
		out = append(out, meeting)
	}
	return out
}
