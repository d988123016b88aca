// Package ids provides the typed identifiers of the playbooks runtime:
// AgentID, MeetingID, and the EntityID sum type, with parse-once-at-boundary
// semantics (spec §3, C1). Internal APIs take these types only; raw strings
// are parsed exactly once, at the edge of the system.
package ids

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/playbooks-run/core/perr"
)

// AgentID is the canonical identifier for an Agent.
type AgentID struct{ id string }

// MeetingID is the canonical identifier for a Meeting.
type MeetingID struct{ id string }

const humanID = "human"

// NewAgentID wraps a raw, already-known-good id (e.g. one freshly generated)
// without going through Parse.
func NewAgentID(id string) AgentID { return AgentID{id: id} }

// NewMeetingID wraps a raw, already-known-good id.
func NewMeetingID(id string) MeetingID { return MeetingID{id: id} }

// Human is the canonical AgentID for the human participant alias.
func Human() AgentID { return AgentID{id: humanID} }

func (a AgentID) String() string   { return a.id }
func (a AgentID) Render() string   { return "agent " + a.id }
func (a AgentID) IsZero() bool     { return a.id == "" }
func (a AgentID) Equal(o AgentID) bool { return a.id == o.id }

func (m MeetingID) String() string     { return m.id }
func (m MeetingID) Render() string     { return "meeting " + m.id }
func (m MeetingID) IsZero() bool       { return m.id == "" }
func (m MeetingID) Equal(o MeetingID) bool { return m.id == o.id }

// MarshalJSON renders an AgentID as its bare id string, so checkpoint
// records (C11) serialize it like any other string field.
func (a AgentID) MarshalJSON() ([]byte, error) { return json.Marshal(a.id) }

// UnmarshalJSON restores an AgentID from its bare id string.
func (a *AgentID) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &a.id)
}

// MarshalJSON renders a MeetingID as its bare id string.
func (m MeetingID) MarshalJSON() ([]byte, error) { return json.Marshal(m.id) }

// UnmarshalJSON restores a MeetingID from its bare id string.
func (m *MeetingID) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &m.id)
}

// EntityID is the sum type {AgentID, MeetingID} (spec §3).
type EntityID struct {
	agent     AgentID
	meeting   MeetingID
	isMeeting bool
}

// EntityFromAgent wraps an AgentID as an EntityID.
func EntityFromAgent(a AgentID) EntityID { return EntityID{agent: a} }

// EntityFromMeeting wraps a MeetingID as an EntityID.
func EntityFromMeeting(m MeetingID) EntityID { return EntityID{meeting: m, isMeeting: true} }

// IsMeeting reports whether the entity wraps a MeetingID.
func (e EntityID) IsMeeting() bool { return e.isMeeting }

// AsAgent returns the wrapped AgentID and whether the entity is an agent.
func (e EntityID) AsAgent() (AgentID, bool) { return e.agent, !e.isMeeting }

// AsMeeting returns the wrapped MeetingID and whether the entity is a meeting.
func (e EntityID) AsMeeting() (MeetingID, bool) { return e.meeting, e.isMeeting }

func (e EntityID) String() string {
	if e.isMeeting {
		return e.meeting.String()
	}
	return e.agent.String()
}

func (e EntityID) Render() string {
	if e.isMeeting {
		return e.meeting.Render()
	}
	return e.agent.Render()
}

func (e EntityID) Equal(o EntityID) bool {
	if e.isMeeting != o.isMeeting {
		return false
	}
	if e.isMeeting {
		return e.meeting.Equal(o.meeting)
	}
	return e.agent.Equal(o.agent)
}

// aliases map informal human references to the canonical human AgentID.
var aliases = map[string]string{
	"human": humanID,
	"user":  humanID,
}

// ParseAgentID parses a spec of the form "agent X", a bare id, or a human
// alias ("human", "user") into an AgentID. Leading/trailing whitespace is
// tolerated. Fails with KindMalformedSpec when spec is empty.
func ParseAgentID(spec string) (AgentID, error) {
	trimmed := strings.TrimSpace(spec)
	if trimmed == "" {
		return AgentID{}, perr.New(perr.KindMalformedSpec, "ids", "ParseAgentID", "empty agent spec", nil)
	}
	rest := trimmed
	if after, ok := cutPrefixFold(trimmed, "agent "); ok {
		rest = strings.TrimSpace(after)
	}
	if rest == "" {
		return AgentID{}, perr.New(perr.KindMalformedSpec, "ids", "ParseAgentID", fmt.Sprintf("empty agent id in spec %q", spec), nil)
	}
	if canonical, ok := aliases[strings.ToLower(rest)]; ok {
		rest = canonical
	}
	return AgentID{id: rest}, nil
}

// ParseMeetingID parses a spec of the form "meeting X" or a bare id into a
// MeetingID. Fails with KindMalformedSpec when spec is empty.
func ParseMeetingID(spec string) (MeetingID, error) {
	trimmed := strings.TrimSpace(spec)
	if trimmed == "" {
		return MeetingID{}, perr.New(perr.KindMalformedSpec, "ids", "ParseMeetingID", "empty meeting spec", nil)
	}
	rest := trimmed
	if after, ok := cutPrefixFold(trimmed, "meeting "); ok {
		rest = strings.TrimSpace(after)
	}
	if rest == "" {
		return MeetingID{}, perr.New(perr.KindMalformedSpec, "ids", "ParseMeetingID", "empty meeting id in spec", nil)
	}
	return MeetingID{id: rest}, nil
}

// ParseEntityID parses "agent X", "meeting X", a bare id (interpreted as an
// agent), or a human alias into an EntityID.
func ParseEntityID(spec string) (EntityID, error) {
	trimmed := strings.TrimSpace(spec)
	if trimmed == "" {
		return EntityID{}, perr.New(perr.KindMalformedSpec, "ids", "ParseEntityID", "empty entity spec", nil)
	}
	if _, ok := cutPrefixFold(trimmed, "meeting "); ok {
		m, err := ParseMeetingID(trimmed)
		if err != nil {
			return EntityID{}, err
		}
		return EntityFromMeeting(m), nil
	}
	a, err := ParseAgentID(trimmed)
	if err != nil {
		return EntityID{}, err
	}
	return EntityFromAgent(a), nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}
