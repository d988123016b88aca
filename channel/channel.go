// Package channel implements direct (pair) and meeting channels, the single
// delivery path and filtering authority for a set of participants (spec
// §4.4, C4).
package channel

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/message"
	"github.com/playbooks-run/core/queue"
)

// Participant is a delivery adapter that routes a Message to a concrete
// agent's intake. Implementations live in the program package, which knows
// how to reach an AI, Human, or Remote agent.
type Participant interface {
	AgentID() ids.AgentID
	Enqueue(msg message.Message, priority queue.Priority) error
}

// HumanParticipant is a Participant backed by a human with delivery
// preferences (spec §3 DeliveryPreferences).
type HumanParticipant interface {
	Participant
	StreamingEnabled() bool
}

// Observer receives stream lifecycle events, optionally filtered to one
// human recipient.
type Observer interface {
	// TargetHumanID returns the human this observer is scoped to, and
	// whether a scope is set at all (false = receives every event).
	TargetHumanID() (ids.AgentID, bool)
	OnStreamStart(StreamStart)
	OnStreamChunk(StreamChunk)
	OnStreamComplete(StreamComplete)
}

// StreamStart/StreamChunk/StreamComplete are the events observers receive
// (spec §6 "Stream events to observers").
type StreamStart struct {
	StreamID      string
	SenderID      ids.AgentID
	SenderKlass   string
	RecipientID   *ids.AgentID
	MeetingID     *ids.MeetingID
}

type StreamChunk struct {
	StreamID    string
	Chunk       string
	ChunkIndex  int
	RecipientID *ids.AgentID
	MeetingID   *ids.MeetingID
	IsFinal     bool
}

type StreamComplete struct {
	StreamID    string
	RecipientID *ids.AgentID
	MeetingID   *ids.MeetingID
	Cancelled   bool
}

// StreamResult is returned by StartStream: whether a stream was opened and,
// if so, its id.
type StreamResult struct {
	ShouldStream bool
	StreamID     string
}

// Skip signals "do not stream, deliver as a single final unit".
func Skip() StreamResult { return StreamResult{} }

// Start signals an opened stream with the given id.
func Start(streamID string) StreamResult {
	return StreamResult{ShouldStream: true, StreamID: streamID}
}

// DirectChannelID derives the deterministic, symmetric id of the channel
// between two agents.
func DirectChannelID(a, b ids.AgentID) string {
	ids := []string{a.String(), b.String()}
	sort.Strings(ids)
	return "direct:" + strings.Join(ids, "|")
}

// MeetingChannelID derives the deterministic id of a meeting's channel.
func MeetingChannelID(m ids.MeetingID) string {
	return "meeting:" + m.String()
}

// Channel owns a participant set and the stream observers registered on it.
type Channel struct {
	mu           sync.RWMutex
	id           string
	participants map[ids.AgentID]Participant
	observers    []Observer
	nextChunkIdx map[string]int
}

// New creates an empty channel with the given id.
func New(id string) *Channel {
	return &Channel{
		id:           id,
		participants: make(map[ids.AgentID]Participant),
		nextChunkIdx: make(map[string]int),
	}
}

func (c *Channel) ID() string { return c.id }

// AddParticipant registers a participant on the channel (idempotent).
func (c *Channel) AddParticipant(p Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.participants[p.AgentID()] = p
}

// RemoveParticipant drops a participant from the channel.
func (c *Channel) RemoveParticipant(id ids.AgentID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.participants, id)
}

// Participants returns a snapshot of the current participant set.
func (c *Channel) Participants() []Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Participant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, p)
	}
	return out
}

// AddObserver registers a stream observer on the channel.
func (c *Channel) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Deliver enqueues msg into every participant's intake other than the
// sender, with priority derived from the message type.
func (c *Channel) Deliver(msg message.Message) []error {
	priority := queue.PriorityFor(msg.Type())
	c.mu.RLock()
	targets := make([]Participant, 0, len(c.participants))
	for id, p := range c.participants {
		if id.Equal(msg.SenderID()) {
			continue
		}
		if msg.Type().IsMeeting() && !msg.TargetsAgent(id) {
			continue
		}
		targets = append(targets, p)
	}
	c.mu.RUnlock()

	var errs []error
	for _, p := range targets {
		if err := p.Enqueue(msg, priority); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// StartStream allocates a stream if at least one human participant with
// streaming enabled matches the recipient predicate (recipientID == nil
// matches any human; otherwise only that human). Notifies observers scoped
// to recipientID or to "all".
func (c *Channel) StartStream(senderID ids.AgentID, recipientID *ids.AgentID, meetingID *ids.MeetingID) StreamResult {
	if !c.hasMatchingHuman(senderID, recipientID) {
		return Skip()
	}
	streamID := uuid.NewString()
	c.notify(func(o Observer) {
		o.OnStreamStart(StreamStart{
			StreamID:    streamID,
			SenderID:    senderID,
			RecipientID: recipientID,
			MeetingID:   meetingID,
		})
	}, recipientID)
	return Start(streamID)
}

func (c *Channel) hasMatchingHuman(senderID ids.AgentID, recipientID *ids.AgentID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, p := range c.participants {
		if id.Equal(senderID) {
			continue
		}
		hp, ok := p.(HumanParticipant)
		if !ok || !hp.StreamingEnabled() {
			continue
		}
		if recipientID != nil && !id.Equal(*recipientID) {
			continue
		}
		return true
	}
	return false
}

// StreamChunk notifies filtered observers of one chunk of an open stream.
func (c *Channel) StreamChunk(streamID, chunk string, recipientID *ids.AgentID, meetingID *ids.MeetingID) {
	c.mu.Lock()
	idx := c.nextChunkIdx[streamID]
	c.nextChunkIdx[streamID] = idx + 1
	c.mu.Unlock()

	c.notify(func(o Observer) {
		o.OnStreamChunk(StreamChunk{
			StreamID:    streamID,
			Chunk:       chunk,
			ChunkIndex:  idx,
			RecipientID: recipientID,
			MeetingID:   meetingID,
		})
	}, recipientID)
}

// CompleteStream notifies filtered observers that a stream has ended.
func (c *Channel) CompleteStream(streamID string, recipientID *ids.AgentID, meetingID *ids.MeetingID, cancelled bool) {
	c.mu.Lock()
	delete(c.nextChunkIdx, streamID)
	c.mu.Unlock()

	c.notify(func(o Observer) {
		o.OnStreamComplete(StreamComplete{
			StreamID:    streamID,
			RecipientID: recipientID,
			MeetingID:   meetingID,
			Cancelled:   cancelled,
		})
	}, recipientID)
}

// notify delivers to every observer for which target_human_id is None or
// the event's recipient_id is None or equals target_human_id (spec §4.4
// observer filter policy): a scoped observer still sees a broadcast/
// all-attendees event (recipientID == nil), just not another human's
// direct stream.
func (c *Channel) notify(emit func(Observer), recipientID *ids.AgentID) {
	c.mu.RLock()
	observers := append([]Observer(nil), c.observers...)
	c.mu.RUnlock()

	for _, o := range observers {
		target, scoped := o.TargetHumanID()
		if !scoped {
			emit(o)
			continue
		}
		if recipientID == nil || target.Equal(*recipientID) {
			emit(o)
		}
	}
}
