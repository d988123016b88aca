package meeting

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/message"
	"github.com/playbooks-run/core/queue"
)

type fakeParticipant struct {
	id    ids.AgentID
	mu    sync.Mutex
	inbox []message.Message
}

func (f *fakeParticipant) AgentID() ids.AgentID { return f.id }
func (f *fakeParticipant) Enqueue(msg message.Message, priority queue.Priority) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, msg)
	return nil
}

func (f *fakeParticipant) received() []message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message.Message(nil), f.inbox...)
}

func mustAgent(t *testing.T, s string) ids.AgentID {
	t.Helper()
	id, err := ids.ParseAgentID(s)
	require.NoError(t, err)
	return id
}

func TestWaitAllRequiredJoinedClosesOnlyWhenCovered(t *testing.T) {
	owner := mustAgent(t, "host")
	alice := mustAgent(t, "alice")
	bob := mustAgent(t, "bob")

	meeting := New(ids.NewMeetingID("m1"), owner, "Standup", []ids.AgentID{alice, bob}, nil)

	select {
	case <-meeting.WaitAllRequiredJoined():
		t.Fatal("must not be closed before any attendee joins")
	default:
	}

	require.NoError(t, meeting.Join(alice, &fakeParticipant{id: alice}))

	select {
	case <-meeting.WaitAllRequiredJoined():
		t.Fatal("must not be closed until every required attendee has joined")
	default:
	}

	require.NoError(t, meeting.Join(bob, &fakeParticipant{id: bob}))

	select {
	case <-meeting.WaitAllRequiredJoined():
	case <-time.After(time.Second):
		t.Fatal("expected gate to close once all required attendees joined")
	}
}

func TestWaitAllRequiredJoinedReturnsImmediatelyWhenEmpty(t *testing.T) {
	owner := mustAgent(t, "host")

	meeting := New(ids.NewMeetingID("m1"), owner, "Standup", nil, nil)

	select {
	case <-meeting.WaitAllRequiredJoined():
	default:
		t.Fatal("gate must start closed when required_attendees is empty")
	}
}

func TestBroadcastDeliversInOrderToAllButSender(t *testing.T) {
	owner := mustAgent(t, "host")
	alice := mustAgent(t, "alice")
	bob := mustAgent(t, "bob")

	meeting := New(ids.NewMeetingID("m1"), owner, "Standup", []ids.AgentID{alice, bob}, nil)
	aliceP := &fakeParticipant{id: alice}
	bobP := &fakeParticipant{id: bob}
	require.NoError(t, meeting.Join(alice, aliceP))
	require.NoError(t, meeting.Join(bob, bobP))

	_, err := meeting.Broadcast("welcome", nil)
	require.NoError(t, err)
	_, err = meeting.Broadcast("status update", nil)
	require.NoError(t, err)

	require.Len(t, aliceP.received(), 2)
	require.Equal(t, "welcome", aliceP.received()[0].Content())
	require.Equal(t, "status update", aliceP.received()[1].Content())
	require.Len(t, bobP.received(), 2)
}

func TestBroadcastTargetsSpecificAttendees(t *testing.T) {
	owner := mustAgent(t, "host")
	alice := mustAgent(t, "alice")
	bob := mustAgent(t, "bob")

	meeting := New(ids.NewMeetingID("m1"), owner, "Standup", []ids.AgentID{alice, bob}, nil)
	aliceP := &fakeParticipant{id: alice}
	bobP := &fakeParticipant{id: bob}
	require.NoError(t, meeting.Join(alice, aliceP))
	require.NoError(t, meeting.Join(bob, bobP))

	_, err := meeting.Broadcast("Bob, update?", []ids.AgentID{bob})
	require.NoError(t, err)

	require.Empty(t, aliceP.received())
	require.Len(t, bobP.received(), 1)
}

func TestEndedMeetingRejectsJoinAndBroadcast(t *testing.T) {
	owner := mustAgent(t, "host")
	alice := mustAgent(t, "alice")

	meeting := New(ids.NewMeetingID("m1"), owner, "Standup", []ids.AgentID{alice}, nil)
	meeting.End()

	err := meeting.Join(alice, &fakeParticipant{id: alice})
	require.Error(t, err)

	_, err = meeting.Broadcast("too late", nil)
	require.Error(t, err)
}

func TestManagerCreateStartEnd(t *testing.T) {
	owner := mustAgent(t, "host")
	alice := mustAgent(t, "alice")

	mgr := NewManager(nil, nil)
	meeting, err := mgr.CreateMeeting(owner, "Standup", []ids.AgentID{alice}, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Start(meeting.ID()))

	got, ok := mgr.Get(meeting.ID())
	require.True(t, ok)
	require.Equal(t, meeting.ID(), got.ID())

	mgr.End(meeting.ID())
	_, ok = mgr.Get(meeting.ID())
	require.False(t, ok)
	require.True(t, meeting.Ended())
}
