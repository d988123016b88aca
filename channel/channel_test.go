package channel

import (
	"sync"
	"testing"

	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/message"
	"github.com/playbooks-run/core/queue"
	"github.com/stretchr/testify/require"
)

type fakeParticipant struct {
	id       ids.AgentID
	q        *queue.Queue
	human    bool
	stream   bool
}

func (f *fakeParticipant) AgentID() ids.AgentID { return f.id }
func (f *fakeParticipant) Enqueue(msg message.Message, p queue.Priority) error {
	return f.q.Put(msg, p)
}
func (f *fakeParticipant) StreamingEnabled() bool { return f.stream }

type fakeObserver struct {
	humanID *ids.AgentID
	chunks  []StreamChunk
	mu      sync.Mutex
}

func (o *fakeObserver) TargetHumanID() (ids.AgentID, bool) {
	if o.humanID == nil {
		return ids.AgentID{}, false
	}
	return *o.humanID, true
}
func (o *fakeObserver) OnStreamStart(StreamStart) {}
func (o *fakeObserver) OnStreamChunk(c StreamChunk) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chunks = append(o.chunks, c)
}
func (o *fakeObserver) OnStreamComplete(StreamComplete) {}

func TestAtomicChannelCreation(t *testing.T) {
	reg := NewRegistry()
	id := DirectChannelID(ids.NewAgentID("a1"), ids.NewAgentID("a2"))

	var wg sync.WaitGroup
	results := make([]*Channel, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = reg.GetOrCreate(id)
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		require.Same(t, results[0], results[i])
	}
}

func TestDirectChannelIDSymmetric(t *testing.T) {
	a := ids.NewAgentID("a1")
	b := ids.NewAgentID("a2")
	require.Equal(t, DirectChannelID(a, b), DirectChannelID(b, a))
}

func TestStartStreamSkipsWithoutHuman(t *testing.T) {
	ch := New("c1")
	ai := &fakeParticipant{id: ids.NewAgentID("ai"), q: queue.New()}
	ch.AddParticipant(ai)

	result := ch.StartStream(ids.NewAgentID("ai"), nil, nil)
	require.False(t, result.ShouldStream)
}

func TestMeetingTargetedStreaming(t *testing.T) {
	ch := New("meeting1")
	alice := ids.NewAgentID("alice")
	bob := ids.NewAgentID("bob")
	host := ids.NewAgentID("host")

	ch.AddParticipant(&fakeParticipant{id: alice, q: queue.New(), human: true, stream: true})
	ch.AddParticipant(&fakeParticipant{id: bob, q: queue.New(), human: true, stream: true})
	ch.AddParticipant(&fakeParticipant{id: host, q: queue.New()})

	aliceObs := &fakeObserver{humanID: &alice}
	bobObs := &fakeObserver{humanID: &bob}
	ch.AddObserver(aliceObs)
	ch.AddObserver(bobObs)

	// Broadcast to everyone: recipientID nil -> reaches every observer,
	// scoped ones included.
	welcome := ch.StartStream(host, nil, nil)
	require.True(t, welcome.ShouldStream)
	ch.StreamChunk(welcome.StreamID, "Welcome", nil, nil)

	// Targeted at Bob specifically.
	targeted := ch.StartStream(host, &bob, nil)
	require.True(t, targeted.ShouldStream)
	ch.StreamChunk(targeted.StreamID, "Bob, update?", &bob, nil)

	require.Len(t, aliceObs.chunks, 1)
	require.Equal(t, "Welcome", aliceObs.chunks[0].Chunk)
	require.Len(t, bobObs.chunks, 2)
	require.Equal(t, "Welcome", bobObs.chunks[0].Chunk)
	require.Equal(t, "Bob, update?", bobObs.chunks[1].Chunk)
}

func TestDeliverSkipsSender(t *testing.T) {
	ch := New("c1")
	a1 := ids.NewAgentID("a1")
	a2 := ids.NewAgentID("a2")
	qa1, qa2 := queue.New(), queue.New()
	ch.AddParticipant(&fakeParticipant{id: a1, q: qa1})
	ch.AddParticipant(&fakeParticipant{id: a2, q: qa2})

	msg, err := message.New(message.Params{SenderID: a1, Content: "hi", Type: message.TypeDirect})
	require.NoError(t, err)

	errs := ch.Deliver(msg)
	require.Empty(t, errs)
	require.Equal(t, 0, qa1.Len())
	require.Equal(t, 1, qa2.Len())
}
