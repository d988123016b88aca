package queue

import (
	"context"
	"testing"
	"time"

	"github.com/playbooks-run/core/ids"
	"github.com/playbooks-run/core/message"
	"github.com/playbooks-run/core/perr"
	"github.com/stretchr/testify/require"
)

func mustMessage(t *testing.T, content string, typ message.Type) message.Message {
	t.Helper()
	p := message.Params{
		SenderID: ids.NewAgentID("a1"),
		Content:  content,
		Type:     typ,
	}
	if typ.IsMeeting() {
		meetingID := ids.NewMeetingID("m1")
		p.MeetingID = &meetingID
	}
	m, err := message.New(p)
	require.NoError(t, err)
	return m
}

func TestPriorityOrdering(t *testing.T) {
	q := New()
	require.NoError(t, q.Put(mustMessage(t, "broadcast", message.TypeMeetingBroad), PriorityBroadcast))
	require.NoError(t, q.Put(mustMessage(t, "direct", message.TypeDirect), PriorityDirect))
	require.NoError(t, q.Put(mustMessage(t, "invite", message.TypeMeetingInvite), PriorityControl))

	ctx := context.Background()
	first, err := q.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "invite", first.Content())

	second, err := q.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "direct", second.Content())

	third, err := q.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "broadcast", third.Content())
}

func TestFIFOWithinPriority(t *testing.T) {
	q := New()
	require.NoError(t, q.Put(mustMessage(t, "first", message.TypeDirect), PriorityDirect))
	require.NoError(t, q.Put(mustMessage(t, "second", message.TypeDirect), PriorityDirect))

	ctx := context.Background()
	m1, _ := q.Get(ctx)
	m2, _ := q.Get(ctx)
	require.Equal(t, "first", m1.Content())
	require.Equal(t, "second", m2.Content())
}

func TestPutAfterCloseFails(t *testing.T) {
	q := New()
	q.Close()
	err := q.Put(mustMessage(t, "x", message.TypeDirect), PriorityDirect)
	require.True(t, perr.Is(err, perr.KindQueueClosed))
}

func TestFindTimeoutZero(t *testing.T) {
	q := New()
	_, err := q.Find(context.Background(), 0, func(message.Message) bool { return true })
	require.True(t, perr.Is(err, perr.KindTimeout))
}

func TestFindRemovesMatch(t *testing.T) {
	q := New()
	require.NoError(t, q.Put(mustMessage(t, "other", message.TypeDirect), PriorityDirect))
	require.NoError(t, q.Put(mustMessage(t, "wanted", message.TypeDirect), PriorityDirect))

	found, err := q.Find(context.Background(), 0, func(m message.Message) bool {
		return m.Content() == "wanted"
	})
	require.NoError(t, err)
	require.Equal(t, "wanted", found.Content())
	require.Equal(t, 1, q.Len())
}

func TestFindBlocksUntilPut(t *testing.T) {
	q := New()
	resultCh := make(chan message.Message, 1)
	go func() {
		m, err := q.Find(context.Background(), time.Second, func(m message.Message) bool {
			return m.Content() == "late"
		})
		require.NoError(t, err)
		resultCh <- m
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Put(mustMessage(t, "late", message.TypeDirect), PriorityDirect))

	select {
	case m := <-resultCh:
		require.Equal(t, "late", m.Content())
	case <-time.After(time.Second):
		t.Fatal("Find did not unblock after Put")
	}
}
