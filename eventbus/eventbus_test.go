package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testEvent struct{ Value string }
type otherEvent struct{ N int }

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	b := New()
	var order []string
	Subscribe(b, func(e testEvent) { order = append(order, "first:"+e.Value) })
	Subscribe(b, func(e testEvent) { order = append(order, "second:"+e.Value) })

	Publish(b, testEvent{Value: "x"})

	require.Equal(t, []string{"first:x", "second:x"}, order)
}

func TestPublishIsolatesPanickingHandler(t *testing.T) {
	b := New()
	var secondCalled bool
	Subscribe(b, func(e testEvent) { panic("boom") })
	Subscribe(b, func(e testEvent) { secondCalled = true })

	require.NotPanics(t, func() { Publish(b, testEvent{Value: "x"}) })
	require.True(t, secondCalled)
}

func TestDistinctTopicsDoNotCrossDeliver(t *testing.T) {
	b := New()
	var gotOther bool
	Subscribe(b, func(e otherEvent) { gotOther = true })

	Publish(b, testEvent{Value: "x"})

	require.False(t, gotOther)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	var calls int
	sub := Subscribe(b, func(e testEvent) { calls++ })
	b.Unsubscribe(sub)

	Publish(b, testEvent{Value: "x"})

	require.Equal(t, 0, calls)
}

func TestReentrantPublishIsSerialized(t *testing.T) {
	b := New()
	var order []string
	Subscribe(b, func(e testEvent) {
		order = append(order, "outer-start:"+e.Value)
		if e.Value == "a" {
			Publish(b, testEvent{Value: "b"})
		}
		order = append(order, "outer-end:"+e.Value)
	})

	Publish(b, testEvent{Value: "a"})

	// The re-entrant publish of "b" must be fully handled only after "a"'s
	// own handler invocation completes.
	require.Equal(t, []string{
		"outer-start:a", "outer-end:a",
		"outer-start:b", "outer-end:b",
	}, order)
}
