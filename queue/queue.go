// Package queue implements the per-agent async priority intake queue (spec
// §4.3, C3): Put/Get/Find/Close with FIFO-within-priority ordering, the
// primitive WaitForMessage is built on.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/playbooks-run/core/message"
	"github.com/playbooks-run/core/perr"
)

// Priority orders intake items; higher values are served first.
// invites/system > direct > broadcast, per spec §5.
type Priority int

const (
	PriorityBroadcast Priority = 0
	PriorityDirect    Priority = 1
	PriorityControl   Priority = 2
)

// PriorityFor derives the intake priority from a message's type.
func PriorityFor(t message.Type) Priority {
	switch t {
	case message.TypeMeetingInvite, message.TypeSystem, message.TypeMeetingJoin, message.TypeMeetingLeave:
		return PriorityControl
	case message.TypeDirect:
		return PriorityDirect
	default:
		return PriorityBroadcast
	}
}

type item struct {
	msg      message.Message
	priority Priority
	seq      uint64
}

// itemHeap is a max-heap on priority, FIFO (ascending seq) within a
// priority tier.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is a per-agent, priority-ordered, blocking message intake queue.
// Each message is delivered at most once to exactly one consumer.
type Queue struct {
	mu     sync.Mutex
	items  itemHeap
	nextSeq uint64
	closed bool
	notify chan struct{} // buffered(1) "something changed" signal
}

// New creates an empty, open Queue.
func New() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Put enqueues msg at the given priority. Fails with KindQueueClosed if the
// queue has been closed.
func (q *Queue) Put(msg message.Message, priority Priority) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return perr.New(perr.KindQueueClosed, "queue", "Put", "queue is closed", nil)
	}
	q.nextSeq++
	heap.Push(&q.items, &item{msg: msg, priority: priority, seq: q.nextSeq})
	q.mu.Unlock()
	q.wake()
	return nil
}

// Get blocks until a message is available or ctx is done.
func (q *Queue) Get(ctx context.Context) (message.Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := heap.Pop(&q.items).(*item)
			q.mu.Unlock()
			return it.msg, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return message.Message{}, perr.New(perr.KindQueueClosed, "queue", "Get", "queue is closed", nil)
		}
		select {
		case <-ctx.Done():
			return message.Message{}, perr.New(perr.KindCancelled, "queue", "Get", "context done", ctx.Err())
		case <-q.notify:
		}
	}
}

// Find removes and returns the first message matching predicate, waiting up
// to timeout (zero means "check once, don't wait"; negative means "wait
// forever"). Fails with KindTimeout on expiry.
func (q *Queue) Find(ctx context.Context, timeout time.Duration, predicate func(message.Message) bool) (message.Message, error) {
	deadlineCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		deadlineCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		if msg, ok := q.tryTake(predicate); ok {
			return msg, nil
		}
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return message.Message{}, perr.New(perr.KindQueueClosed, "queue", "Find", "queue is closed", nil)
		}
		if timeout == 0 {
			return message.Message{}, perr.New(perr.KindTimeout, "queue", "Find", "no matching message queued", nil)
		}
		select {
		case <-deadlineCtx.Done():
			if timeout > 0 {
				return message.Message{}, perr.New(perr.KindTimeout, "queue", "Find", "timed out waiting for match", nil)
			}
			return message.Message{}, perr.New(perr.KindCancelled, "queue", "Find", "context done", ctx.Err())
		case <-q.notify:
		}
	}
}

func (q *Queue) tryTake(predicate func(message.Message) bool) (message.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if predicate(it.msg) {
			heap.Remove(&q.items, i)
			return it.msg, true
		}
	}
	return message.Message{}, false
}

// Close drains the queue and refuses further Puts; blocked Gets/Finds
// observe KindQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.wake()
}

// Len reports the current number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
