package priosched

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// taskHeap is a container/heap.Interface over *taskRecord keyed on
// (readyAt ascending, sequence ascending), grounded on the timerHeap type
// in eventloop/loop.go.
type taskHeap []*taskRecord

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if !h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].readyAt.Before(h[j].readyAt)
	}
	return h[i].sequence < h[j].sequence
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].queueIndex = i
	h[j].queueIndex = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*taskRecord)
	t.queueIndex = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.queueIndex = -1
	*h = old[:n-1]
	return t
}

// DelayQueue is a bounded-wait priority queue over (ready-at, sequence),
// per spec.md §4.1. Offer/Take/Peek/Remove/DrainTo/Size are all
// thread-safe under arbitrary concurrent use. New inserts with an earlier
// ready-at than the current head preempt any blocked Take via a
// single-slot wake channel — a leader/follower hand-off: each call that
// successfully dequeues a ready record signals once more so a follower
// can re-peek, rather than broadcasting to every waiter at once (which
// would cause a thundering herd when a burst of tasks arrives on a queue
// with several idle workers blocked on it).
type DelayQueue struct {
	mu     sync.Mutex
	h      taskHeap
	wakeCh chan struct{}
	clock  Clock
}

func newDelayQueue(clock Clock) *DelayQueue {
	return &DelayQueue{wakeCh: make(chan struct{}, 1), clock: clock}
}

func (q *DelayQueue) signal() {
	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}

// Offer inserts t. If t becomes the new head of the heap, one blocked
// waiter is signalled to re-evaluate its wait.
func (q *DelayQueue) Offer(t *taskRecord) {
	q.mu.Lock()
	heap.Push(&q.h, t)
	isNewHead := q.h[0] == t
	q.mu.Unlock()

	if isNewHead {
		q.signal()
	}
}

// TryTake returns the head record if it exists and its ready-at has
// passed, removing it; it never blocks.
func (q *DelayQueue) TryTake() (*taskRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil, false
	}
	head := q.h[0]
	if head.readyAt.After(q.clock.Now()) {
		return nil, false
	}
	heap.Pop(&q.h)
	return head, true
}

// Take blocks until a task exists with ready-at <= now, then removes and
// returns it. If ctx is done first, it returns ctx.Err().
func (q *DelayQueue) Take(ctx context.Context) (*taskRecord, error) {
	for {
		if t, ok := q.TryTake(); ok {
			// pass the baton: wake a follower so it can re-peek the new head.
			q.signal()
			return t, nil
		}

		var timerCh <-chan time.Time
		if head, ok := q.Peek(); ok {
			wait := head.readyAt.Sub(q.clock.Now())
			if wait < 0 {
				wait = 0
			}
			timerCh = q.clock.After(wait)
		}

		select {
		case <-timerCh: // nil if the queue was empty; a nil channel blocks forever, which is correct here
		case <-q.wakeCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Peek returns the head record without removing it.
func (q *DelayQueue) Peek() (*taskRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil, false
	}
	return q.h[0], true
}

// Remove removes t if it is still present in this queue, returning whether
// it was found. O(log n) via heap.Remove using t's tracked queueIndex.
func (q *DelayQueue) Remove(t *taskRecord) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t.queueIndex < 0 || t.queueIndex >= len(q.h) || q.h[t.queueIndex] != t {
		return false
	}
	heap.Remove(&q.h, t.queueIndex)
	return true
}

// DrainTo removes every record currently in the queue, in heap-pop order
// (ready-at, sequence ascending), appending each to the returned slice.
func (q *DelayQueue) DrainTo() []*taskRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*taskRecord, 0, len(q.h))
	for len(q.h) > 0 {
		out = append(out, heap.Pop(&q.h).(*taskRecord))
	}
	return out
}

// Size returns the current number of queued records.
func (q *DelayQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
