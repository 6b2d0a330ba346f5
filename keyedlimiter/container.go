package keyedlimiter

import (
	"sync"
	"sync/atomic"
)

// gatedRunnable is the non-generic face a queued gated task presents to
// its container, analogous to priosched's own runnable interface: it lets
// container.go and stripe.go manage heterogeneous result types (T varies
// per call to SubmitFunc) behind one waiting-queue slice.
type gatedRunnable interface {
	// admit submits the wrapped payload to the backing scheduler now that
	// a concurrency slot has been granted for it.
	admit(c *container)
}

// container is the per-key gate state of spec.md §4.4: maxConcurrency is
// constant, active counts tasks currently executing for this key,
// waitingTasks is a FIFO of gated tasks admitted past the cap check but
// not yet given a slot, and handlingTasks is the atomic sum of
// active + len(waiting) + scheduled-but-not-yet-ready. Grounded on
// catrate's per-category struct (atomic scratch counters guarding a
// mutex-protected slow path), with the sync.Pool recycling catrate uses
// for its per-category struct intentionally not carried over: containers
// here are retained across a key's full lifetime (until eviction), not
// recycled per-request, so pooling would add complexity without the
// allocation churn catrate is optimizing for.
type container struct {
	key            any
	maxConcurrency int

	mu      sync.Mutex
	active  int
	waiting []gatedRunnable

	handlingTasks atomic.Int64
	removable     atomic.Bool
}

func newContainer(key any, maxConcurrency int) *container {
	return &container{key: key, maxConcurrency: maxConcurrency}
}

// tryAdmit attempts to claim a slot for r. If the cap is not yet reached
// it increments active and returns true (caller must then call r.admit);
// otherwise r is appended to the waiting queue and false is returned.
func (c *container) tryAdmit(r gatedRunnable) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active < c.maxConcurrency {
		c.active++
		return true
	}
	c.waiting = append(c.waiting, r)
	return false
}

// release is called when a previously admitted task completes (success,
// failure, or cancellation): it decrements active and, if a waiter is
// queued, promotes it to active under the same lock section, returning it
// for the caller to admit outside the lock.
func (c *container) release() (promoted gatedRunnable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active--
	if len(c.waiting) > 0 {
		promoted = c.waiting[0]
		c.waiting = c.waiting[1:]
		c.active++
	}
	return promoted
}

// removeWaiting removes r from the waiting queue if present, returning
// whether it was found.
func (c *container) removeWaiting(r gatedRunnable) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiting {
		if w == r {
			c.waiting = append(c.waiting[:i:i], c.waiting[i+1:]...)
			return true
		}
	}
	return false
}
