package priosched

import (
	"context"
	"fmt"
	"time"
)

// Payload is the tagged-variant task body spec.md §9 describes: either a
// side-effecting action (no return value) or a value-producing
// computation. Exactly one of the two funcs is set; no open-ended
// polymorphism is needed since the scheduler never subclasses payloads.
type Payload struct {
	action  func(ctx context.Context) error
	compute func(ctx context.Context) (any, error)
}

func actionPayload(fn func(ctx context.Context) error) Payload {
	return Payload{action: fn}
}

func computationPayload(fn func(ctx context.Context) (any, error)) Payload {
	return Payload{compute: fn}
}

func (p Payload) isZero() bool {
	return p.action == nil && p.compute == nil
}

func (p Payload) run(ctx context.Context) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("priosched: payload panicked: %v", r)
		}
	}()
	if p.compute != nil {
		return p.compute(ctx)
	}
	return nil, p.action(ctx)
}

type recurrenceKind int

const (
	recurrenceOneShot recurrenceKind = iota
	recurrenceFixedDelay
	recurrenceFixedRate
)

type recurrence struct {
	kind   recurrenceKind
	period time.Duration
}

// runnable is the non-generic face a taskRecord presents to the scheduler
// and DelayQueue; the generic Future[T]-holding state lives behind it in
// job[T] (task.go's generic companion defined in future.go), so a single
// DelayQueue's heap can hold tasks of heterogeneous result types.
type runnable interface {
	// markCancelledIfPending transitions the owning future to cancelled iff
	// it is still pending, returning whether this call performed it.
	markCancelledIfPending() bool
	// run executes the payload on the calling worker goroutine and
	// publishes the outcome to the future. prevReadyAt is this dispatch's
	// ready-at, used to compute the next one for fixed-rate recurrence.
	// ok is true iff the recurrence should continue, in which case
	// nextReadyAt is already computed.
	run(ctx context.Context, clock Clock, prevReadyAt time.Time) (nextReadyAt time.Time, ok bool)
	// interrupt delivers a best-effort cooperative interruption signal to
	// an in-flight run, per spec.md §4.3's cancel(interruptRunning).
	interrupt()
	// taskPayload returns the original Payload, used by ShutdownNow to
	// report undrained pending tasks back to the caller.
	taskPayload() Payload
}

// taskRecord is the internal descriptor held in a DelayQueue's heap. It is
// never exposed directly to callers, who interact with the *Future[T]
// returned from a submission instead.
type taskRecord struct {
	job        runnable
	priority   Priority
	readyAt    time.Time
	recur      recurrence
	sequence   uint64
	queueIndex int // maintained by taskHeap's heap.Interface methods
}
