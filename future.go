package priosched

import (
	"context"
	"sync"
	"time"
)

type futureState int32

const (
	futurePending futureState = iota
	futureRunning
	futureResolved
	futureFailed
	futureCancelled
)

// Result is the value delivered to an OnComplete callback and returned
// alongside an error from Get: exactly one of Value/Err is meaningful,
// mirroring spec.md §4.3's Result(T)/Failure(err) callback shape.
type Result[T any] struct {
	Value T
	Err   error
}

type callbackEntry[T any] struct {
	id int64
	fn func(Result[T])
}

// Future is the completion handle returned from every submission. It
// supports blocking/timed Get, cooperative Cancel, and callback
// registration via OnComplete. Grounded on eventloop/promise.go's promise
// struct (state/result/subscriber-list/fanOut), generalized with Go
// generics, given a typed Result[T] instead of an untyped callback value,
// and extended with cancellation.
//
// Publishing discipline (spec.md §4.3): a terminal transition writes
// state and value-or-error under the mutex, then signals waiters and
// fires callbacks after the mutex is released — callbacks never run while
// the future's lock is held.
type Future[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state futureState
	value T
	err   error

	callbacks  []callbackEntry[T]
	nextCBID   int64

	log     *Logger
	metrics *schedulerMetrics

	// cancelHook attempts to remove the still-pending task from its
	// DelayQueue; set by the scheduler at task creation, or supplied by an
	// embedder through NewFuture. It may be nil, as for futures built with
	// NewFuture(nil, ...) or directly by newFuture in tests.
	cancelHook func() bool
	// interruptHook delivers interruption to a running task's payload.
	interruptHook func()
}

func newFuture[T any](log *Logger, metrics *schedulerMetrics) *Future[T] {
	f := &Future[T]{log: log, metrics: metrics}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// NewFuture constructs a Future not backed by a task owned by any
// PriorityScheduler, for embedders layering their own admission logic
// above one (such as package keyedlimiter's per-key gating). cancel is
// invoked when Cancel is called while the future is still pending — the
// embedder's chance to drop it from its own waiting queue; interrupt is
// invoked when Cancel(true) is called while running. Either may be nil.
//
// Grounded on eventloop/promise.go's promise type, which likewise exposes
// Resolve/Reject as the public completion surface for a handle not tied
// to this package's own task/queue machinery.
func NewFuture[T any](cancel func() bool, interrupt func()) *Future[T] {
	f := newFuture[T](nil, nil)
	f.cancelHook = cancel
	f.interruptHook = interrupt
	return f
}

// MarkRunning transitions the future from pending to running, returning
// false if it was not pending (already cancelled or, for a misused
// future, already terminal). Embedders call this immediately before
// invoking the payload they are gating.
func (f *Future[T]) MarkRunning() bool { return f.markRunning() }

// Complete resolves the future with value. A no-op if already terminal.
func (f *Future[T]) Complete(value T) { f.complete(value) }

// Fail resolves the future with err as an execution failure. A no-op if
// already terminal.
func (f *Future[T]) Fail(err error) { f.fail(err) }

// MarkCancelled transitions the future to cancelled iff it is still
// pending, returning whether this call performed the transition. This is
// the same operation Cancel performs for the pending branch, exposed
// directly for embedders that manage their own pending queues and so
// already know the future is pending without re-deriving it from state.
func (f *Future[T]) MarkCancelled() bool { return f.markCancelledIfPending() }

func (f *Future[T]) markRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != futurePending {
		return false
	}
	f.state = futureRunning
	return true
}

func (f *Future[T]) complete(value T) {
	f.settle(func() {
		f.state = futureResolved
		f.value = value
	})
}

func (f *Future[T]) fail(err error) {
	f.settle(func() {
		f.state = futureFailed
		f.err = err
	})
}

// markCancelledIfPending implements runnable for job[T]; it is also called
// directly by Cancel for the pending-state branch.
func (f *Future[T]) markCancelledIfPending() bool {
	f.mu.Lock()
	if f.state != futurePending {
		f.mu.Unlock()
		return false
	}
	f.state = futureCancelled
	f.err = ErrCancelled
	cbs := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.cancelled.Add(1)
	}

	f.cond.Broadcast()
	res := Result[T]{Err: ErrCancelled}
	for _, cb := range cbs {
		invokeCallback(f.log, cb.fn, res)
	}
	return true
}

// settle performs the terminal-state publishing discipline described on
// Future: mutate runs under the lock, then the lock is released before
// waiters are signalled and callbacks fire. A future already in a
// terminal state ignores a second settle (guards against a recurring
// task's run racing a concurrent cancel).
func (f *Future[T]) settle(mutate func()) {
	f.mu.Lock()
	if f.isTerminalLocked() {
		f.mu.Unlock()
		return
	}
	mutate()
	cbs := f.callbacks
	f.callbacks = nil
	value, err := f.value, f.err
	f.mu.Unlock()

	f.cond.Broadcast()
	res := Result[T]{Value: value, Err: err}
	for _, cb := range cbs {
		invokeCallback(f.log, cb.fn, res)
	}
}

func (f *Future[T]) isTerminalLocked() bool {
	return f.state == futureResolved || f.state == futureFailed || f.state == futureCancelled
}

// Cancel implements spec.md §4.3's cancel(interruptRunning). If the task is
// still pending, it is atomically marked cancelled and removed from its
// DelayQueue, returning true. If running and interruptRunning is true, an
// interruption signal is delivered and true is returned even though the
// action may still complete normally. Otherwise it returns false.
func (f *Future[T]) Cancel(interruptRunning bool) bool {
	f.mu.Lock()
	state := f.state
	f.mu.Unlock()

	switch state {
	case futurePending:
		if !f.markCancelledIfPending() {
			// lost a race to running/terminal; fall through as a no-op.
			return false
		}
		if f.cancelHook != nil {
			f.cancelHook()
		}
		return true
	case futureRunning:
		if interruptRunning {
			if f.interruptHook != nil {
				f.interruptHook()
			}
			return true
		}
		return false
	default:
		return false
	}
}

// Get blocks until the future reaches a terminal state or ctx is done,
// whichever comes first. A nil ctx blocks unconditionally.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var zero T

	if done := ctx.Done(); done != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-done:
				f.mu.Lock()
				f.cond.Broadcast()
				f.mu.Unlock()
			case <-stop:
			}
		}()
	}

	f.mu.Lock()
	for f.state == futurePending || f.state == futureRunning {
		if err := ctx.Err(); err != nil {
			f.mu.Unlock()
			return zero, &TimeoutError{}
		}
		f.cond.Wait()
	}
	state, value, err := f.state, f.value, f.err
	f.mu.Unlock()

	switch state {
	case futureResolved:
		return value, nil
	case futureFailed:
		return zero, &ExecutionFailureError{Cause: err}
	case futureCancelled:
		return zero, &CancelledError{}
	default:
		return zero, err
	}
}

// GetTimeout blocks for at most d before failing with TimeoutError. A
// negative d fails immediately with BadArgument; a zero d performs a
// single non-blocking probe, per spec.md §5's timeout semantics.
func (f *Future[T]) GetTimeout(d time.Duration) (T, error) {
	var zero T
	if d < 0 {
		return zero, badArgument("negative timeout")
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return f.Get(ctx)
}

// OnComplete registers cb to be invoked exactly once with the future's
// terminal Result. If the future is already terminal, cb runs
// synchronously on the calling goroutine before OnComplete returns;
// otherwise it runs on whichever goroutine completes the future. A panic
// from cb is recovered and swallowed per spec.md §4.3/§7. The returned
// func unsubscribes cb if it has not yet fired.
func (f *Future[T]) OnComplete(cb func(Result[T])) (unsubscribe func()) {
	f.mu.Lock()
	if f.isTerminalLocked() {
		value, err := f.value, f.err
		f.mu.Unlock()
		invokeCallback(f.log, cb, Result[T]{Value: value, Err: err})
		return func() {}
	}

	id := f.nextCBID
	f.nextCBID++
	f.callbacks = append(f.callbacks, callbackEntry[T]{id: id, fn: cb})
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		for i, e := range f.callbacks {
			if e.id == id {
				f.callbacks = append(f.callbacks[:i:i], f.callbacks[i+1:]...)
				break
			}
		}
		f.mu.Unlock()
	}
}

func invokeCallback[T any](log *Logger, cb func(Result[T]), res Result[T]) {
	defer func() {
		recoverCallbackPanic(log, recover())
	}()
	cb(res)
}

// job is the generic runnable bound to a Future[T]; a *taskRecord holds it
// behind the non-generic runnable interface so one DelayQueue can mix
// tasks of heterogeneous result types in a single heap.
type job[T any] struct {
	payload     Payload
	future      *Future[T]
	fixedResult T
	useFixed    bool
	recur       recurrence
	metrics     *schedulerMetrics
	log         *Logger

	interruptOnce sync.Once
	interruptCh   chan struct{}
}

func newJob[T any](payload Payload, future *Future[T], recur recurrence, metrics *schedulerMetrics, log *Logger) *job[T] {
	return &job[T]{
		payload:     payload,
		future:      future,
		recur:       recur,
		metrics:     metrics,
		log:         log,
		interruptCh: make(chan struct{}),
	}
}

func (j *job[T]) markCancelledIfPending() bool {
	return j.future.markCancelledIfPending()
}

func (j *job[T]) interrupt() {
	j.interruptOnce.Do(func() { close(j.interruptCh) })
}

func (j *job[T]) taskPayload() Payload {
	return j.payload
}

func (j *job[T]) run(ctx context.Context, clock Clock, prevReadyAt time.Time) (time.Time, bool) {
	if !j.future.markRunning() {
		return time.Time{}, false
	}

	runCtx, cancel := context.WithCancel(ctx)
	stop := make(chan struct{})
	go func() {
		select {
		case <-j.interruptCh:
			cancel()
		case <-stop:
		}
	}()

	value, err := j.payload.run(runCtx)
	close(stop)
	cancel()

	if err != nil {
		j.future.fail(err)
		if j.metrics != nil {
			j.metrics.failed.Add(1)
		}
		if j.log != nil {
			j.log.Info().Str("error", err.Error()).Log("priosched: task failed")
		}
		return time.Time{}, false
	}

	if j.recur.kind == recurrenceOneShot {
		switch {
		case j.useFixed:
			j.future.complete(j.fixedResult)
		default:
			if v, ok := value.(T); ok {
				j.future.complete(v)
			} else {
				var zero T
				j.future.complete(zero)
			}
		}
		if j.metrics != nil {
			j.metrics.completed.Add(1)
		}
		return time.Time{}, false
	}

	if j.metrics != nil {
		j.metrics.completed.Add(1)
	}

	// a recurring future returns to pending between runs, so the next
	// dispatch can claim it via markRunning and Cancel takes the pending branch.
	j.future.mu.Lock()
	stillRunning := j.future.state == futureRunning
	if stillRunning {
		j.future.state = futurePending
	}
	j.future.mu.Unlock()
	if !stillRunning {
		return time.Time{}, false
	}

	var next time.Time
	if j.recur.kind == recurrenceFixedDelay {
		next = clock.Now().Add(j.recur.period)
	} else {
		next = prevReadyAt.Add(j.recur.period)
	}
	return next, true
}
