package priosched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type poolState int32

const (
	poolRunning poolState = iota
	poolShuttingDown
	poolTerminated
)

// errNoMoreWork signals a worker that the pool is shutting down (or
// shutdown-now'd) and every queue has drained, so the worker's loop
// should exit.
var errNoMoreWork = errors.New("priosched: no more work, pool shutting down")

// PriorityScheduler is a fixed/elastic worker pool dispatching ready tasks
// across three priority queues (High, Low, Starvable), per spec.md §4.2.
// Grounded on catrate.Limiter's lazy CAS-guarded worker goroutine,
// generalized to a managed set of workers, and on
// other_examples/626dfce7_go-foundations-workerpool__strategies-priority_based.go.go's
// priority-then-FIFO dispatch idea (reference only — not copied; the
// three-DelayQueue structure is spec.md's own design).
type PriorityScheduler struct {
	cfg *config

	high, low, starvable *DelayQueue

	sequence atomic.Uint64

	consecutiveHigh atomic.Int64

	state poolState32

	workerCtx    context.Context
	workerCancel context.CancelFunc

	wg           sync.WaitGroup
	shutdownOnce sync.Once
	terminatedCh chan struct{}

	metrics schedulerMetrics

	log   *Logger
	clock Clock
}

// poolState32 is an atomic wrapper over poolState, kept as a distinct
// named type so call sites read clearly (s.state.Load() == poolRunning)
// without importing an extra generic instantiation.
type poolState32 struct {
	v atomic.Int32
}

func (p *poolState32) Load() poolState  { return poolState(p.v.Load()) }
func (p *poolState32) Store(s poolState) { p.v.Store(int32(s)) }
func (p *poolState32) CompareAndSwap(old, want poolState) bool {
	return p.v.CompareAndSwap(int32(old), int32(want))
}

// New constructs a PriorityScheduler and starts its core workers. The
// returned scheduler must eventually be shut down via Shutdown or
// ShutdownNow.
func New(opts ...Option) (*PriorityScheduler, error) {
	cfg := resolveOptions(opts)

	ctx, cancel := context.WithCancel(context.Background())
	s := &PriorityScheduler{
		cfg:          cfg,
		high:         newDelayQueue(cfg.clock),
		low:          newDelayQueue(cfg.clock),
		starvable:    newDelayQueue(cfg.clock),
		workerCtx:    ctx,
		workerCancel: cancel,
		terminatedCh: make(chan struct{}),
		log:          cfg.logger,
		clock:        cfg.clock,
	}

	// an extra token released by beginShutdown, so watchTermination's
	// WaitGroup can never transiently read zero before any worker exists.
	s.wg.Add(1)
	go s.watchTermination()

	for i := 0; i < cfg.corePoolSize; i++ {
		s.startWorker()
	}

	return s, nil
}

func (s *PriorityScheduler) nextSequence() uint64 {
	return s.sequence.Add(1)
}

func (s *PriorityScheduler) queueFor(p Priority) *DelayQueue {
	switch p {
	case High:
		return s.high
	case Low:
		return s.low
	default:
		return s.starvable
	}
}

func (s *PriorityScheduler) queues() [3]*DelayQueue {
	return [3]*DelayQueue{s.high, s.low, s.starvable}
}

func (s *PriorityScheduler) watchTermination() {
	s.wg.Wait()
	s.state.Store(poolTerminated)
	s.workerCancel()
	close(s.terminatedCh)
}

func (s *PriorityScheduler) beginShutdown() {
	s.state.CompareAndSwap(poolRunning, poolShuttingDown)
	s.shutdownOnce.Do(func() {
		s.wg.Done()
		// wake any worker blocked waiting for work so it can notice the
		// state change and exit once its queue is drained.
		s.high.signal()
		s.low.signal()
		s.starvable.signal()
	})
}

// Shutdown stops the scheduler from accepting new submissions and blocks
// until already-queued work has drained and every worker has exited, or
// until ctx is done. Recurring tasks stop being re-queued once shutdown
// begins (their futures are left pending, since their natural terminal
// state is cancellation or a throwing run, neither of which shutdown
// itself performs).
func (s *PriorityScheduler) Shutdown(ctx context.Context) error {
	s.beginShutdown()
	if s.log != nil {
		s.log.Info().Log("priosched: shutdown initiated")
	}
	select {
	case <-s.terminatedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShutdownNow stops the scheduler from accepting new submissions,
// immediately cancels every pending (not yet running) task, and returns
// their payloads. Tasks already running are left to finish; workers exit
// once they return to an empty, closed pool.
func (s *PriorityScheduler) ShutdownNow() []Payload {
	s.beginShutdown()

	var drained []*taskRecord
	for _, q := range s.queues() {
		drained = append(drained, q.DrainTo()...)
	}

	out := make([]Payload, 0, len(drained))
	for _, t := range drained {
		t.job.markCancelledIfPending()
		out = append(out, t.job.taskPayload())
	}
	if s.log != nil {
		s.log.Info().Int("drained", len(out)).Log("priosched: shutdown now, pending tasks drained")
	}
	return out
}

// IsShutdown reports whether Shutdown or ShutdownNow has been called.
func (s *PriorityScheduler) IsShutdown() bool {
	return s.state.Load() != poolRunning
}

// IsTerminated reports whether every worker has exited following a
// shutdown.
func (s *PriorityScheduler) IsTerminated() bool {
	return s.state.Load() == poolTerminated
}

// AwaitTermination blocks until the pool reaches terminated state or d
// elapses, returning whether it terminated in time.
func (s *PriorityScheduler) AwaitTermination(d time.Duration) bool {
	if s.IsTerminated() {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.terminatedCh:
		return true
	case <-timer.C:
		return s.IsTerminated()
	}
}

// Metrics returns a point-in-time snapshot of the scheduler's running
// state.
func (s *PriorityScheduler) Metrics() Metrics {
	return Metrics{
		HighQueueDepth:      s.high.Size(),
		LowQueueDepth:       s.low.Size(),
		StarvableQueueDepth: s.starvable.Size(),
		Workers:             int(s.metrics.workers.Load()),
		IdleWorkers:         int(s.metrics.idleWorkers.Load()),
		Dispatched:          s.metrics.dispatched.Load(),
		Completed:           s.metrics.completed.Load(),
		Failed:              s.metrics.failed.Load(),
		Cancelled:           s.metrics.cancelled.Load(),
	}
}

func (s *PriorityScheduler) isDrained() bool {
	return s.high.Size() == 0 && s.low.Size() == 0 && s.starvable.Size() == 0
}

// tryDispatch implements spec.md §4.2's dispatch policy: High is serviced
// first unless the fairness burst limit has been reached, in which case
// Low is serviced unconditionally; Starvable is only ever tried once both
// High and Low are empty or not yet ready.
func (s *PriorityScheduler) tryDispatch() (*taskRecord, bool) {
	if s.consecutiveHigh.Load() >= int64(s.cfg.fairnessWeight) {
		if t, ok := s.low.TryTake(); ok {
			s.consecutiveHigh.Store(0)
			return t, true
		}
	}
	if t, ok := s.high.TryTake(); ok {
		s.consecutiveHigh.Add(1)
		return t, true
	}
	if t, ok := s.low.TryTake(); ok {
		s.consecutiveHigh.Store(0)
		return t, true
	}
	if t, ok := s.starvable.TryTake(); ok {
		return t, true
	}
	return nil, false
}

// awaitAny blocks until any of the three queues' heads become ready, a
// new insert preempts the current wait, or ctx is done.
func (s *PriorityScheduler) awaitAny(ctx context.Context) error {
	var earliest time.Time
	has := false
	for _, q := range s.queues() {
		if t, ok := q.Peek(); ok {
			if !has || t.readyAt.Before(earliest) {
				earliest, has = t.readyAt, true
			}
		}
	}

	var timerCh <-chan time.Time
	if has {
		wait := earliest.Sub(s.cfg.clock.Now())
		if wait < 0 {
			wait = 0
		}
		timerCh = s.cfg.clock.After(wait)
	}

	select {
	case <-timerCh:
	case <-s.high.wakeCh:
	case <-s.low.wakeCh:
	case <-s.starvable.wakeCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// next returns the next dispatchable task, blocking as necessary, or
// errNoMoreWork once the pool is shutting down and fully drained, or
// ctx.Err() if ctx is done first.
func (s *PriorityScheduler) next(ctx context.Context) (*taskRecord, error) {
	for {
		if t, ok := s.tryDispatch(); ok {
			return t, nil
		}
		if s.state.Load() != poolRunning && s.isDrained() {
			return nil, errNoMoreWork
		}
		if err := s.awaitAny(ctx); err != nil {
			return nil, err
		}
	}
}

func (s *PriorityScheduler) runWorker() {
	defer s.wg.Done()
	defer s.metrics.workers.Add(-1)

	if s.log != nil {
		s.log.Info().Log("priosched: worker started")
	}
	defer func() {
		if s.log != nil {
			s.log.Info().Log("priosched: worker stopped")
		}
	}()

	for {
		s.metrics.idleWorkers.Add(1)

		var (
			t   *taskRecord
			err error
		)
		if s.aboveCorePoolSize() {
			kctx, cancel := context.WithTimeout(s.workerCtx, s.cfg.keepAlive)
			t, err = s.next(kctx)
			cancel()
			s.metrics.idleWorkers.Add(-1)
			if err != nil {
				// either the keep-alive quantum expired with nothing to do
				// (shed this non-core worker) or the pool shut down —
				// either way, this worker exits.
				return
			}
		} else {
			t, err = s.next(s.workerCtx)
			s.metrics.idleWorkers.Add(-1)
			if err != nil {
				return
			}
		}

		s.runTask(t)
	}
}

func (s *PriorityScheduler) runTask(t *taskRecord) {
	s.metrics.dispatched.Add(1)
	if s.log != nil {
		s.log.Debug().Str("priority", t.priority.String()).Log("priosched: dispatching task")
	}

	nextReadyAt, recur := t.job.run(s.workerCtx, s.cfg.clock, t.readyAt)
	if !recur {
		return
	}
	if s.state.Load() != poolRunning {
		// shutdown initiated mid-recurrence: stop re-queueing; the future
		// is left pending, matching spec.md §9's "pending across runs,
		// done only on cancellation or a throwing run" — shutdown itself
		// is neither.
		return
	}

	next := &taskRecord{
		job:      t.job,
		priority: t.priority,
		readyAt:  nextReadyAt,
		recur:    t.recur,
		sequence: s.nextSequence(),
	}
	s.queueFor(t.priority).Offer(next)
	if s.log != nil {
		s.log.Debug().Str("priority", t.priority.String()).Log("priosched: recurring task re-queued")
	}
}

func submitTask[T any](s *PriorityScheduler, priority Priority, payload Payload, readyAt time.Time, recur recurrence, fixedResult T, useFixed bool) (*Future[T], error) {
	if !priority.valid() {
		return nil, badArgument("invalid priority")
	}
	if payload.isZero() {
		return nil, badArgument("nil payload")
	}
	if s.state.Load() != poolRunning {
		return nil, &PoolClosedError{}
	}

	future := newFuture[T](s.cfg.logger, &s.metrics)
	j := newJob[T](payload, future, recur, &s.metrics, s.cfg.logger)
	if useFixed {
		j.fixedResult = fixedResult
		j.useFixed = true
	}

	rec := &taskRecord{
		job:      j,
		priority: priority,
		readyAt:  readyAt,
		recur:    recur,
		sequence: s.nextSequence(),
	}
	future.cancelHook = func() bool { return s.queueFor(priority).Remove(rec) }
	future.interruptHook = j.interrupt

	s.queueFor(priority).Offer(rec)
	s.maybeStartWorker()
	return future, nil
}

// Execute submits action for one-shot execution at priority; no future is
// returned since nothing observes its completion.
func Execute(s *PriorityScheduler, priority Priority, action func(ctx context.Context) error) error {
	_, err := submitTask[struct{}](s, priority, actionPayload(action), s.cfg.clock.Now(), recurrence{}, struct{}{}, false)
	return err
}

// Submit submits a side-effecting action for one-shot execution,
// returning a future that completes with an empty value once it runs.
func Submit(s *PriorityScheduler, priority Priority, action func(ctx context.Context) error) (*Future[struct{}], error) {
	return submitTask[struct{}](s, priority, actionPayload(action), s.cfg.clock.Now(), recurrence{}, struct{}{}, false)
}

// SubmitResult submits a side-effecting action, returning a future that
// completes with result once the action runs successfully.
func SubmitResult[T any](s *PriorityScheduler, priority Priority, action func(ctx context.Context) error, result T) (*Future[T], error) {
	return submitTask[T](s, priority, actionPayload(action), s.cfg.clock.Now(), recurrence{}, result, true)
}

// SubmitFunc submits a value-producing computation, returning a future
// that completes with its result.
func SubmitFunc[T any](s *PriorityScheduler, priority Priority, compute func(ctx context.Context) (T, error)) (*Future[T], error) {
	payload := computationPayload(func(ctx context.Context) (any, error) {
		return compute(ctx)
	})
	var zero T
	return submitTask[T](s, priority, payload, s.cfg.clock.Now(), recurrence{}, zero, false)
}

// Schedule submits payload to run no earlier than now+delay. A negative
// delay fails with BadArgument; delay == 0 is equivalent to Submit.
func Schedule(s *PriorityScheduler, priority Priority, action func(ctx context.Context) error, delay time.Duration) (*Future[struct{}], error) {
	if delay < 0 {
		return nil, badArgument("negative delay")
	}
	return submitTask[struct{}](s, priority, actionPayload(action), s.cfg.clock.Now().Add(delay), recurrence{}, struct{}{}, false)
}

// ScheduleFunc is Schedule's computation-returning counterpart.
func ScheduleFunc[T any](s *PriorityScheduler, priority Priority, compute func(ctx context.Context) (T, error), delay time.Duration) (*Future[T], error) {
	if delay < 0 {
		return nil, badArgument("negative delay")
	}
	payload := computationPayload(func(ctx context.Context) (any, error) {
		return compute(ctx)
	})
	var zero T
	return submitTask[T](s, priority, payload, s.cfg.clock.Now().Add(delay), recurrence{}, zero, false)
}

// ScheduleWithFixedDelay repeatedly runs action, re-queuing with
// ready-at = completion_time + delay after each run. The returned future
// never resolves with a value; it only ever reaches a terminal state via
// Cancel or a run that returns an error.
func ScheduleWithFixedDelay(s *PriorityScheduler, priority Priority, action func(ctx context.Context) error, initialDelay, delay time.Duration) (*Future[struct{}], error) {
	if initialDelay < 0 {
		return nil, badArgument("negative initial delay")
	}
	if delay < 0 {
		return nil, badArgument("negative delay")
	}
	recur := recurrence{kind: recurrenceFixedDelay, period: delay}
	return submitTask[struct{}](s, priority, actionPayload(action), s.cfg.clock.Now().Add(initialDelay), recur, struct{}{}, false)
}

// ScheduleAtFixedRate repeatedly runs action with ready-at computed as
// previous_ready_at + period (drift-free); overruns do not coalesce, per
// spec.md §4.2 and §9.
func ScheduleAtFixedRate(s *PriorityScheduler, priority Priority, action func(ctx context.Context) error, initialDelay, period time.Duration) (*Future[struct{}], error) {
	if initialDelay < 0 {
		return nil, badArgument("negative initial delay")
	}
	if period <= 0 {
		return nil, badArgument("non-positive period")
	}
	recur := recurrence{kind: recurrenceFixedRate, period: period}
	return submitTask[struct{}](s, priority, actionPayload(action), s.cfg.clock.Now().Add(initialDelay), recur, struct{}{}, false)
}

// Remove removes f's backing task if it is still pending, per spec.md
// §4.2's remove(task-or-future) — equivalent to Cancel(false), since a
// non-interrupting cancel of a pending task IS the remove operation.
func Remove[T any](f *Future[T]) bool {
	return f.Cancel(false)
}

// InvokeAll submits every payload in payloads at priority and blocks until
// every one of them has reached a terminal state, mirroring Java's
// blocking ExecutorService.invokeAll: a task that fails or is cancelled
// does not prevent InvokeAll from waiting on the rest. The returned
// futures are already terminal by the time InvokeAll returns; callers
// inspect each via Get to distinguish success from failure. A nil element
// fails the whole call with BadArgument before anything is submitted,
// matching spec.md §6's error surface.
func InvokeAll(s *PriorityScheduler, priority Priority, payloads []func(ctx context.Context) error) ([]*Future[struct{}], error) {
	for _, p := range payloads {
		if p == nil {
			return nil, badArgument("nil element in collection")
		}
	}
	futures := make([]*Future[struct{}], 0, len(payloads))
	for _, p := range payloads {
		f, err := Submit(s, priority, p)
		if err != nil {
			return nil, err
		}
		futures = append(futures, f)
	}
	for _, f := range futures {
		f.Get(context.Background())
	}
	return futures, nil
}
