package schedwrapper

import (
	"context"
	"time"

	"github.com/joeycumines/priosched"
)

// Wrapper adapts a *priosched.PriorityScheduler to the scheduled-executor
// shape. The zero value is not usable; construct with New.
type Wrapper struct {
	scheduler       *priosched.PriorityScheduler
	defaultPriority priosched.Priority
}

// New wraps scheduler; every submission through this Wrapper runs at
// defaultPriority.
func New(scheduler *priosched.PriorityScheduler, defaultPriority priosched.Priority) *Wrapper {
	return &Wrapper{scheduler: scheduler, defaultPriority: defaultPriority}
}

// Execute submits action for one-shot execution at the default priority;
// no future is returned.
func (w *Wrapper) Execute(action func(ctx context.Context) error) error {
	return priosched.Execute(w.scheduler, w.defaultPriority, action)
}

// Submit submits action, returning a future that completes with an empty
// value once it runs.
func (w *Wrapper) Submit(action func(ctx context.Context) error) (*priosched.Future[struct{}], error) {
	return priosched.Submit(w.scheduler, w.defaultPriority, action)
}

// SubmitResult submits action, returning a future that completes with
// result once action runs successfully.
func SubmitResult[T any](w *Wrapper, action func(ctx context.Context) error, result T) (*priosched.Future[T], error) {
	return priosched.SubmitResult[T](w.scheduler, w.defaultPriority, action, result)
}

// SubmitFunc submits a value-producing computation.
func SubmitFunc[T any](w *Wrapper, compute func(ctx context.Context) (T, error)) (*priosched.Future[T], error) {
	return priosched.SubmitFunc[T](w.scheduler, w.defaultPriority, compute)
}

// Schedule submits action to run no earlier than now+delay.
func (w *Wrapper) Schedule(action func(ctx context.Context) error, delay time.Duration) (*priosched.Future[struct{}], error) {
	return priosched.Schedule(w.scheduler, w.defaultPriority, action, delay)
}

// ScheduleWithFixedDelay repeatedly runs action with ready-at computed
// from each run's completion time plus delay.
func (w *Wrapper) ScheduleWithFixedDelay(action func(ctx context.Context) error, initialDelay, delay time.Duration) (*priosched.Future[struct{}], error) {
	return priosched.ScheduleWithFixedDelay(w.scheduler, w.defaultPriority, action, initialDelay, delay)
}

// ScheduleAtFixedRate repeatedly runs action on a drift-free cadence.
func (w *Wrapper) ScheduleAtFixedRate(action func(ctx context.Context) error, initialDelay, period time.Duration) (*priosched.Future[struct{}], error) {
	return priosched.ScheduleAtFixedRate(w.scheduler, w.defaultPriority, action, initialDelay, period)
}

// InvokeAll submits every action in actions and blocks until each has
// completed, failed, or been cancelled. A nil element fails the whole call
// with BadArgument before anything is submitted.
func (w *Wrapper) InvokeAll(actions []func(ctx context.Context) error) ([]*priosched.Future[struct{}], error) {
	return priosched.InvokeAll(w.scheduler, w.defaultPriority, actions)
}

// Shutdown stops accepting new submissions and blocks until queued work
// has drained or ctx is done.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	return w.scheduler.Shutdown(ctx)
}

// ShutdownNow stops accepting new submissions, cancels pending tasks, and
// returns their payloads.
func (w *Wrapper) ShutdownNow() []priosched.Payload {
	return w.scheduler.ShutdownNow()
}

// IsShutdown reports whether Shutdown or ShutdownNow has been called.
func (w *Wrapper) IsShutdown() bool { return w.scheduler.IsShutdown() }

// IsTerminated reports whether every worker has exited following a
// shutdown.
func (w *Wrapper) IsTerminated() bool { return w.scheduler.IsTerminated() }

// AwaitTermination blocks until the pool terminates or timeout elapses,
// returning whether it terminated in time.
func (w *Wrapper) AwaitTermination(timeout time.Duration) bool {
	return w.scheduler.AwaitTermination(timeout)
}
