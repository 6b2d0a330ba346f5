package keyedlimiter

import (
	"context"
	"time"

	"github.com/joeycumines/priosched"
)

const defaultStripeCount = 16

type config struct {
	stripeCount int
	logger      *priosched.Logger
}

// Option configures a Limiter at construction time, mirroring the root
// package's functional-options shape.
type Option interface{ apply(*config) }

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

// WithStripeCount sets the number of lock-independent shards the key
// space is spread across (rounded up to a power of two). Governs
// contention only, never correctness.
func WithStripeCount(p int) Option {
	return optionFunc(func(c *config) { c.stripeCount = p })
}

// WithLogger attaches a structured logger for container lifecycle events.
func WithLogger(logger *priosched.Logger) Option {
	return optionFunc(func(c *config) { c.logger = logger })
}

// Limiter caps concurrently executing tasks per routing key, per
// spec.md §4.4, while drawing its workers from a backing
// priosched.PriorityScheduler.
type Limiter struct {
	backing        *priosched.PriorityScheduler
	maxConcurrency int
	stripes        *stripeSet
	log            *priosched.Logger
}

// New constructs a Limiter with the given per-key concurrency cap, backed
// by scheduler.
func New(scheduler *priosched.PriorityScheduler, maxConcurrencyPerKey int, opts ...Option) (*Limiter, error) {
	if maxConcurrencyPerKey < 1 {
		return nil, priosched.ErrBadArgument
	}
	cfg := &config{stripeCount: defaultStripeCount}
	for _, opt := range opts {
		if opt != nil {
			opt.apply(cfg)
		}
	}
	return &Limiter{
		backing:        scheduler,
		maxConcurrency: maxConcurrencyPerKey,
		stripes:        newStripeSet(cfg.stripeCount),
		log:            cfg.logger,
	}, nil
}

func (l *Limiter) containerFor(key any) *container {
	return l.stripes.stripeFor(key).getOrCreate(key, l.maxConcurrency, l.log)
}

// gatedJob binds a single submission's payload and Future to the key's
// container and the backing scheduler's priority.
type gatedJob[T any] struct {
	l        *Limiter
	key      any
	priority priosched.Priority
	compute  func(ctx context.Context) (T, error)
	future   *priosched.Future[T]
}

// admit submits the wrapped computation to the backing scheduler now that
// this job has a concurrency slot. On completion (success, failure, or
// the backing scheduler having refused the submission outright) it
// releases the slot and — per spec.md §4.4 step 5 — admits the next
// waiter, even if compute returned an error.
func (g *gatedJob[T]) admit(c *container) {
	_, err := priosched.SubmitFunc[struct{}](g.l.backing, g.priority, func(ctx context.Context) (struct{}, error) {
		if g.future.MarkRunning() {
			v, runErr := g.compute(ctx)
			if runErr != nil {
				g.future.Fail(runErr)
			} else {
				g.future.Complete(v)
			}
		}
		g.l.onSlotFreed(c)
		return struct{}{}, nil
	})
	if err != nil {
		g.future.Fail(err)
		g.l.onSlotFreed(c)
	}
}

func (l *Limiter) onSlotFreed(c *container) {
	promoted := c.release()
	c.handlingTasks.Add(-1)
	if promoted != nil {
		promoted.admit(c)
		return
	}
	l.maybeEvict(c)
}

// maybeEvict implements spec.md §4.4/§9's two-phase tentative-remove:
// publish a removable marker when handlingTasks appears to be zero, then
// re-check before actually deleting, so a submission racing in between
// the first check and the publish is not lost to an ABA eviction.
func (l *Limiter) maybeEvict(c *container) {
	if c.handlingTasks.Load() != 0 {
		return
	}
	c.removable.Store(true)
	if c.handlingTasks.Load() != 0 {
		return
	}
	l.stripes.stripeFor(c.key).evictIfStillRemovable(c.key, c, l.log)
}

// SubmitFunc submits compute under key, returning a Future that completes
// once compute actually runs and returns (or is cancelled beforehand). At
// most maxConcurrencyPerKey instances sharing key run concurrently; any
// further ready submissions queue in FIFO order until a slot frees.
func SubmitFunc[T any](l *Limiter, key any, priority priosched.Priority, compute func(ctx context.Context) (T, error)) (*priosched.Future[T], error) {
	return scheduleFunc(l, key, priority, 0, compute)
}

// ScheduleFunc is SubmitFunc's delayed counterpart: compute is not
// admitted into the key's concurrency accounting until delay has
// elapsed, per spec.md §4.4 step 3's trampoline-through-the-backing-
// scheduler description.
func ScheduleFunc[T any](l *Limiter, key any, priority priosched.Priority, delay time.Duration, compute func(ctx context.Context) (T, error)) (*priosched.Future[T], error) {
	return scheduleFunc(l, key, priority, delay, compute)
}

func scheduleFunc[T any](l *Limiter, key any, priority priosched.Priority, delay time.Duration, compute func(ctx context.Context) (T, error)) (*priosched.Future[T], error) {
	if compute == nil {
		return nil, priosched.ErrBadArgument
	}
	if delay < 0 {
		return nil, priosched.ErrBadArgument
	}

	c := l.containerFor(key)
	c.handlingTasks.Add(1)

	job := &gatedJob[T]{l: l, key: key, priority: priority, compute: compute}
	job.future = priosched.NewFuture[T](
		func() bool {
			if c.removeWaiting(job) {
				c.handlingTasks.Add(-1)
				return true
			}
			return false
		},
		nil, // no interrupt hook: the backing task's Future is not kept, so Cancel(true) on a running gated task returns true without cancelling compute's context
	)

	admitNow := func() { job.admit(c) }

	if delay <= 0 {
		if c.tryAdmit(job) {
			admitNow()
		}
		return job.future, nil
	}

	if _, err := priosched.Schedule(l.backing, priority, func(ctx context.Context) error {
		if c.tryAdmit(job) {
			admitNow()
		}
		return nil
	}, delay); err != nil {
		c.handlingTasks.Add(-1)
		return nil, err
	}
	return job.future, nil
}

// Remove cancels f if it is still pending (in its key's waiting queue,
// waiting out a ScheduleFunc delay, or admitted but not yet started),
// returning whether this call cancelled it; a cancelled task's compute
// never runs. A waiting entry is also dropped from its container's queue.
// Equivalent to f.Cancel(false), mirroring priosched.Remove one layer up.
func Remove[T any](f *priosched.Future[T]) bool {
	return f.Cancel(false)
}

// Keys returns a snapshot of every currently live routing key (one with a
// container not yet evicted). For operational visibility only; the set
// may change immediately after the call returns.
func (l *Limiter) Keys() []any {
	var out []any
	for _, s := range l.stripes.shards {
		out = append(out, s.keys()...)
	}
	return out
}

// SubscriberScheduler returns a handle that forwards all submissions
// through this Limiter pre-bound to key — semantically a projection, not
// a new pool, per spec.md §4.4's getSubmitterSchedulerForKey.
func (l *Limiter) SubscriberScheduler(key any) *KeyBoundScheduler {
	return &KeyBoundScheduler{limiter: l, key: key}
}

// KeyBoundScheduler is a projection of a Limiter pre-bound to one key.
type KeyBoundScheduler struct {
	limiter *Limiter
	key     any
}

// SubmitFunc submits compute under the bound key.
func (k *KeyBoundScheduler) SubmitFunc(priority priosched.Priority, compute func(ctx context.Context) (any, error)) (*priosched.Future[any], error) {
	return SubmitFunc[any](k.limiter, k.key, priority, compute)
}
