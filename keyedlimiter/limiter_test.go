package keyedlimiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/priosched"
)

func mustNewScheduler(t *testing.T, opts ...priosched.Option) *priosched.PriorityScheduler {
	t.Helper()
	s, err := priosched.New(opts...)
	if err != nil {
		t.Fatalf("priosched.New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func TestLimiterCapsConcurrencyPerKey(t *testing.T) {
	s := mustNewScheduler(t, priosched.WithCorePoolSize(8), priosched.WithMaxPoolSize(8))
	l, err := New(s, 2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	const n = 20
	var active, maxActive atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			f, err := SubmitFunc[struct{}](l, "A", priosched.Low, func(ctx context.Context) (struct{}, error) {
				cur := active.Add(1)
				for {
					old := maxActive.Load()
					if cur <= old || maxActive.CompareAndSwap(old, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				active.Add(-1)
				return struct{}{}, nil
			})
			if err != nil {
				t.Errorf("SubmitFunc() error = %v", err)
				return
			}
			if _, err := f.Get(context.Background()); err != nil {
				t.Errorf("Get() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := maxActive.Load(); got > 2 {
		t.Errorf("observed %d concurrently active tasks for key \"A\", want <= 2", got)
	}
}

// TestScenarioKeyedCap is spec scenario 3, at full literal scale: backing
// pool size 16, maxConcurrencyPerKey=2, 100 tasks keyed "A" each sleeping
// 50ms; active tasks for "A" must never exceed 2, and total duration must
// be at least 100/2 * 50ms = 2500ms.
func TestScenarioKeyedCap(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full-scale literal scenario (2.5s+) in -short mode")
	}

	s := mustNewScheduler(t, priosched.WithCorePoolSize(16), priosched.WithMaxPoolSize(16))
	l, err := New(s, 2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	const n = 100
	var active, maxActive atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)

	start := time.Now()
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			f, err := SubmitFunc[struct{}](l, "A", priosched.Low, func(ctx context.Context) (struct{}, error) {
				cur := active.Add(1)
				for {
					old := maxActive.Load()
					if cur <= old || maxActive.CompareAndSwap(old, cur) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				active.Add(-1)
				return struct{}{}, nil
			})
			if err != nil {
				t.Errorf("SubmitFunc() error = %v", err)
				return
			}
			if _, err := f.Get(context.Background()); err != nil {
				t.Errorf("Get() error = %v", err)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	if got := maxActive.Load(); got > 2 {
		t.Errorf("observed %d concurrently active tasks for key \"A\", want <= 2", got)
	}
	if elapsed < 2500*time.Millisecond {
		t.Errorf("total duration = %v, want >= 2500ms (100 tasks / 2 concurrency * 50ms)", elapsed)
	}
}

func TestLimiterDistinctKeysDoNotShareCap(t *testing.T) {
	s := mustNewScheduler(t, priosched.WithCorePoolSize(4), priosched.WithMaxPoolSize(4))
	l, err := New(s, 1)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var mu sync.Mutex
	activeKeys := map[string]bool{}
	bothActive := make(chan struct{}, 1)
	release := make(chan struct{})

	run := func(key string) *priosched.Future[struct{}] {
		f, err := SubmitFunc[struct{}](l, key, priosched.Low, func(ctx context.Context) (struct{}, error) {
			mu.Lock()
			activeKeys[key] = true
			bothActiveNow := len(activeKeys) == 2
			mu.Unlock()
			if bothActiveNow {
				select {
				case bothActive <- struct{}{}:
				default:
				}
			}
			<-release
			return struct{}{}, nil
		})
		if err != nil {
			t.Fatalf("SubmitFunc() error = %v", err)
		}
		return f
	}

	fa := run("A")
	fb := run("B")

	select {
	case <-bothActive:
	case <-time.After(time.Second):
		t.Fatal("tasks on distinct keys did not run concurrently; keys must not share a concurrency budget")
	}
	close(release)

	if _, err := fa.Get(context.Background()); err != nil {
		t.Errorf("Get() error = %v", err)
	}
	if _, err := fb.Get(context.Background()); err != nil {
		t.Errorf("Get() error = %v", err)
	}
}

func TestLimiterScheduleFuncDelaysAdmission(t *testing.T) {
	s := mustNewScheduler(t, priosched.WithCorePoolSize(2), priosched.WithMaxPoolSize(2))
	l, err := New(s, 1)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var ran atomic.Bool
	f, err := ScheduleFunc[struct{}](l, "A", priosched.Low, 60*time.Millisecond, func(ctx context.Context) (struct{}, error) {
		ran.Store(true)
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("ScheduleFunc() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if ran.Load() {
		t.Fatal("delayed gated task ran before its delay elapsed")
	}

	if _, err := f.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ran.Load() {
		t.Error("delayed gated task never ran")
	}
}

func TestLimiterQueuedWaiterPromotedOnRelease(t *testing.T) {
	s := mustNewScheduler(t, priosched.WithCorePoolSize(2), priosched.WithMaxPoolSize(2))
	l, err := New(s, 1)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	hold := make(chan struct{})
	first, err := SubmitFunc[struct{}](l, "A", priosched.Low, func(ctx context.Context) (struct{}, error) {
		<-hold
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("SubmitFunc() error = %v", err)
	}

	var secondRan atomic.Bool
	second, err := SubmitFunc[struct{}](l, "A", priosched.Low, func(ctx context.Context) (struct{}, error) {
		secondRan.Store(true)
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("SubmitFunc() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if secondRan.Load() {
		t.Fatal("second task for the same key ran before the first released its slot")
	}

	close(hold)
	if _, err := first.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := second.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !secondRan.Load() {
		t.Error("second task was never promoted after the first released its slot")
	}
}

func TestLimiterRemoveCancelsWaiting(t *testing.T) {
	s := mustNewScheduler(t, priosched.WithCorePoolSize(1), priosched.WithMaxPoolSize(1))
	l, err := New(s, 1)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	hold := make(chan struct{})
	defer close(hold)
	if _, err := SubmitFunc[struct{}](l, "A", priosched.Low, func(ctx context.Context) (struct{}, error) {
		<-hold
		return struct{}{}, nil
	}); err != nil {
		t.Fatalf("SubmitFunc() error = %v", err)
	}

	var invoked atomic.Bool
	waiting, err := SubmitFunc[struct{}](l, "A", priosched.Low, func(ctx context.Context) (struct{}, error) {
		invoked.Store(true)
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("SubmitFunc() error = %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if !Remove(waiting) {
		t.Fatal("Remove() on a still-waiting gated task = false, want true")
	}
	_, err = waiting.Get(context.Background())
	if !errors.Is(err, priosched.ErrCancelled) {
		t.Errorf("Get() after Remove() error = %v, want Cancelled", err)
	}
}

func TestLimiterKeysReflectsLiveContainers(t *testing.T) {
	s := mustNewScheduler(t, priosched.WithCorePoolSize(2), priosched.WithMaxPoolSize(2))
	l, err := New(s, 1)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	hold := make(chan struct{})
	f, err := SubmitFunc[struct{}](l, "only-key", priosched.Low, func(ctx context.Context) (struct{}, error) {
		<-hold
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("SubmitFunc() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond) // let the container get created and the task start running

	found := false
	for _, k := range l.Keys() {
		if k == "only-key" {
			found = true
		}
	}
	if !found {
		t.Error("Keys() did not include a key with a task currently running under it")
	}

	close(hold)
	if _, err := f.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
}

func TestLimiterKeyBoundScheduler(t *testing.T) {
	s := mustNewScheduler(t, priosched.WithCorePoolSize(2), priosched.WithMaxPoolSize(2))
	l, err := New(s, 1)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	bound := l.SubscriberScheduler("bound-key")
	f, err := bound.SubmitFunc(priosched.Low, func(ctx context.Context) (any, error) {
		return 5, nil
	})
	if err != nil {
		t.Fatalf("SubmitFunc() error = %v", err)
	}
	v, err := f.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if v != 5 {
		t.Errorf("Get() = %v, want 5", v)
	}
}

func TestNewRejectsNonPositiveConcurrency(t *testing.T) {
	s := mustNewScheduler(t, priosched.WithCorePoolSize(1))
	if _, err := New(s, 0); !errors.Is(err, priosched.ErrBadArgument) {
		t.Errorf("New(scheduler, 0) error = %v, want BadArgument", err)
	}
}

func TestScheduleFuncRejectsNegativeDelay(t *testing.T) {
	s := mustNewScheduler(t, priosched.WithCorePoolSize(1))
	l, err := New(s, 1)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = ScheduleFunc[struct{}](l, "A", priosched.Low, -time.Millisecond, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, nil
	})
	if !errors.Is(err, priosched.ErrBadArgument) {
		t.Errorf("ScheduleFunc() with negative delay error = %v, want BadArgument", err)
	}
}
