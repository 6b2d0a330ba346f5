package priosched

import "time"

const (
	defaultCorePoolSize   = 4
	defaultMaxPoolSize    = 32
	defaultKeepAlive      = 60 * time.Second
	defaultFairnessWeight = 4
)

type config struct {
	corePoolSize   int
	maxPoolSize    int
	keepAlive      time.Duration
	fairnessWeight int
	clock          Clock
	logger         *Logger
}

func defaultConfig() *config {
	return &config{
		corePoolSize:   defaultCorePoolSize,
		maxPoolSize:    defaultMaxPoolSize,
		keepAlive:      defaultKeepAlive,
		fairnessWeight: defaultFairnessWeight,
		clock:          systemClock{},
		logger:         nil,
	}
}

// Option configures a PriorityScheduler at construction time. Grounded on
// eventloop/options.go's loopOptionImpl/resolveLoopOptions shape,
// including its nil-option-skipping convenience.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

// WithCorePoolSize sets the minimum number of workers kept alive even when
// idle. Values <= 0 are clamped to 1.
func WithCorePoolSize(n int) Option {
	return optionFunc(func(c *config) {
		if n < 1 {
			n = 1
		}
		c.corePoolSize = n
	})
}

// WithMaxPoolSize sets the maximum number of workers the scheduler will
// ever start concurrently. Values below the resolved core pool size are
// clamped up to it when the scheduler is constructed.
func WithMaxPoolSize(n int) Option {
	return optionFunc(func(c *config) {
		if n < 1 {
			n = 1
		}
		c.maxPoolSize = n
	})
}

// WithKeepAlive sets how long a non-core worker may sit idle before
// exiting.
func WithKeepAlive(d time.Duration) Option {
	return optionFunc(func(c *config) {
		if d < 0 {
			d = 0
		}
		c.keepAlive = d
	})
}

// WithClock overrides the scheduler's time source, primarily for tests
// that need to advance virtual time deterministically via ManualClock.
func WithClock(clock Clock) Option {
	return optionFunc(func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	})
}

// WithLogger attaches a structured logger. The zero value leaves logging
// disabled (every log call site is nil-safe).
func WithLogger(logger *Logger) Option {
	return optionFunc(func(c *config) {
		c.logger = logger
	})
}

// WithHighPriorityFairnessWeight sets how many consecutive High dispatches
// are permitted before a ready Low task is serviced unconditionally,
// implementing spec.md §4.2's starvation-fair weight as a configurable
// burst limit (default 4).
func WithHighPriorityFairnessWeight(n int) Option {
	return optionFunc(func(c *config) {
		if n < 1 {
			n = 1
		}
		c.fairnessWeight = n
	})
}

// resolveOptions applies opts over defaultConfig, silently skipping any nil
// entries in opts (a caller building a conditional option list need not
// filter it first).
func resolveOptions(opts []Option) *config {
	c := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(c)
	}
	if c.maxPoolSize < c.corePoolSize {
		c.maxPoolSize = c.corePoolSize
	}
	if c.clock == nil {
		c.clock = systemClock{}
	}
	return c
}
