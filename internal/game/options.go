package game

import (
	"log/slog"
	"time"
)

const (
	LIFTOFF_DELAY   = 6 * time.Second
	OP_TIMEOUT      = 5 * time.Second
	REAPER_INTERVAL = 30 * time.Second
	WAITING_GRACE   = 15 * time.Second
	MAX_FLIGHT      = 30 * time.Second
)

type options struct {
	now          func() time.Time
	newSource    func(serverSeed string) Source
	logger       *slog.Logger
	liftoffDelay time.Duration
	opTimeout    time.Duration
	timers       bool
}

// Option tunes Rounds and Bets.
type Option func(*options)

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSource replaces the seed-derived random source, for deterministic tests.
func WithSource(newSource func(serverSeed string) Source) Option {
	return func(o *options) { o.newSource = newSource }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithLiftoffDelay(d time.Duration) Option {
	return func(o *options) { o.liftoffDelay = d }
}

func WithOpTimeout(d time.Duration) Option {
	return func(o *options) { o.opTimeout = d }
}

// WithoutTimers disables the scheduled liftoff/crash transitions.
func WithoutTimers() Option {
	return func(o *options) { o.timers = false }
}

func buildOptions(opts []Option) options {
	o := options{
		now:          time.Now,
		newSource:    func(seed string) Source { return NewSeedSource(seed) },
		logger:       slog.Default(),
		liftoffDelay: LIFTOFF_DELAY,
		opTimeout:    OP_TIMEOUT,
		timers:       true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
