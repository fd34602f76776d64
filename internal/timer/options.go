package timer

import (
	"time"

	"golang.org/x/time/rate"

	"timerd/internal/clock"
	logx "timerd/pkg/logx"
)

const (
	defaultStartTimeout  = 2 * time.Second
	defaultCancelWarnPer = 1.0
)

type options struct {
	clock        clock.Clock
	log          logx.Logger
	observer     Observer
	startTimeout time.Duration
	spawn        func(run func()) error
	warnPerSec   float64
}

// Option configures a Scheduler.
type Option func(*options)

// WithClock replaces the monotonic clock. Tests pass a *clock.Manual.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithObserver installs an event observer (metrics, tracing).
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithStartTimeout bounds how long New waits for a Detached driver to report ready.
func WithStartTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.startTimeout = d
		}
	}
}

// WithSpawner controls how the Detached driver is launched. The default runs it
// on a new goroutine. A non-nil error from spawn makes New fail with ErrDriverStart.
func WithSpawner(spawn func(run func()) error) Option {
	return func(o *options) {
		if spawn != nil {
			o.spawn = spawn
		}
	}
}

// WithCancelWarnRate limits the advisory "no such task" warnings logged by
// Cancel. Zero or negative disables them.
func WithCancelWarnRate(perSec float64) Option {
	return func(o *options) { o.warnPerSec = perSec }
}

func defaultOptions() options {
	return options{
		clock:        clock.NewMonotonic(),
		log:          logx.Nop(),
		observer:     nopObserver{},
		startTimeout: defaultStartTimeout,
		spawn: func(run func()) error {
			go run()
			return nil
		},
		warnPerSec: defaultCancelWarnPer,
	}
}

func (o options) cancelLimiter() *rate.Limiter {
	if o.warnPerSec <= 0 {
		return nil
	}
	burst := int(o.warnPerSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(o.warnPerSec), burst)
}
