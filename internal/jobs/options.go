package jobs

import (
	"time"

	"timerd/internal/eventbus"
	logx "timerd/pkg/logx"
)

type Option func(*Registry)

func WithLogger(log logx.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// WithBus publishes a TypeJobRun event for every run and skipped run.
func WithBus(bus eventbus.Bus) Option {
	return func(r *Registry) { r.bus = bus }
}

// WithLocation sets the timezone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(r *Registry) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithNow replaces the wall clock used for cron occurrences and run stamps.
func WithNow(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}
