// Package clock supplies the millisecond tick source used by the timer scheduler.
//
// Ticks are read from Go's monotonic clock reading (time.Since on a fixed base),
// so wall-clock steps (NTP, manual changes) never move deadlines.
package clock

import (
	"sync"
	"time"
)

// Tick is a monotonic timestamp in milliseconds since the clock's origin.
type Tick int64

// Clock reports the current tick.
type Clock interface {
	Now() Tick
}

// Monotonic is the production clock.
type Monotonic struct {
	base time.Time
}

// NewMonotonic returns a clock whose origin is the moment of the call.
func NewMonotonic() *Monotonic {
	return &Monotonic{base: time.Now()}
}

func (m *Monotonic) Now() Tick {
	return Tick(time.Since(m.base).Milliseconds())
}

// Manual is a clock that only moves when told to. It is safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now Tick
}

// NewManual returns a manual clock starting at tick start.
func NewManual(start Tick) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() Tick {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d (truncated to whole milliseconds) and
// returns the new tick. Negative values are ignored.
func (m *Manual) Advance(d time.Duration) Tick {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ms := d.Milliseconds(); ms > 0 {
		m.now += Tick(ms)
	}
	return m.now
}

// Set jumps the clock to t. Moving backwards is ignored.
func (m *Manual) Set(t Tick) {
	m.mu.Lock()
	if t > m.now {
		m.now = t
	}
	m.mu.Unlock()
}

// Millis converts a duration to whole milliseconds, clamping negatives to zero.
func Millis(d time.Duration) Tick {
	if d <= 0 {
		return 0
	}
	return Tick(d.Milliseconds())
}

// Duration converts a tick delta back to a time.Duration.
func (t Tick) Duration() time.Duration {
	return time.Duration(t) * time.Millisecond
}
