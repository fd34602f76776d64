package timer

import (
	"fmt"
	"strings"
	"time"

	"timerd/internal/clock"
)

// TaskID identifies a pending task within one Scheduler. Zero is never issued.
type TaskID uint64

// Mode selects who drives the scheduler.
type Mode int

const (
	// Attached schedulers own no goroutine; the caller invokes DrainDue and
	// TimeUntilNext itself.
	Attached Mode = iota
	// Detached schedulers run their own driver goroutine.
	Detached
)

func (m Mode) String() string {
	switch m {
	case Attached:
		return "attached"
	case Detached:
		return "detached"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts "attached" or "detached" (case-insensitive). Empty means Detached.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "detached":
		return Detached, nil
	case "attached":
		return Attached, nil
	default:
		return 0, fmt.Errorf("unknown scheduler mode %q (want attached or detached)", s)
	}
}

// Recurrence is the rescheduling policy of a task.
type Recurrence int

const (
	OneShot Recurrence = iota
	Infinite
	FixedCount
)

func (r Recurrence) String() string {
	switch r {
	case OneShot:
		return "once"
	case Infinite:
		return "infinite"
	case FixedCount:
		return "fixed"
	default:
		return fmt.Sprintf("recurrence(%d)", int(r))
	}
}

// record is the scheduler-owned state of one pending task.
//
// remaining counts the executions still owed, including the next one; it is
// only meaningful for FixedCount and is never zero while the record is indexed.
type record struct {
	id         TaskID
	deadline   clock.Tick
	period     clock.Tick
	recurrence Recurrence
	remaining  uint16
	fn         func()
}

// reschedule advances the record after a fire at tick now and reports whether
// it must go back into the index.
func (r *record) reschedule(now clock.Tick) bool {
	switch r.recurrence {
	case Infinite:
	case FixedCount:
		r.remaining--
		if r.remaining == 0 {
			return false
		}
	default:
		return false
	}
	period := r.period
	if period < minPeriod {
		period = minPeriod
	}
	r.deadline = now + period
	return true
}

// minPeriod keeps a zero-delay recurring task from being re-armed at the tick
// it just fired on, which would make a single drain pass spin forever.
const minPeriod clock.Tick = 1

// Observer receives scheduler events. Calls happen outside the scheduler lock
// and must not block.
type Observer interface {
	TaskScheduled(id TaskID, delay time.Duration)
	TaskFired(id TaskID, lateness time.Duration)
	TaskCancelled(id TaskID)
	PendingChanged(n int)
}

type nopObserver struct{}

func (nopObserver) TaskScheduled(TaskID, time.Duration) {}
func (nopObserver) TaskFired(TaskID, time.Duration)     {}
func (nopObserver) TaskCancelled(TaskID)                {}
func (nopObserver) PendingChanged(int)                  {}

// TaskInfo describes one pending task.
type TaskInfo struct {
	ID         TaskID
	DueIn      time.Duration
	Period     time.Duration
	Recurrence Recurrence
	Remaining  uint16
}

// Snapshot is a point-in-time view of a scheduler, tasks in execution order.
type Snapshot struct {
	Mode    Mode
	Stopped bool
	Pending int
	Tasks   []TaskInfo
}
