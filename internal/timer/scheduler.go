package timer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"timerd/internal/clock"
	logx "timerd/pkg/logx"
)

// Scheduler runs delayed and recurring tasks.
//
// All index and id bookkeeping is serialized by mu. Callbacks run with mu
// released. Only one drain pass runs at a time.
type Scheduler struct {
	mode Mode
	clk  clock.Clock
	log  logx.Logger
	obs  Observer

	cancelWarn *rate.Limiter

	// obsMu orders PendingChanged deliveries; taken before mu, never inside it.
	obsMu sync.Mutex

	mu      sync.Mutex
	idx     *index
	lastID  TaskID
	stopped bool

	draining atomic.Bool
	wake     *wakeup

	// driverDone is closed when the Detached driver exits; nil in Attached mode.
	driverDone chan struct{}
}

// New creates a Scheduler. In Detached mode it starts the driver goroutine
// and returns ErrDriverStart (wrapped) if the driver cannot be brought up.
func New(mode Mode, opts ...Option) (*Scheduler, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	if mode != Attached && mode != Detached {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArgument, mode)
	}

	s := &Scheduler{
		mode:       mode,
		clk:        o.clock,
		log:        o.log,
		obs:        o.observer,
		cancelWarn: o.cancelLimiter(),
		idx:        newIndex(),
		wake:       newWakeup(),
	}
	if mode == Detached {
		if err := s.startDriver(o.spawn, o.startTimeout); err != nil {
			return nil, err
		}
	}
	s.log.Debug("scheduler created", logx.String("mode", mode.String()))
	return s, nil
}

// Mode reports how the scheduler is driven.
func (s *Scheduler) Mode() Mode { return s.mode }

// Add schedules fn to run after delay. With recurring set, the task re-arms
// itself delay after every execution until cancelled. A zero or negative delay
// makes the task due on the next drain.
//
// Add returns 0 if fn is nil or the scheduler has been stopped.
func (s *Scheduler) Add(delay time.Duration, recurring bool, fn func()) TaskID {
	rec := OneShot
	if recurring {
		rec = Infinite
	}
	id, err := s.add(delay, rec, 0, fn)
	if err != nil {
		s.log.Debug("task rejected", logx.Duration("delay", delay), logx.Err(err))
		return 0
	}
	return id
}

// AddRepeating schedules fn to run exactly times times, delay apart, after
// which the task is removed.
func (s *Scheduler) AddRepeating(delay time.Duration, times uint16, fn func()) (TaskID, error) {
	if times == 0 {
		return 0, fmt.Errorf("%w: repeat count must be > 0", ErrInvalidArgument)
	}
	return s.add(delay, FixedCount, times, fn)
}

func (s *Scheduler) add(delay time.Duration, rec Recurrence, times uint16, fn func()) (TaskID, error) {
	if fn == nil {
		return 0, fmt.Errorf("%w: nil callback", ErrInvalidArgument)
	}
	period := clock.Millis(delay)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	s.lastID++
	r := &record{
		id:         s.lastID,
		deadline:   s.clk.Now() + period,
		period:     period,
		recurrence: rec,
		remaining:  times,
		fn:         fn,
	}
	s.idx.insert(r)
	s.mu.Unlock()

	s.wake.notify()
	s.obs.TaskScheduled(r.id, delay)
	s.reportPending()
	s.log.Debug("task added",
		logx.Uint64("id", uint64(r.id)),
		logx.Duration("delay", period.Duration()),
		logx.String("recurrence", rec.String()),
		logx.Int("times", int(times)),
	)
	return r.id, nil
}

// Cancel removes a pending task. It reports true iff the task was still pending,
// in which case its callback is guaranteed never to run again. Unknown, fired
// or already cancelled ids report false.
//
// A task whose callback is currently executing has already been popped (or,
// if recurring, re-armed): Cancel on a one-shot in flight reports false, while
// Cancel on a recurring task stops its future runs.
func (s *Scheduler) Cancel(id TaskID) bool {
	s.mu.Lock()
	removed := s.idx.remove(id)
	s.mu.Unlock()

	if !removed {
		s.reportCancelMiss(id)
		return false
	}
	s.wake.notify()
	s.obs.TaskCancelled(id)
	s.reportPending()
	s.log.Debug("task cancelled", logx.Uint64("id", uint64(id)))
	return true
}

func (s *Scheduler) reportCancelMiss(id TaskID) {
	if s.cancelWarn == nil || !s.cancelWarn.Allow() {
		return
	}
	s.log.Warn("cancel: no such task or task already fired", logx.Uint64("id", uint64(id)))
}

// Pending reports whether id is currently scheduled.
func (s *Scheduler) Pending(id TaskID) bool {
	s.mu.Lock()
	_, ok := s.idx.get(id)
	s.mu.Unlock()
	return ok
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.len()
}

// DrainDue runs every task whose deadline is at or before the current tick,
// in execution order, and returns how many callbacks ran. Recurring tasks are
// re-armed before their callback runs, so a callback may cancel its own task.
//
// If another drain is already in progress (including a DrainDue call made from
// inside a callback), DrainDue returns 0 without running anything.
func (s *Scheduler) DrainDue() int {
	n, busy := s.drain()
	if busy {
		return 0
	}
	if s.mode == Detached && n > 0 {
		// Re-armed deadlines may be earlier than what the driver sleeps on.
		s.wake.notify()
	}
	return n
}

// drain performs one pass. busy is true when another pass held the drain slot.
func (s *Scheduler) drain() (ran int, busy bool) {
	if !s.draining.CompareAndSwap(false, true) {
		return 0, true
	}
	defer s.draining.Store(false)

	// Tasks added by callbacks during this pass wait for the next one.
	s.mu.Lock()
	now, ceiling := s.clk.Now(), s.lastID
	s.mu.Unlock()
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			break
		}
		r, ok := s.idx.popDue(now, ceiling)
		if !ok {
			s.mu.Unlock()
			break
		}
		id, fn := r.id, r.fn
		lateness := (now - r.deadline).Duration()
		if r.reschedule(now) {
			s.idx.insert(r)
		}
		s.mu.Unlock()

		s.obs.TaskFired(id, lateness)
		s.reportPending()
		fn()
		ran++
	}
	if ran > 0 {
		s.log.Trace("drain finished", logx.Int("ran", ran), logx.Int64("tick", int64(now)))
	}
	return ran, false
}

// reportPending delivers the current pending count. Reading it under obsMu
// makes the last delivery reflect the latest mutation.
func (s *Scheduler) reportPending() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.obs.PendingChanged(s.Len())
}

// TimeUntilNext returns the non-negative time until the earliest deadline,
// or false when nothing is pending.
func (s *Scheduler) TimeUntilNext() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeUntilNextLocked()
}

func (s *Scheduler) timeUntilNextLocked() (time.Duration, bool) {
	d, ok := s.idx.peekMin()
	if !ok {
		return 0, false
	}
	now := s.clk.Now()
	if d <= now {
		return 0, true
	}
	return (d - now).Duration(), true
}

// Stop discards all pending tasks without running them, wakes the driver and
// waits for it to exit or for ctx to end. Stop is idempotent.
//
// In Detached mode Stop must not be called from a task callback with a context
// that never ends: the driver running that callback cannot exit until it returns.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	first := !s.stopped
	s.stopped = true
	dropped := s.idx.clear()
	s.mu.Unlock()

	s.wake.broadcast()
	if first {
		s.reportPending()
		s.log.Debug("scheduler stopping", logx.Int("discarded", dropped))
	}

	if s.driverDone == nil {
		return nil
	}
	select {
	case <-s.driverDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the scheduler and blocks until its driver has exited.
func (s *Scheduler) Close() error {
	return s.Stop(context.Background())
}
