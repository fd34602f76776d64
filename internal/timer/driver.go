package timer

import (
	"fmt"
	"time"

	logx "timerd/pkg/logx"
)

// busyBackoff is how long the driver yields when an external DrainDue call
// holds the drain slot. The external drainer notifies on completion, so this
// only bounds the wait.
const busyBackoff = time.Millisecond

func (s *Scheduler) startDriver(spawn func(run func()) error, timeout time.Duration) error {
	ready := make(chan struct{})
	s.driverDone = make(chan struct{})

	if err := spawn(func() { s.run(ready) }); err != nil {
		return fmt.Errorf("%w: %v", ErrDriverStart, err)
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ready:
		return nil
	case <-t.C:
		// Make a late start exit immediately instead of leaking.
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		s.wake.broadcast()
		return fmt.Errorf("%w: not ready after %s", ErrDriverStart, timeout)
	}
}

// run is the Detached driver loop.
//
//	idle      nothing pending: wait for a wakeup with no timeout
//	sleeping  wait for the time until the earliest deadline
//	draining  the wait timed out (or the recomputed timeout is <= 0): drain
//	stopped   stop flag observed: exit
//
// An early wakeup while sleeping only recomputes the timeout.
func (s *Scheduler) run(ready chan<- struct{}) {
	defer close(s.driverDone)
	close(ready)
	s.log.Debug("driver started")
	defer s.log.Debug("driver stopped")

	for {
		s.mu.Lock()
		stopped := s.stopped
		wait, ok := s.timeUntilNextLocked()
		s.mu.Unlock()

		switch {
		case stopped:
			return
		case !ok:
			s.wake.wait(-1)
			continue
		case wait > 0:
			if s.wake.wait(wait) {
				continue
			}
		}

		if n, busy := s.drain(); busy {
			s.wake.wait(busyBackoff)
		} else if n > 0 {
			s.log.Trace("driver drained", logx.Int("ran", n))
		}
	}
}
