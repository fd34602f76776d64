package timer

import (
	"sync"
	"time"
)

// wakeup lets the driver sleep until a deadline or until a mutation wakes it.
//
// notify is counted but coalescing: any number of notifications between two
// waits collapse into one early wakeup, which is all the driver needs since it
// recomputes its timeout from the index after every wake. broadcast is sticky:
// once called, every current and future wait returns immediately.
type wakeup struct {
	ch   chan struct{}
	done chan struct{}
	once sync.Once
}

func newWakeup() *wakeup {
	return &wakeup{
		ch:   make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (w *wakeup) notify() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

func (w *wakeup) broadcast() {
	w.once.Do(func() { close(w.done) })
}

// wait blocks until notified, broadcast, or timeout elapses. A negative timeout
// waits without limit. It reports true when woken before the timeout.
func (w *wakeup) wait(timeout time.Duration) bool {
	if timeout < 0 {
		select {
		case <-w.ch:
		case <-w.done:
		}
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-w.ch:
		return true
	case <-w.done:
		return true
	case <-t.C:
		return false
	}
}
