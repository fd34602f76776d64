package timer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newDetached(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	s, err := New(Detached, opts...)
	if err != nil {
		t.Fatalf("New(Detached): %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// waitFor polls cond until it holds or timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

func TestDetachedOneShot(t *testing.T) {
	t.Parallel()
	s := newDetached(t)
	var x atomic.Int32
	start := time.Now()
	var firedAt atomic.Int64
	s.Add(20*time.Millisecond, false, func() {
		firedAt.Store(int64(time.Since(start)))
		x.Add(1)
	})
	if !waitFor(t, 2*time.Second, func() bool { return x.Load() == 1 }) {
		t.Fatal("task never ran")
	}
	// Ticks are whole milliseconds, so allow one for truncation.
	if d := time.Duration(firedAt.Load()); d < 19*time.Millisecond {
		t.Fatalf("task ran after %s, before its deadline", d)
	}
	time.Sleep(30 * time.Millisecond)
	if x.Load() != 1 {
		t.Fatalf("one-shot ran %d times", x.Load())
	}
}

func TestDetachedCancel(t *testing.T) {
	t.Parallel()
	s := newDetached(t)
	var x atomic.Int32
	x.Store(10)
	id := s.Add(20*time.Millisecond, false, func() { x.Add(-1) })
	if !s.Cancel(id) {
		t.Fatal("Cancel = false")
	}
	time.Sleep(50 * time.Millisecond)
	if x.Load() != 10 {
		t.Fatalf("x = %d, cancelled task ran", x.Load())
	}
}

func TestDetachedEarlierTaskWakesDriver(t *testing.T) {
	t.Parallel()
	s := newDetached(t)
	var mu sync.Mutex
	var order []int
	s.Add(200*time.Millisecond, false, func() {
		mu.Lock()
		order = append(order, 3)
		mu.Unlock()
	})
	time.Sleep(20 * time.Millisecond)
	// Driver is sleeping toward the 200ms deadline; this one must not wait for it.
	s.Add(40*time.Millisecond, false, func() {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	})
	get := func() []int {
		mu.Lock()
		defer mu.Unlock()
		return append([]int(nil), order...)
	}
	if !waitFor(t, 150*time.Millisecond, func() bool { return len(get()) == 1 }) {
		t.Fatalf("earlier task did not run before the later deadline: %v", get())
	}
	if got := get(); got[0] != 2 {
		t.Fatalf("order = %v", got)
	}
	if !waitFor(t, 2*time.Second, func() bool { return len(get()) == 2 }) {
		t.Fatalf("later task never ran: %v", get())
	}
}

func TestDetachedRecurringThenRepeating(t *testing.T) {
	t.Parallel()
	s := newDetached(t)
	var x atomic.Int32
	id := s.Add(10*time.Millisecond, true, func() { x.Add(1) })
	if !waitFor(t, 2*time.Second, func() bool { return x.Load() >= 5 }) {
		t.Fatalf("recurring ran %d times", x.Load())
	}
	if !s.Cancel(id) {
		t.Fatal("Cancel(recurring) = false")
	}
	// The callback may have been in flight while cancelling.
	time.Sleep(15 * time.Millisecond)
	base := x.Load()
	time.Sleep(30 * time.Millisecond)
	if x.Load() != base {
		t.Fatalf("recurring kept running after cancel: %d -> %d", base, x.Load())
	}

	if _, err := s.AddRepeating(10*time.Millisecond, 5, func() { x.Add(1) }); err != nil {
		t.Fatalf("AddRepeating: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return x.Load() == base+5 }) {
		t.Fatalf("repeating ran %d times, want 5", x.Load()-base)
	}
	time.Sleep(50 * time.Millisecond)
	if x.Load() != base+5 {
		t.Fatalf("repeating ran %d times, want 5", x.Load()-base)
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d", s.Len())
	}
}

func TestDetachedCallbacksDoNotOverlap(t *testing.T) {
	t.Parallel()
	s := newDetached(t)
	var active, maxActive, runs atomic.Int32
	for i := 0; i < 20; i++ {
		s.Add(time.Duration(i%4)*time.Millisecond, false, func() {
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(200 * time.Microsecond)
			active.Add(-1)
			runs.Add(1)
		})
	}
	// External drains compete with the driver for the drain slot.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				s.DrainDue()
			}
		}
	}()
	ok := waitFor(t, 2*time.Second, func() bool { return runs.Load() == 20 })
	close(stop)
	wg.Wait()
	if !ok {
		t.Fatalf("runs = %d, want 20", runs.Load())
	}
	if maxActive.Load() != 1 {
		t.Fatalf("max concurrent callbacks = %d", maxActive.Load())
	}
}

func TestDetachedCallbackAddsTasks(t *testing.T) {
	t.Parallel()
	s := newDetached(t)
	var x atomic.Int32
	s.Add(time.Millisecond, false, func() {
		s.Add(5*time.Millisecond, false, func() { x.Add(1) })
		id := s.Add(time.Hour, false, func() {})
		s.Cancel(id)
	})
	if !waitFor(t, 2*time.Second, func() bool { return x.Load() == 1 }) {
		t.Fatal("task added from a callback never ran")
	}
}

func TestDetachedCloseDiscardsAndJoins(t *testing.T) {
	t.Parallel()
	s, err := New(Detached)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var ran atomic.Bool
	s.Add(30*time.Millisecond, false, func() { ran.Store(true) })
	s.Add(time.Hour, true, func() { ran.Store(true) })

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-s.driverDone:
	default:
		t.Fatal("driver still running after Close")
	}
	if id := s.Add(time.Millisecond, false, func() {}); id != 0 {
		t.Fatalf("Add after Close = %d", id)
	}
	time.Sleep(50 * time.Millisecond)
	if ran.Load() {
		t.Fatal("pending task ran after Close")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestDetachedStopWaitsForRunningCallback(t *testing.T) {
	t.Parallel()
	s, err := New(Detached)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	started := make(chan struct{})
	release := make(chan struct{})
	s.Add(0, false, func() {
		close(started)
		<-release
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop with busy driver err = %v", err)
	}
	close(release)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestDetachedSpawnerError(t *testing.T) {
	t.Parallel()
	boom := errors.New("no threads")
	_, err := New(Detached, WithSpawner(func(func()) error { return boom }))
	if !errors.Is(err, ErrDriverStart) {
		t.Fatalf("err = %v, want ErrDriverStart", err)
	}
}

func TestDetachedDriverNeverReady(t *testing.T) {
	t.Parallel()
	_, err := New(Detached,
		WithSpawner(func(func()) error { return nil }),
		WithStartTimeout(10*time.Millisecond),
	)
	if !errors.Is(err, ErrDriverStart) {
		t.Fatalf("err = %v, want ErrDriverStart", err)
	}
}

func TestDetachedManyTasks(t *testing.T) {
	t.Parallel()
	s := newDetached(t)
	const n = 200
	var runs atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < n/4; i++ {
				s.Add(time.Duration((g+i)%10)*time.Millisecond, false, func() { runs.Add(1) })
			}
		}(g)
	}
	wg.Wait()
	if !waitFor(t, 2*time.Second, func() bool { return runs.Load() == n }) {
		t.Fatalf("runs = %d, want %d", runs.Load(), n)
	}
}
