package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"timerd/internal/timer"
)

// Timer is the part of *timer.Scheduler the registry drives.
type Timer interface {
	Add(delay time.Duration, recurring bool, fn func()) timer.TaskID
	AddRepeating(delay time.Duration, times uint16, fn func()) (timer.TaskID, error)
	Cancel(id timer.TaskID) bool
}

// Action is the work a job performs on each run.
type Action func(ctx context.Context) error

// Def declares one job.
type Def struct {
	Name     string
	Schedule string
	// Times limits the number of runs; zero runs until removed.
	Times   uint16
	Action  string
	Message string
	Command []string
	Timeout time.Duration
	// Func runs in-process instead of a configured action. Apply always
	// treats a job with Func as changed.
	Func Action
}

// Info describes one registered job.
type Info struct {
	Name       string
	Schedule   string
	Kind       SpecKind
	Action     string
	TaskID     timer.TaskID
	Next       time.Time
	Runs       uint64
	Skipped    uint64
	LastRun    time.Time
	LastStatus string
	Running    bool
	Finished   bool
}

// entry is the registry's state for one job. Fields are guarded by Registry.mu
// except running, which the run goroutine owns.
type entry struct {
	def    Def
	spec   ParsedSpec
	sched  cron.Schedule
	action Action

	taskID   timer.TaskID
	removed  bool
	fired    uint64 // timer callbacks seen, including skipped runs
	runs     uint64
	skipped  uint64
	next     time.Time
	lastRun  time.Time
	status   string
	finished bool

	running runState
}

// runState rejects a run while the previous one is still in flight.
type runState struct {
	inflight chan struct{}
}

func newRunState() runState { return runState{inflight: make(chan struct{}, 1)} }

func (s runState) tryAcquire() bool {
	select {
	case s.inflight <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s runState) release() { <-s.inflight }

func (s runState) busy() bool { return len(s.inflight) > 0 }
