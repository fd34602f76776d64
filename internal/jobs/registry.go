package jobs

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"timerd/internal/eventbus"
	"timerd/internal/timer"
	logx "timerd/pkg/logx"
)

var (
	ErrClosed      = errors.New("jobs: registry closed")
	ErrTimerClosed = errors.New("jobs: timer rejected task")
)

// Registry keeps the set of configured jobs armed on a Timer.
type Registry struct {
	t      Timer
	log    logx.Logger
	bus    eventbus.Bus
	parser cron.Parser
	loc    *time.Location
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

func New(t Timer, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		t:       t,
		log:     logx.Nop(),
		parser:  newParser(),
		loc:     time.Local,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// Check reports whether def would be accepted by Add.
func Check(def Def) error {
	_, err := compile(newParser(), def, nopLogger)
	return err
}

func compile(parser cron.Parser, def Def, log logx.Logger) (*entry, error) {
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return nil, errors.New("job name required")
	}
	def.Action = normalizeAction(def)
	ps, err := ParseSchedule(def.Schedule)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", def.Name, err)
	}
	e := &entry{def: def, spec: ps, running: newRunState()}
	if ps.Kind == SpecCron {
		e.sched, err = parser.Parse(ps.Cron)
		if err != nil {
			return nil, fmt.Errorf("job %q: invalid cron %q: %w", def.Name, ps.Cron, err)
		}
	}
	e.action, err = buildAction(def, log.With(logx.String("comp", "jobs")))
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Add registers def, replacing any job with the same name.
func (r *Registry) Add(def Def) error {
	e, err := compile(r.parser, def, r.log)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if old, ok := r.entries[e.def.Name]; ok {
		r.removeLocked(old)
	}
	return r.insertLocked(e)
}

// Apply makes the registered set equal to defs. Unchanged jobs keep their
// timer task; changed ones are re-armed from now. Nothing changes if any def
// is invalid.
func (r *Registry) Apply(defs []Def) error {
	next := make(map[string]*entry, len(defs))
	var errs []error
	for _, def := range defs {
		e, err := compile(r.parser, def, r.log)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := next[e.def.Name]; dup {
			errs = append(errs, fmt.Errorf("job %q defined twice", e.def.Name))
			continue
		}
		next[e.def.Name] = e
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	for name, old := range r.entries {
		if e, ok := next[name]; !ok || !sameDef(old.def, e.def) {
			r.removeLocked(old)
		}
	}
	var added, kept int
	for name, e := range next {
		if _, ok := r.entries[name]; ok {
			kept++
			continue
		}
		if err := r.insertLocked(e); err != nil {
			errs = append(errs, err)
			continue
		}
		added++
	}
	r.log.Info("jobs applied", logx.Int("total", len(r.entries)), logx.Int("added", added), logx.Int("kept", kept))
	return errors.Join(errs...)
}

func sameDef(a, b Def) bool {
	return reflect.DeepEqual(a, b)
}

// Remove unregisters a job and cancels its pending task. A run already in
// flight finishes.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[strings.TrimSpace(name)]
	if !ok {
		return false
	}
	r.removeLocked(e)
	return true
}

func (r *Registry) insertLocked(e *entry) error {
	r.entries[e.def.Name] = e
	if err := r.armLocked(e, r.now()); err != nil {
		delete(r.entries, e.def.Name)
		e.removed = true
		return err
	}
	return nil
}

func (r *Registry) removeLocked(e *entry) {
	e.removed = true
	if e.taskID != 0 {
		r.t.Cancel(e.taskID)
		e.taskID = 0
	}
	delete(r.entries, e.def.Name)
	r.log.Debug("job removed", logx.String("job", e.def.Name))
}

// armLocked schedules the first run of e after now.
func (r *Registry) armLocked(e *entry, now time.Time) error {
	fire := func() { r.fire(e) }
	switch e.spec.Kind {
	case SpecInterval:
		var id timer.TaskID
		if e.def.Times == 0 {
			id = r.t.Add(e.spec.Every, true, fire)
		} else {
			var err error
			if id, err = r.t.AddRepeating(e.spec.Every, e.def.Times, fire); err != nil {
				return fmt.Errorf("job %q: %w", e.def.Name, err)
			}
		}
		if id == 0 {
			return fmt.Errorf("job %q: %w", e.def.Name, ErrTimerClosed)
		}
		e.taskID = id
		e.next = now.Add(e.spec.Every)
	case SpecCron:
		if err := r.armCronLocked(e, now, now); err != nil {
			return err
		}
	}
	r.log.Debug("job scheduled",
		logx.String("job", e.def.Name),
		logx.String("kind", e.spec.Kind.String()),
		logx.Uint64("task_id", uint64(e.taskID)),
		logx.Time("next", e.next),
	)
	return nil
}

// armCronLocked schedules a one-shot for the first occurrence after from.
func (r *Registry) armCronLocked(e *entry, from, now time.Time) error {
	next := e.sched.Next(from.In(r.loc))
	if next.IsZero() {
		e.taskID = 0
		e.finished = true
		return nil
	}
	id := r.t.Add(next.Sub(now), false, func() { r.fire(e) })
	if id == 0 {
		e.taskID = 0
		return fmt.Errorf("job %q: %w", e.def.Name, ErrTimerClosed)
	}
	e.taskID = id
	e.next = next
	return nil
}

// fire runs on the timer's drain path. It does the bookkeeping, re-arms cron
// jobs and hands the action to a goroutine.
func (r *Registry) fire(e *entry) {
	now := r.now()

	r.mu.Lock()
	if e.removed || r.closed {
		r.mu.Unlock()
		return
	}
	e.fired++
	taskID := e.taskID
	last := e.def.Times != 0 && e.fired >= uint64(e.def.Times)
	switch {
	case last:
		e.finished = true
		e.taskID = 0
		e.next = time.Time{}
	case e.spec.Kind == SpecInterval:
		e.next = now.Add(e.spec.Every)
	default:
		// The timer has millisecond resolution; never ask cron for an
		// occurrence before the one that just fired.
		from := now
		if from.Before(e.next) {
			from = e.next
		}
		if err := r.armCronLocked(e, from, now); err != nil {
			r.log.Warn("job re-arm failed", logx.String("job", e.def.Name), logx.Err(err))
		}
	}

	if !e.running.tryAcquire() {
		e.skipped++
		r.mu.Unlock()
		r.log.Debug("job run skipped; previous run still in flight", logx.String("job", e.def.Name))
		r.publish(eventbus.JobRun{
			RunID:   uuid.NewString(),
			Job:     e.def.Name,
			Action:  e.def.Action,
			TaskID:  uint64(taskID),
			Status:  eventbus.StatusSkipped,
			Started: now,
		})
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer e.running.release()
		r.run(e, taskID, now)
	}()
}

func (r *Registry) run(e *entry, taskID timer.TaskID, started time.Time) {
	ctx := r.ctx
	if e.def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.def.Timeout)
		defer cancel()
	}

	begin := time.Now()
	err := callAction(ctx, e.action)
	elapsed := time.Since(begin)

	status := eventbus.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		status = eventbus.StatusTimeout
	default:
		status = eventbus.StatusError
	}

	r.mu.Lock()
	e.runs++
	e.lastRun = started
	e.status = status
	r.mu.Unlock()

	run := eventbus.JobRun{
		RunID:    uuid.NewString(),
		Job:      e.def.Name,
		Action:   e.def.Action,
		TaskID:   uint64(taskID),
		Status:   status,
		Started:  started,
		Duration: elapsed,
	}
	if err != nil {
		run.Error = err.Error()
		r.log.Warn("job run failed",
			logx.String("job", e.def.Name),
			logx.String("run_id", run.RunID),
			logx.String("status", status),
			logx.Duration("took", elapsed),
			logx.Err(err),
		)
	} else {
		r.log.Debug("job run finished",
			logx.String("job", e.def.Name),
			logx.String("run_id", run.RunID),
			logx.Duration("took", elapsed),
		)
	}
	r.publish(run)
}

func callAction(ctx context.Context, fn Action) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

func (r *Registry) publish(run eventbus.JobRun) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeJobRun, Time: run.Started, Data: run})
}

// Snapshot returns the registered jobs sorted by name.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Info{
			Name:       e.def.Name,
			Schedule:   e.def.Schedule,
			Kind:       e.spec.Kind,
			Action:     e.def.Action,
			TaskID:     e.taskID,
			Next:       e.next,
			Runs:       e.runs,
			Skipped:    e.skipped,
			LastRun:    e.lastRun,
			LastStatus: e.status,
			Running:    e.running.busy(),
			Finished:   e.finished,
		})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close cancels every job's task and waits for in-flight runs until ctx ends,
// after which their contexts are cancelled.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		for _, e := range r.entries {
			r.removeLocked(e)
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	defer r.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var nopLogger = logx.Nop()
