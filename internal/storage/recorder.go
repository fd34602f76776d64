package storage

import (
	"context"
	"time"

	"timerd/internal/eventbus"
	logx "timerd/pkg/logx"
)

const (
	recorderBuffer   = 256
	recorderWriteTTL = 2 * time.Second
)

// Recorder appends every job run published on the bus to a Store and hands it
// to optional observers. A nil Store only feeds the observers.
type Recorder struct {
	store Store
	log   logx.Logger
	obs   []func(eventbus.JobRun)

	events <-chan eventbus.Event
	unsub  func()
}

// NewRecorder subscribes immediately so runs published before Run starts are kept.
func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger, observers ...func(eventbus.JobRun)) *Recorder {
	ch, unsub := bus.Subscribe(recorderBuffer)
	return &Recorder{store: store, log: log, obs: observers, events: ch, unsub: unsub}
}

// Run consumes events until ctx ends, then unsubscribes.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-r.events:
			if !ok {
				return nil
			}
			run, isRun := ev.Data.(eventbus.JobRun)
			if ev.Type != eventbus.TypeJobRun || !isRun {
				continue
			}
			r.record(ctx, run)
		}
	}
}

func (r *Recorder) record(ctx context.Context, run eventbus.JobRun) {
	if r.store != nil {
		r.append(ctx, run)
	}
	for _, fn := range r.obs {
		fn(run)
	}
}

func (r *Recorder) append(ctx context.Context, run eventbus.JobRun) {
	wctx, cancel := context.WithTimeout(ctx, recorderWriteTTL)
	defer cancel()
	err := r.store.AppendRun(wctx, RunEntry{
		ID:      run.RunID,
		Job:     run.Job,
		Action:  run.Action,
		TaskID:  run.TaskID,
		Status:  run.Status,
		Error:   run.Error,
		Started: run.Started,
		TookMS:  run.Duration.Milliseconds(),
	})
	if err != nil {
		r.log.Warn("run history append failed", logx.String("job", run.Job), logx.Err(err))
	}
}
