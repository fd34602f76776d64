package prometheus

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"timerd/internal/eventbus"
	"timerd/internal/timer"
)

// Exporter turns scheduler events and job runs into Prometheus metrics.
type Exporter struct {
	gatherer prom.Gatherer

	scheduled prom.Counter
	fired     prom.Counter
	cancelled prom.Counter
	pending   prom.Gauge
	lateness  prom.Histogram

	jobRuns     *prom.CounterVec
	jobDuration *prom.HistogramVec
}

var _ timer.Observer = (*Exporter)(nil)

// latenessBuckets spans sub-millisecond wakeups to badly overloaded drains.
var latenessBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1}

// NewExporter registers the timerd collectors on reg. A nil reg gets a fresh
// registry that also carries the Go and process collectors.
func NewExporter(namespace string, reg *prom.Registry) (*Exporter, error) {
	if namespace == "" {
		namespace = "timerd"
	}
	if reg == nil {
		reg = prom.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	scheduled := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_scheduled_total",
		Help:      "Tasks added to the scheduler.",
	})
	fired := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_fired_total",
		Help:      "Task callbacks executed, counting every run of a recurring task.",
	})
	cancelled := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_cancelled_total",
		Help:      "Tasks removed by a successful cancel.",
	})
	pending := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks_pending",
		Help:      "Tasks currently waiting for their deadline.",
	})
	lateness := prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_lateness_seconds",
		Help:      "Delay between a task's deadline and the drain that ran it.",
		Buckets:   latenessBuckets,
	})
	jobRuns := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "job_runs_total",
		Help:      "Job runs by outcome.",
	}, []string{"job", "status"})
	jobDuration := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "job_run_duration_seconds",
		Help:      "Job action duration in seconds.",
		Buckets:   prom.DefBuckets,
	}, []string{"job"})

	var err error
	if scheduled, err = registerCollector(reg, scheduled); err != nil {
		return nil, err
	}
	if fired, err = registerCollector(reg, fired); err != nil {
		return nil, err
	}
	if cancelled, err = registerCollector(reg, cancelled); err != nil {
		return nil, err
	}
	if pending, err = registerCollector(reg, pending); err != nil {
		return nil, err
	}
	if lateness, err = registerCollector(reg, lateness); err != nil {
		return nil, err
	}
	if jobRuns, err = registerCollector(reg, jobRuns); err != nil {
		return nil, err
	}
	if jobDuration, err = registerCollector(reg, jobDuration); err != nil {
		return nil, err
	}

	return &Exporter{
		gatherer:    reg,
		scheduled:   scheduled,
		fired:       fired,
		cancelled:   cancelled,
		pending:     pending,
		lateness:    lateness,
		jobRuns:     jobRuns,
		jobDuration: jobDuration,
	}, nil
}

func (e *Exporter) TaskScheduled(timer.TaskID, time.Duration) {
	if e == nil {
		return
	}
	e.scheduled.Inc()
}

func (e *Exporter) TaskFired(_ timer.TaskID, lateness time.Duration) {
	if e == nil {
		return
	}
	e.fired.Inc()
	e.lateness.Observe(lateness.Seconds())
}

func (e *Exporter) TaskCancelled(timer.TaskID) {
	if e == nil {
		return
	}
	e.cancelled.Inc()
}

func (e *Exporter) PendingChanged(n int) {
	if e == nil {
		return
	}
	e.pending.Set(float64(n))
}

// ObserveRun records one job run. Skipped runs are counted but not timed.
func (e *Exporter) ObserveRun(run eventbus.JobRun) {
	if e == nil {
		return
	}
	job := normalizeLabel(run.Job, "unknown")
	e.jobRuns.WithLabelValues(job, normalizeLabel(run.Status, "unknown")).Inc()
	if run.Status != eventbus.StatusSkipped {
		e.jobDuration.WithLabelValues(job).Observe(run.Duration.Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{})
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// registerCollector registers collector, or returns the equal collector that
// is already registered so exporters can be rebuilt on the same registry.
func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var already prom.AlreadyRegisteredError
	if errors.As(err, &already) {
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}
	return collector, err
}
