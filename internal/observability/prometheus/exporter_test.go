package prometheus

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"timerd/internal/clock"
	"timerd/internal/eventbus"
	"timerd/internal/timer"
)

func histogramSampleCount(h prom.Collector) (uint64, error) {
	ch := make(chan prom.Metric, 1)
	h.Collect(ch)
	var m dto.Metric
	if err := (<-ch).Write(&m); err != nil {
		return 0, err
	}
	return m.GetHistogram().GetSampleCount(), nil
}

func TestExporterObservesScheduler(t *testing.T) {
	reg := prom.NewRegistry()
	exp, err := NewExporter("timerd", reg)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}

	clk := clock.NewManual(0)
	s, err := timer.New(timer.Attached, timer.WithClock(clk), timer.WithObserver(exp))
	if err != nil {
		t.Fatalf("timer.New: %v", err)
	}
	defer s.Close()

	s.Add(10*time.Millisecond, false, func() {})
	id := s.Add(time.Hour, false, func() {})
	if _, err := s.AddRepeating(5*time.Millisecond, 2, func() {}); err != nil {
		t.Fatalf("AddRepeating: %v", err)
	}
	if got := testutil.ToFloat64(exp.pending); got != 3 {
		t.Fatalf("pending = %v, want 3", got)
	}

	clk.Advance(12 * time.Millisecond)
	s.DrainDue()
	s.Cancel(id)

	if got := testutil.ToFloat64(exp.scheduled); got != 3 {
		t.Fatalf("scheduled = %v, want 3", got)
	}
	// One-shot plus one run of the repeating task (its second deadline is 17ms).
	if got := testutil.ToFloat64(exp.fired); got != 2 {
		t.Fatalf("fired = %v, want 2", got)
	}
	if got := testutil.ToFloat64(exp.cancelled); got != 1 {
		t.Fatalf("cancelled = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exp.pending); got != 1 {
		t.Fatalf("pending = %v, want 1", got)
	}
	n, err := histogramSampleCount(exp.lateness)
	if err != nil {
		t.Fatalf("histogramSampleCount: %v", err)
	}
	if n != 2 {
		t.Fatalf("lateness samples = %d, want 2", n)
	}
}

func TestExporterObserveRun(t *testing.T) {
	exp, err := NewExporter("timerd", prom.NewRegistry())
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	exp.ObserveRun(eventbus.JobRun{Job: "nightly", Status: eventbus.StatusOK, Duration: time.Second})
	exp.ObserveRun(eventbus.JobRun{Job: "nightly", Status: eventbus.StatusSkipped})
	exp.ObserveRun(eventbus.JobRun{Status: eventbus.StatusError})

	if got := testutil.ToFloat64(exp.jobRuns.WithLabelValues("nightly", "ok")); got != 1 {
		t.Fatalf("ok runs = %v", got)
	}
	if got := testutil.ToFloat64(exp.jobRuns.WithLabelValues("nightly", "skipped")); got != 1 {
		t.Fatalf("skipped runs = %v", got)
	}
	if got := testutil.ToFloat64(exp.jobRuns.WithLabelValues("unknown", "error")); got != 1 {
		t.Fatalf("unlabelled runs = %v", got)
	}
	n, err := histogramSampleCount(exp.jobDuration.WithLabelValues("nightly").(prom.Collector))
	if err != nil {
		t.Fatalf("histogramSampleCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("duration samples = %d, want 1 (skips are not timed)", n)
	}
}

func TestExporterAlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewExporter("timerd", reg)
	if err != nil {
		t.Fatalf("first NewExporter: %v", err)
	}
	second, err := NewExporter("timerd", reg)
	if err != nil {
		t.Fatalf("second NewExporter: %v", err)
	}
	first.TaskCancelled(1)
	second.TaskCancelled(2)
	if got := testutil.ToFloat64(first.cancelled); got != 2 {
		t.Fatalf("shared counter = %v, want 2", got)
	}
}

func TestExporterNilSafe(t *testing.T) {
	var exp *Exporter
	exp.TaskScheduled(1, 0)
	exp.TaskFired(1, 0)
	exp.TaskCancelled(1)
	exp.PendingChanged(3)
	exp.ObserveRun(eventbus.JobRun{})
}

func TestExporterHandler(t *testing.T) {
	exp, err := NewExporter("timerd", nil)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	exp.TaskScheduled(1, time.Second)

	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)
	for _, want := range []string{"timerd_tasks_scheduled_total 1", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
