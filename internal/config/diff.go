package config

import (
	"reflect"
	"sort"
	"strings"

	logx "timerd/pkg/logx"
)

// SummarizeChange returns (1) a compact list of changed sections,
// (2) structured attrs for logging, and (3) the names of jobs that were
// added, removed or modified.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Mode and start timeout only take effect on restart.
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.mode", strings.TrimSpace(newCfg.Scheduler.Mode)),
			logx.Float64("scheduler.cancel_warn_per_sec", newCfg.Scheduler.CancelWarnPerSec),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}

	if oldM, newM := oldCfg.Metrics.Resolved(), newCfg.Metrics.Resolved(); oldM != newM ||
		(oldCfg.Metrics != nil) != (newCfg.Metrics != nil) {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newM.Enabled),
			logx.String("metrics.addr", newM.Addr),
		)
	}

	if oldS, newS := oldCfg.Storage.Resolved(), newCfg.Storage.Resolved(); oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newS.Driver),
			logx.Int("storage.keep", newS.Keep),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs,
			logx.Bool("systemd.notify", newCfg.Systemd.Notify),
			logx.Bool("systemd.watchdog", newCfg.Systemd.Watchdog),
		)
	}

	jobs := changedJobs(oldCfg.Jobs, newCfg.Jobs)
	if len(jobs) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.count", len(newCfg.Jobs)),
			logx.String("jobs.changed", strings.Join(jobs, ",")),
		)
	}

	return changed, attrs, jobs
}

func changedJobs(oldJobs, newJobs []JobConfig) []string {
	index := func(js []JobConfig) map[string]JobConfig {
		m := make(map[string]JobConfig, len(js))
		for _, j := range js {
			m[strings.TrimSpace(j.Name)] = j
		}
		return m
	}
	o, n := index(oldJobs), index(newJobs)

	var out []string
	for name, nj := range n {
		if oj, ok := o[name]; !ok || !reflect.DeepEqual(oj, nj) {
			out = append(out, name)
		}
	}
	for name := range o {
		if _, ok := n[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
