package config

// Config is the timerd daemon configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Metrics   *MetricsConfig  `json:"metrics,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Systemd   SystemdConfig   `json:"systemd"`
	Jobs      []JobConfig     `json:"jobs"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the timer core.
//
// Defaults (when fields are omitted/zero):
//   - mode: "detached"
//   - start_timeout: "2s"
//   - cancel_warn_per_sec: 1 (use a negative value to silence cancel warnings)
//   - timezone: local time (IANA name, e.g. "Asia/Jakarta"; used by cron jobs)
type SchedulerConfig struct {
	Mode             string  `json:"mode"`
	StartTimeout     string  `json:"start_timeout,omitempty"`
	CancelWarnPerSec float64 `json:"cancel_warn_per_sec,omitempty"`
	Timezone         string  `json:"timezone,omitempty"`
}

// MetricsConfig controls the Prometheus HTTP endpoint.
//
// Prefer binding to localhost (e.g. "127.0.0.1:9108").
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Addr      string `json:"addr,omitempty"`      // default: "127.0.0.1:9108"
	Path      string `json:"path,omitempty"`      // default: "/metrics"
	Namespace string `json:"namespace,omitempty"` // default: "timerd"
	// Pprof mounts net/http/pprof on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}

// StorageConfig controls the optional run history.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/timerd.db", "keep": 1000 }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Keep        int    `json:"keep,omitempty"`         // default: 1000
}

type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog"`
}

// JobConfig declares one scheduled job.
//
// Schedule accepts a cron expression, a Go duration ("10s", "every:1m") or an
// "HH:MM" interval. Times limits the job to a fixed number of runs.
type JobConfig struct {
	Name     string   `json:"name"`
	Schedule string   `json:"schedule"`
	Times    int      `json:"times,omitempty"`
	Action   string   `json:"action"`
	Message  string   `json:"message,omitempty"`
	Command  []string `json:"command,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`
	Disabled bool     `json:"disabled,omitempty"`
}

const (
	ActionLog  = "log"
	ActionExec = "exec"
)
