package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultStartTimeout   = 2 * time.Second
	DefaultCancelWarnRate = 1.0
	DefaultMetricsAddr    = "127.0.0.1:9108"
	DefaultMetricsPath    = "/metrics"
	DefaultNamespace      = "timerd"
	DefaultStorageKeep    = 1000
	DefaultBusyTimeout    = 2 * time.Second
	DefaultLogPath        = "./timerd.log"
)

// StartTimeoutOrDefault resolves scheduler.start_timeout. Invalid values were rejected
// by Validate, so errors fall back to the default.
func (s SchedulerConfig) StartTimeoutOrDefault() time.Duration {
	d, err := ParseDurationOrDefault("scheduler.start_timeout", s.StartTimeout, DefaultStartTimeout)
	if err != nil {
		return DefaultStartTimeout
	}
	return d
}

// Location resolves scheduler.timezone; empty means time.Local.
func (s SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

// CancelWarnRate resolves cancel_warn_per_sec: zero means default, negative disables.
func (s SchedulerConfig) CancelWarnRate() float64 {
	switch {
	case s.CancelWarnPerSec == 0:
		return DefaultCancelWarnRate
	case s.CancelWarnPerSec < 0:
		return 0
	default:
		return s.CancelWarnPerSec
	}
}

// Resolved returns a copy with defaults filled in. A nil receiver is disabled.
func (m *MetricsConfig) Resolved() MetricsConfig {
	if m == nil {
		return MetricsConfig{Addr: DefaultMetricsAddr, Path: DefaultMetricsPath, Namespace: DefaultNamespace}
	}
	out := *m
	if strings.TrimSpace(out.Addr) == "" {
		out.Addr = DefaultMetricsAddr
	}
	if strings.TrimSpace(out.Path) == "" {
		out.Path = DefaultMetricsPath
	}
	if !strings.HasPrefix(out.Path, "/") {
		out.Path = "/" + out.Path
	}
	if strings.TrimSpace(out.Namespace) == "" {
		out.Namespace = DefaultNamespace
	}
	return out
}

// Resolved returns a copy with defaults filled in. A nil receiver means driver "none".
func (s *StorageConfig) Resolved() StorageConfig {
	if s == nil {
		return StorageConfig{Driver: "none", Keep: DefaultStorageKeep}
	}
	out := *s
	out.Driver = strings.ToLower(strings.TrimSpace(out.Driver))
	if out.Driver == "" {
		out.Driver = "none"
	}
	if out.Keep <= 0 {
		out.Keep = DefaultStorageKeep
	}
	return out
}

// TimeoutOrZero resolves the exec timeout; zero means no timeout.
func (j JobConfig) TimeoutOrZero() time.Duration {
	d, _ := ParseDurationField("jobs.timeout", j.Timeout)
	return d
}
