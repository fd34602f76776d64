package app

import (
	"time"

	"timerd/internal/config"
	metrics "timerd/internal/observability/prometheus"
	"timerd/internal/storage"
	logx "timerd/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage.Resolved()
	if sc.Driver == "none" {
		return storage.Config{}, false, nil
	}
	busy := time.Duration(0)
	if sc.Driver == "sqlite" {
		var err error
		busy, err = config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, config.DefaultBusyTimeout)
		if err != nil {
			return storage.Config{}, false, err
		}
	}
	return storage.Config{Driver: sc.Driver, Path: sc.Path, BusyTimeout: busy, Keep: sc.Keep}, true, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	path := cfg.Logging.File.Path
	if path == "" {
		path = config.DefaultLogPath
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    path,
		},
	}
}

func mapMetricsConfig(cfg *config.Config) metrics.ServerConfig {
	m := cfg.Metrics.Resolved()
	return metrics.ServerConfig{
		Enabled:     m.Enabled,
		Addr:        m.Addr,
		Path:        m.Path,
		Pprof:       m.Pprof,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: time.Minute,
	}
}
