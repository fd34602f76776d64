package config

import (
	"errors"
	"fmt"
	"strings"

	"timerd/internal/timer"
)

// Validate checks the structural rules of a config. Schedule expressions are
// checked by the jobs package through the manager's validator hook.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if _, err := timer.ParseMode(cfg.Scheduler.Mode); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.mode: %w", err))
	}
	if _, err := ParseDurationField("scheduler.start_timeout", cfg.Scheduler.StartTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Scheduler.Location(); err != nil {
		errs = append(errs, err)
	}

	if m := cfg.Metrics; m != nil && m.Enabled {
		r := m.Resolved()
		if strings.Contains(r.Namespace, "-") || strings.Contains(r.Namespace, " ") {
			errs = append(errs, fmt.Errorf("metrics.namespace: %q is not a valid metric prefix", r.Namespace))
		}
	}

	if s := cfg.Storage; s != nil {
		r := s.Resolved()
		switch r.Driver {
		case "none":
		case "file", "sqlite":
			if strings.TrimSpace(r.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path: required for driver %q", r.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q (want none, file or sqlite)", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	seen := make(map[string]int, len(cfg.Jobs))
	for i, j := range cfg.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		name := strings.TrimSpace(j.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", path))
		} else if prev, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("%s.name: %q already used by jobs[%d]", path, name, prev))
		} else {
			seen[name] = i
		}
		if strings.TrimSpace(j.Schedule) == "" {
			errs = append(errs, fmt.Errorf("%s.schedule: required", path))
		}
		if j.Times < 0 || j.Times > 65535 {
			errs = append(errs, fmt.Errorf("%s.times: must be within 0..65535", path))
		}
		switch strings.ToLower(strings.TrimSpace(j.Action)) {
		case "", ActionLog:
		case ActionExec:
			if len(j.Command) == 0 || strings.TrimSpace(j.Command[0]) == "" {
				errs = append(errs, fmt.Errorf("%s.command: required for action exec", path))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.action: unknown action %q (want log or exec)", path, j.Action))
		}
		if _, err := ParseDurationField(path+".timeout", j.Timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
