package jobs

import (
	"context"
	"errors"
	"fmt"

	"timerd/internal/config"
)

// FromConfig converts configured jobs, skipping disabled ones.
func FromConfig(in []config.JobConfig) ([]Def, error) {
	out := make([]Def, 0, len(in))
	var errs []error
	for i, j := range in {
		if j.Disabled {
			continue
		}
		timeout, err := config.ParseDurationField(fmt.Sprintf("jobs[%d].timeout", i), j.Timeout)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if j.Times < 0 || j.Times > 0xFFFF {
			errs = append(errs, fmt.Errorf("jobs[%d].times: out of range", i))
			continue
		}
		out = append(out, Def{
			Name:     j.Name,
			Schedule: j.Schedule,
			Times:    uint16(j.Times),
			Action:   j.Action,
			Message:  j.Message,
			Command:  append([]string(nil), j.Command...),
			Timeout:  timeout,
		})
	}
	return out, errors.Join(errs...)
}

// ValidateConfig checks every job of cfg, including cron syntax. It has the
// signature of a config.Manager validator.
func ValidateConfig(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	defs, err := FromConfig(cfg.Jobs)
	if err != nil {
		return err
	}
	var errs []error
	for _, d := range defs {
		if err := Check(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
