package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"timerd/internal/app"
	"timerd/internal/config"
	"timerd/internal/jobs"
)

const shutdownTimeout = 10 * time.Second

var configFlag = cli.StringFlag{
	Name:  "config, c",
	Value: "./timerd.yaml",
	Usage: "path to the JSON or YAML config file",
}

func newCLI(out io.Writer) *cli.App {
	a := cli.NewApp()
	a.Name = "timerd"
	a.HelpName = "timerd"
	a.Usage = "run delayed and recurring jobs"
	a.UsageText = "timerd <command> [arguments...]"
	a.Version = version
	a.Writer = out
	a.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "start the scheduler and block until SIGINT/SIGTERM",
			Flags:  []cli.Flag{configFlag},
			Action: run,
		},
		{
			Name:   "validate",
			Usage:  "check a config file and exit",
			Flags:  []cli.Flag{configFlag},
			Action: validate,
		},
		{
			Name:  "next",
			Usage: "print the upcoming run times of every job",
			Flags: []cli.Flag{
				configFlag,
				cli.IntFlag{Name: "count, n", Value: 3, Usage: "runs to show per job"},
			},
			Action: next,
		},
	}
	return a
}

func run(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(c.String("config"))
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	stopErr := a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		return errors.Join(a.Err(), stopErr)
	}
	return stopErr
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.NewManager(path).Parse()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if err := jobs.ValidateConfig(context.Background(), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(c *cli.Context) error {
	path := c.String("config")
	cfg, err := loadConfig(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	mode := cfg.Scheduler.Mode
	if mode == "" {
		mode = "detached"
	}
	fmt.Fprintf(c.App.Writer, "%s: ok (%d jobs, mode %s)\n", path, len(cfg.Jobs), mode)
	return nil
}

func next(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return err
	}
	defs, err := jobs.FromConfig(cfg.Jobs)
	if err != nil {
		return err
	}

	now := time.Now().In(loc)
	tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSCHEDULE\tNEXT")
	for _, d := range defs {
		times, err := jobs.Preview(d, now, c.Int("count"), loc)
		if err != nil {
			return err
		}
		if len(times) == 0 {
			fmt.Fprintf(tw, "%s\t%s\t-\n", d.Name, d.Schedule)
			continue
		}
		for i, at := range times {
			name, sched := d.Name, d.Schedule
			if i > 0 {
				name, sched = "", ""
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", name, sched, at.In(loc).Format(time.RFC3339))
		}
	}
	return tw.Flush()
}
