package jobs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"timerd/internal/config"
	logx "timerd/pkg/logx"
)

const (
	// maxOutputTail bounds how much command output is kept in a run error.
	maxOutputTail = 512
	// execWaitDelay bounds how long a killed command's children may hold its output open.
	execWaitDelay = time.Second
)

// ActionFunc names the action of jobs that carry a Func.
const ActionFunc = "func"

// normalizeAction lowercases def.Action and fills in the default.
func normalizeAction(def Def) string {
	if def.Func != nil {
		return ActionFunc
	}
	a := strings.ToLower(strings.TrimSpace(def.Action))
	if a == "" {
		a = config.ActionLog
	}
	return a
}

func buildAction(def Def, log logx.Logger) (Action, error) {
	switch def.Action {
	case ActionFunc:
		return def.Func, nil
	case config.ActionLog:
		return LogAction(log, def.Name, def.Message), nil
	case config.ActionExec:
		if len(def.Command) == 0 || strings.TrimSpace(def.Command[0]) == "" {
			return nil, fmt.Errorf("job %q: exec action requires a command", def.Name)
		}
		return ExecAction(def.Command), nil
	default:
		return nil, fmt.Errorf("job %q: unknown action %q", def.Name, def.Action)
	}
}

// LogAction logs message at info level on every run.
func LogAction(log logx.Logger, job, message string) Action {
	if message == "" {
		message = "job fired"
	}
	return func(ctx context.Context) error {
		log.Info(message, logx.String("job", job))
		return nil
	}
}

// ExecAction runs argv without a shell. A non-zero exit is an error carrying
// the tail of the combined output.
func ExecAction(argv []string) Action {
	args := append([]string(nil), argv...)
	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		cmd.WaitDelay = execWaitDelay
		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			tail := strings.TrimSpace(out.String())
			if len(tail) > maxOutputTail {
				tail = "..." + tail[len(tail)-maxOutputTail:]
			}
			if tail != "" {
				return fmt.Errorf("%s: %w: %s", args[0], err, tail)
			}
			return fmt.Errorf("%s: %w", args[0], err)
		}
		return nil
	}
}
