// Package systemd sends sd_notify state updates and reports the service
// watchdog interval. Outside systemd every call is a silent no-op.
package systemd

import (
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "timerd/pkg/logx"
)

// Notifier wraps daemon.SdNotify. The zero value is unusable; use New.
type Notifier struct {
	log logx.Logger

	// notify and watchdog are swapped in tests.
	notify   func(unsetEnv bool, state string) (bool, error)
	watchdog func(unsetEnv bool) (time.Duration, error)

	warnOnce sync.Once
}

// New returns a Notifier bound to $NOTIFY_SOCKET.
func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		log:      log.With(logx.String("comp", "systemd")),
		notify:   daemon.SdNotify,
		watchdog: daemon.SdWatchdogEnabled,
	}
}

// Ready reports READY=1 along with a human readable status line.
func (n *Notifier) Ready(status string) (bool, error) {
	return n.send(daemon.SdNotifyReady, status)
}

// Reloading reports RELOADING=1 while a new config is being applied.
func (n *Notifier) Reloading() (bool, error) {
	return n.send(daemon.SdNotifyReloading, "")
}

// Stopping reports STOPPING=1.
func (n *Notifier) Stopping() (bool, error) {
	return n.send(daemon.SdNotifyStopping, "")
}

// Status updates the STATUS= line without changing state.
func (n *Notifier) Status(status string) (bool, error) {
	return n.send("", status)
}

// Watchdog pings the service manager watchdog.
func (n *Notifier) Watchdog() (bool, error) {
	return n.send(daemon.SdNotifyWatchdog, "")
}

// WatchdogInterval returns the configured WatchdogSec, or 0 when the watchdog
// is not enabled for this process.
func (n *Notifier) WatchdogInterval() (time.Duration, error) {
	d, err := n.watchdog(false)
	if err != nil {
		return 0, fmt.Errorf("systemd watchdog: %w", err)
	}
	return d, nil
}

// KeepaliveEvery is the ping period for a watchdog interval: half of it, as
// sd_watchdog_enabled(3) recommends.
func KeepaliveEvery(interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	return interval / 2
}

func (n *Notifier) send(state, status string) (bool, error) {
	msg := state
	if status != "" {
		if msg != "" {
			msg += "\n"
		}
		msg += "STATUS=" + status
	}
	if msg == "" {
		return false, nil
	}
	ok, err := n.notify(false, msg)
	if err != nil {
		n.warnOnce.Do(func() {
			n.log.Warn("sd_notify failed", logx.Err(err))
		})
		return false, fmt.Errorf("systemd notify: %w", err)
	}
	if ok && state != daemon.SdNotifyWatchdog {
		n.log.Debug("sd_notify sent", logx.String("state", msg))
	}
	return ok, nil
}
