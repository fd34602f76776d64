package systemd

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "timerd/pkg/logx"
)

func TestNotifierWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	n := New(logx.Nop())
	ok, err := n.Ready("scheduler running")
	if err != nil || ok {
		t.Fatalf("Ready() = %v, %v; want false, nil", ok, err)
	}
	d, err := n.WatchdogInterval()
	if err != nil || d != 0 {
		t.Fatalf("WatchdogInterval() = %v, %v; want 0, nil", d, err)
	}
}

func TestNotifierMessages(t *testing.T) {
	var got []string
	n := New(logx.Logger{})
	n.notify = func(_ bool, state string) (bool, error) {
		got = append(got, state)
		return true, nil
	}

	_, _ = n.Ready("3 jobs")
	_, _ = n.Reloading()
	_, _ = n.Watchdog()
	_, _ = n.Status("draining")
	_, _ = n.Stopping()

	want := []string{
		daemon.SdNotifyReady + "\nSTATUS=3 jobs",
		daemon.SdNotifyReloading,
		daemon.SdNotifyWatchdog,
		"STATUS=draining",
		daemon.SdNotifyStopping,
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("messages = %q, want %q", got, want)
	}
}

func TestNotifierError(t *testing.T) {
	n := New(logx.Nop())
	boom := errors.New("socket gone")
	n.notify = func(bool, string) (bool, error) { return false, boom }
	if ok, err := n.Watchdog(); ok || !errors.Is(err, boom) {
		t.Fatalf("Watchdog() = %v, %v; want false, %v", ok, err, boom)
	}
	if ok, err := n.Status("x"); ok || !errors.Is(err, boom) {
		t.Fatalf("Status() = %v, %v; want false, %v", ok, err, boom)
	}
}

func TestWatchdogInterval(t *testing.T) {
	n := New(logx.Nop())
	n.watchdog = func(bool) (time.Duration, error) { return 30 * time.Second, nil }
	d, err := n.WatchdogInterval()
	if err != nil || d != 30*time.Second {
		t.Fatalf("WatchdogInterval() = %v, %v", d, err)
	}
	if got := KeepaliveEvery(d); got != 15*time.Second {
		t.Fatalf("KeepaliveEvery = %v", got)
	}
	if got := KeepaliveEvery(0); got != 0 {
		t.Fatalf("KeepaliveEvery(0) = %v", got)
	}
}
