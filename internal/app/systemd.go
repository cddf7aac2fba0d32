package app

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"certnotify/pkg/logx"
)

// sdNotifier reports service state to systemd. Outside a systemd unit
// (no NOTIFY_SOCKET) every call is a silent no-op.
type sdNotifier struct {
	notify func(unsetEnvironment bool, state string) (bool, error)
	log    logx.Logger
}

func newSDNotifier(log logx.Logger) sdNotifier {
	return sdNotifier{notify: daemon.SdNotify, log: log}
}

func (n sdNotifier) send(states ...string) {
	for _, st := range states {
		sent, err := n.notify(false, st)
		if err != nil {
			n.log.Debug("sd_notify failed", logx.String("state", st), logx.Err(err))
			continue
		}
		if sent {
			n.log.Trace("sd_notify", logx.String("state", st))
		}
	}
}

func status(text string) string { return "STATUS=" + text }

// watchdogInterval is half the unit's WatchdogSec, or 0 when the watchdog is
// off.
func watchdogInterval(enabled func(bool) (time.Duration, error)) time.Duration {
	d, err := enabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}
