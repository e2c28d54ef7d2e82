// Package systemd reports service state to the systemd manager via sd_notify.
// Every call is a no-op when the process is not started by systemd.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready tells systemd that startup finished. It reports whether the
// notification was delivered.
func Ready() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyReady)
}

// Stopping tells systemd that shutdown began.
func Stopping() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// Status publishes a free-form status line (systemctl status).
func Status(msg string) (bool, error) {
	return daemon.SdNotify(false, "STATUS="+msg)
}

// Watchdog pings the systemd watchdog at half the configured interval until
// ctx is done. healthy gates each ping so a wedged dependency lets systemd
// restart the unit. It returns immediately when no watchdog is configured.
func Watchdog(ctx context.Context, healthy func(context.Context) bool) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return err
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if healthy != nil && !healthy(ctx) {
				continue
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
