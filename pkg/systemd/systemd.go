// Package systemd reports service state to the systemd manager over
// NOTIFY_SOCKET. Every call is a no-op when the process is not run by
// systemd with Type=notify.
package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready tells systemd start-up is complete. The status line is shown by
// systemctl status.
func Ready(status string) (bool, error) {
	return notify(daemon.SdNotifyReady, status)
}

func Reloading(status string) (bool, error) {
	return notify(daemon.SdNotifyReloading, status)
}

func Stopping(status string) (bool, error) {
	return notify(daemon.SdNotifyStopping, status)
}

func Status(status string) (bool, error) {
	return notify("", status)
}

func notify(state, status string) (bool, error) {
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
	ok, err := daemon.SdNotify(false, msg)
	if err != nil {
		return false, fmt.Errorf("sd_notify: %w", err)
	}
	return ok, nil
}

// Watchdog pings the systemd watchdog at half of WatchdogSec until ctx is
// done. It returns immediately when the watchdog is not enabled.
func Watchdog(ctx context.Context) error {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return fmt.Errorf("sd_watchdog: %w", err)
	}
	if every <= 0 {
		return nil
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				return fmt.Errorf("sd_notify watchdog: %w", err)
			}
		}
	}
}
