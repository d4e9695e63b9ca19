// Package systemd reports supervisor lifecycle to the service manager over
// the sd_notify protocol. Every call is a no-op outside a Type=notify unit.
package systemd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/smazurov/spagmon/internal/logging"
)

// Notifier sends state changes to systemd.
type Notifier struct {
	logger *slog.Logger
}

// NewNotifier creates a notifier.
func NewNotifier() *Notifier {
	return &Notifier{logger: logging.GetLogger("systemd")}
}

// Ready reports that startup finished.
func (n *Notifier) Ready(jobs int) {
	n.send(sddaemon.SdNotifyReady, fmt.Sprintf("STATUS=Supervising %d jobs", jobs))
}

// Reloading reports that the jobs file is being re-applied. Ready must
// follow once the reload is done.
func (n *Notifier) Reloading() {
	n.send(sddaemon.SdNotifyReloading)
}

// Stopping reports that shutdown began.
func (n *Notifier) Stopping() {
	n.send(sddaemon.SdNotifyStopping, "STATUS=Stopping processes")
}

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(format string, args ...any) {
	n.send("STATUS=" + fmt.Sprintf(format, args...))
}

// Watchdog pings the watchdog at half its configured interval until ctx is
// done. It returns immediately when the unit has no WatchdogSec.
func (n *Notifier) Watchdog(ctx context.Context, alive func() bool) {
	interval, err := sddaemon.SdWatchdogEnabled(false)
	if err != nil {
		n.logger.Warn("Failed to read watchdog settings", "error", err)
		return
	}
	if interval == 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	n.logger.Debug("Watchdog enabled", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if alive != nil && !alive() {
				n.logger.Warn("Supervisor loop unresponsive, skipping watchdog ping")
				continue
			}
			n.send(sddaemon.SdNotifyWatchdog)
		}
	}
}

func (n *Notifier) send(states ...string) {
	state := strings.Join(states, "\n")
	sent, err := sddaemon.SdNotify(false, state)
	if err != nil {
		n.logger.Warn("Failed to notify systemd", "error", err)
		return
	}
	if sent {
		n.logger.Debug("Notified systemd", "state", state)
	}
}
