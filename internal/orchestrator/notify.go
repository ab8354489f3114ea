package orchestrator

import (
	"github.com/coreos/go-systemd/v22/daemon"

	"switchboard/pkg/logging"
)

const (
	notifyReady    = daemon.SdNotifyReady
	notifyStopping = daemon.SdNotifyStopping
)

// sdNotify tells systemd about state changes. It is a no-op outside systemd.
func sdNotify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logging.Warn("Orchestrator", "Failed to notify systemd (%s): %v", state, err)
		return
	}
	if sent {
		logging.Debug("Orchestrator", "Notified systemd: %s", state)
	}
}
