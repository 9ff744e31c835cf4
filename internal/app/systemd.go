package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "taskboard/pkg/logx"
)

// notifyReady tells systemd (Type=notify units) the bot is serving. Outside
// systemd it is a no-op.
func notifyReady(log logx.Logger) {
	sdNotify(log, daemon.SdNotifyReady)
}

func notifyStopping(log logx.Logger) {
	sdNotify(log, daemon.SdNotifyStopping)
}

func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("systemd notified", logx.String("state", state))
	}
}
