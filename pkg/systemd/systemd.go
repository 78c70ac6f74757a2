// Package systemd reports service state to systemd over the notify socket.
// Every call is a no-op outside a Type=notify unit.
package systemd

import (
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notify sends state to the notify socket. sent is false when no socket is
// configured.
func Notify(state string) (sent bool, err error) {
	return daemon.SdNotify(false, state)
}

func Ready() (bool, error)    { return Notify(daemon.SdNotifyReady) }
func Stopping() (bool, error) { return Notify(daemon.SdNotifyStopping) }
func Reloading() (bool, error) {
	return Notify(daemon.SdNotifyReloading)
}

// Status sets the free-form status line shown by systemctl status.
func Status(format string, args ...any) (bool, error) {
	return Notify("STATUS=" + fmt.Sprintf(format, args...))
}
