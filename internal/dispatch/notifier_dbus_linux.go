//go:build linux

package dispatch

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"sentinel/internal/logging"
)

// DesktopNotifier shows notifications over the org.freedesktop.Notifications
// session bus interface.
type DesktopNotifier struct {
	conn *dbus.Conn
	log  *logging.Logger
}

// NewDesktopNotifier connects to the session bus. Headless machines have
// no session bus; callers should fall back to a LogNotifier on error.
func NewDesktopNotifier(log *logging.Logger) (*DesktopNotifier, error) {
	if log == nil {
		log = logging.Default().WithComponent("notify")
	}
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("session bus: %w", err)
	}
	return &DesktopNotifier{conn: conn, log: log}, nil
}

func (n *DesktopNotifier) Notify(note Notification) error {
	obj := n.conn.Object("org.freedesktop.Notifications", "/org/freedesktop/Notifications")
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(byte(note.Urgency)),
	}
	// Notify(app_name, replaces_id, app_icon, summary, body, actions,
	// hints, expire_timeout)
	call := obj.Call("org.freedesktop.Notifications.Notify", 0,
		"sentinel",
		uint32(0),
		"dialog-password",
		note.Summary,
		note.Body,
		[]string{},
		hints,
		int32(AutoDismiss.Milliseconds()),
	)
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}
	return nil
}

// Close releases the bus connection.
func (n *DesktopNotifier) Close() error {
	return n.conn.Close()
}
