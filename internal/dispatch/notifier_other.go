//go:build !linux

package dispatch

import (
	"errors"

	"sentinel/internal/logging"
)

// DesktopNotifier requires a D-Bus session and is only implemented on
// Linux. Other platforms fall back to the LogNotifier.
type DesktopNotifier struct{}

func NewDesktopNotifier(log *logging.Logger) (*DesktopNotifier, error) {
	return nil, errors.New("dispatch: desktop notifications not supported on this platform")
}

func (n *DesktopNotifier) Notify(note Notification) error { return nil }

func (n *DesktopNotifier) Close() error { return nil }
