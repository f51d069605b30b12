package dispatch

import (
	"time"

	"sentinel/internal/logging"
)

// Urgency levels follow the Desktop Notifications specification.
type Urgency byte

const (
	UrgencyLow      Urgency = 0
	UrgencyNormal   Urgency = 1
	UrgencyCritical Urgency = 2
)

// AutoDismiss is how long a notification stays on screen before the
// desktop may collapse it.
const AutoDismiss = 5 * time.Second

// Notification is one user-facing security notice.
type Notification struct {
	Summary string
	Body    string
	Urgency Urgency
}

// Notifier shows a notification to the user.
type Notifier interface {
	Notify(Notification) error
}

// LogNotifier writes notifications to the log. It is the fallback when no
// desktop bus is reachable and the default on non-Linux builds.
type LogNotifier struct {
	log *logging.Logger
}

// NewLogNotifier creates a LogNotifier. log may be nil.
func NewLogNotifier(log *logging.Logger) *LogNotifier {
	if log == nil {
		log = logging.Default().WithComponent("notify")
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(note Notification) error {
	n.log.Info("user notification",
		"summary", note.Summary, "body", note.Body, "urgency", int(note.Urgency))
	return nil
}
