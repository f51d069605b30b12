// Package dispatch executes server-recommended security actions. The
// server decides what should happen; this package decides how it happens
// on this machine, records it in the audit journal, and tells the user.
package dispatch

import (
	"sentinel/internal/behavior"
	"sentinel/internal/logging"
	"sentinel/internal/metrics"
)

// Effects are the engine-level consequences of security actions. The
// engine implements them so the dispatcher stays free of wiring knowledge.
type Effects interface {
	// TerminateSession ends the session: collection stops and the
	// credentials are wiped after a short user-visible grace.
	TerminateSession(reason string)

	// RequireReauth directs the user back through authentication.
	// Credentials stay cached; only a collector rejection clears them.
	RequireReauth(reason string)

	// RestrictAccess marks the session as restricted pending
	// verification.
	RestrictAccess(reason string)

	// IncreaseMonitoring tightens telemetry cadence for this session.
	IncreaseMonitoring(reason string)
}

// Journal records dispatched actions for audit. *journal.Journal
// implements it.
type Journal interface {
	RecordAction(action behavior.Action, reason string, score float64) error
}

// Context carries why an action arrived.
type Context struct {
	Reason string
	Score  float64
	Source string // "trust_update", "security_alert", "poll"
}

// Dispatcher routes actions to their effects. Unknown actions are logged
// no-ops: a newer server must be able to introduce actions without
// breaking older clients.
type Dispatcher struct {
	effects  Effects
	notifier Notifier
	journal  Journal
	log      *logging.Logger
}

// New creates a Dispatcher. notifier and journal may be nil; effects must
// not be. log may be nil.
func New(effects Effects, notifier Notifier, journal Journal, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Default().WithComponent("dispatch")
	}
	return &Dispatcher{
		effects:  effects,
		notifier: notifier,
		journal:  journal,
		log:      log,
	}
}

// Dispatch executes one action.
func (d *Dispatcher) Dispatch(action behavior.Action, ctx Context) {
	if action == "" {
		return
	}
	if !action.Known() {
		d.log.Warn("unknown security action ignored",
			"action", string(action), "source", ctx.Source)
		return
	}

	metrics.ActionsDispatched.WithLabelValues(string(action)).Inc()
	d.record(action, ctx)

	switch action {
	case behavior.ActionTerminateSession:
		d.notify(Notification{
			Summary: "Session terminated",
			Body:    "Behavioral verification failed. Your session has been ended.",
			Urgency: UrgencyCritical,
		})
		d.effects.TerminateSession(ctx.Reason)

	case behavior.ActionRequireReauth:
		d.notify(Notification{
			Summary: "Re-authentication required",
			Body:    "Please verify your identity to continue.",
			Urgency: UrgencyNormal,
		})
		d.effects.RequireReauth(ctx.Reason)

	case behavior.ActionRestrictAccess:
		d.notify(Notification{
			Summary: "Access restricted",
			Body:    "Sensitive operations are temporarily limited.",
			Urgency: UrgencyNormal,
		})
		d.effects.RestrictAccess(ctx.Reason)

	case behavior.ActionIncreaseMonitoring:
		d.notify(Notification{
			Summary: "Monitoring increased",
			Body:    "Behavioral checks are running more frequently.",
			Urgency: UrgencyLow,
		})
		d.effects.IncreaseMonitoring(ctx.Reason)
		d.log.Info("monitoring increased", "reason", ctx.Reason)

	case behavior.ActionLogOnly:
		d.log.Info("security event logged",
			"reason", ctx.Reason, "score", ctx.Score, "source", ctx.Source)

	case behavior.ActionNoAction:
		// Recorded above; nothing else to do.
	}
}

func (d *Dispatcher) notify(n Notification) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Notify(n); err != nil {
		d.log.Warn("notification failed", "summary", n.Summary, "error", err)
	}
}

func (d *Dispatcher) record(action behavior.Action, ctx Context) {
	if d.journal == nil {
		return
	}
	if err := d.journal.RecordAction(action, ctx.Reason, ctx.Score); err != nil {
		d.log.Warn("journal write failed", "action", string(action), "error", err)
	}
}
