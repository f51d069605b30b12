package dispatch

import (
	"testing"

	"sentinel/internal/behavior"
)

type recordedEffects struct {
	terminated []string
	reauths    []string
	restricted []string
	increased  []string
}

func (e *recordedEffects) TerminateSession(reason string) {
	e.terminated = append(e.terminated, reason)
}

func (e *recordedEffects) RequireReauth(reason string) {
	e.reauths = append(e.reauths, reason)
}

func (e *recordedEffects) RestrictAccess(reason string) {
	e.restricted = append(e.restricted, reason)
}

func (e *recordedEffects) IncreaseMonitoring(reason string) {
	e.increased = append(e.increased, reason)
}

type recordedNotifier struct {
	notes []Notification
}

func (n *recordedNotifier) Notify(note Notification) error {
	n.notes = append(n.notes, note)
	return nil
}

type recordedJournal struct {
	actions []behavior.Action
}

func (j *recordedJournal) RecordAction(action behavior.Action, reason string, score float64) error {
	j.actions = append(j.actions, action)
	return nil
}

func newTestDispatcher() (*Dispatcher, *recordedEffects, *recordedNotifier, *recordedJournal) {
	effects := &recordedEffects{}
	notifier := &recordedNotifier{}
	journal := &recordedJournal{}
	return New(effects, notifier, journal, nil), effects, notifier, journal
}

func TestTerminateSession(t *testing.T) {
	d, effects, notifier, journal := newTestDispatcher()
	d.Dispatch(behavior.ActionTerminateSession, Context{Reason: "critical trust", Score: 0.1})

	if len(effects.terminated) != 1 || effects.terminated[0] != "critical trust" {
		t.Errorf("terminated = %v", effects.terminated)
	}
	if len(notifier.notes) != 1 || notifier.notes[0].Urgency != UrgencyCritical {
		t.Errorf("notes = %+v, want one critical notification", notifier.notes)
	}
	if len(journal.actions) != 1 || journal.actions[0] != behavior.ActionTerminateSession {
		t.Errorf("journal = %v", journal.actions)
	}
}

func TestRequireReauth(t *testing.T) {
	d, effects, notifier, _ := newTestDispatcher()
	d.Dispatch(behavior.ActionRequireReauth, Context{Reason: "low trust"})

	if len(effects.reauths) != 1 {
		t.Error("reauth effect not invoked")
	}
	if len(notifier.notes) != 1 || notifier.notes[0].Urgency != UrgencyNormal {
		t.Errorf("reauth should post a warning-level note, got %+v", notifier.notes)
	}
}

func TestRestrictAndIncreaseMonitoring(t *testing.T) {
	d, effects, notifier, _ := newTestDispatcher()

	d.Dispatch(behavior.ActionRestrictAccess, Context{Reason: "anomaly"})
	if len(effects.restricted) != 1 {
		t.Error("restrict effect not invoked")
	}
	if len(notifier.notes) != 1 || notifier.notes[0].Urgency != UrgencyNormal {
		t.Errorf("restrict should post a normal-urgency note, got %+v", notifier.notes)
	}

	d.Dispatch(behavior.ActionIncreaseMonitoring, Context{Reason: "drift"})
	if len(effects.increased) != 1 {
		t.Error("increase-monitoring effect not invoked")
	}
	if len(notifier.notes) != 2 || notifier.notes[1].Urgency != UrgencyLow {
		t.Errorf("increase_monitoring should post an informational note, got %+v", notifier.notes)
	}
}

func TestLogOnlyAndNoActionTouchNothing(t *testing.T) {
	d, effects, notifier, journal := newTestDispatcher()

	d.Dispatch(behavior.ActionLogOnly, Context{Reason: "minor drift", Score: 0.55})
	d.Dispatch(behavior.ActionNoAction, Context{})

	if len(effects.terminated)+len(effects.reauths)+len(effects.restricted)+len(effects.increased) != 0 {
		t.Error("log_only/no_action must not trigger effects")
	}
	if len(notifier.notes) != 0 {
		t.Error("log_only/no_action must not notify")
	}
	// Both are still journaled for audit.
	if len(journal.actions) != 2 {
		t.Errorf("journal = %v, want both actions recorded", journal.actions)
	}
}

func TestUnknownActionIsLoggedNoOp(t *testing.T) {
	d, effects, notifier, journal := newTestDispatcher()
	d.Dispatch(behavior.Action("quarantine_workstation"), Context{Source: "trust_update"})

	if len(journal.actions) != 0 {
		t.Error("unknown action must not be journaled as executed")
	}
	if len(notifier.notes) != 0 || len(effects.terminated) != 0 {
		t.Error("unknown action must be a no-op")
	}
}

func TestEmptyActionIgnored(t *testing.T) {
	d, _, _, journal := newTestDispatcher()
	d.Dispatch("", Context{})
	if len(journal.actions) != 0 {
		t.Error("empty action must be ignored outright")
	}
}

func TestNilNotifierAndJournalTolerated(t *testing.T) {
	d := New(&recordedEffects{}, nil, nil, nil)
	d.Dispatch(behavior.ActionTerminateSession, Context{Reason: "x"})
}
