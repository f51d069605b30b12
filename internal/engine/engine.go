// Package engine assembles the sentinel components into the running
// daemon: capture feeds the telemetry buffers, the shipper drains them
// to the collector, the trust monitor and live channel feed the action
// dispatcher, and the session manager anchors all of it to one
// authenticated identity.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sentinel/internal/apiclient"
	"sentinel/internal/behavior"
	"sentinel/internal/capture"
	"sentinel/internal/config"
	"sentinel/internal/dispatch"
	"sentinel/internal/journal"
	"sentinel/internal/livechannel"
	"sentinel/internal/logging"
	"sentinel/internal/security"
	"sentinel/internal/session"
	"sentinel/internal/telemetry"
	"sentinel/internal/trust"
)

// tightenFactor divides the flush and poll cadences when monitoring is
// increased. Floor of one second keeps the collector load sane.
const (
	tightenFactor   = 2
	minTightenedGap = time.Second
)

// terminationGrace is how long a terminated session survives after the
// notice, so the user sees why they are being signed out. Rebinding
// within the grace cancels the wipe.
const terminationGrace = 5 * time.Second

var (
	ErrNotRunning = errors.New("engine: not running")
	ErrRestricted = errors.New("engine: access restricted, collection refused")
	ErrNoSession  = errors.New("engine: no session bound")
)

// tokenValidator rejects malformed session tokens arriving over the
// control socket before they reach the credential cache.
var tokenValidator = &security.InputValidator{
	MaxLength:   4096,
	RequireUTF8: true,
}

// Deps are the constructed components the engine wires together.
// Journal and Notifier may be nil.
type Deps struct {
	Config    *config.Config
	Log       *logging.Logger
	Session   *session.Manager
	API       *apiclient.Client
	Buffers   *telemetry.Buffers
	Shipper   *telemetry.Shipper
	Collector *capture.Collector
	Monitor   *trust.Monitor
	Channel   *livechannel.Channel
	KeepAlive *session.KeepAlive
	Journal   *journal.Journal
	Notifier  dispatch.Notifier
}

// Engine owns component lifecycles and implements the graduated
// security effects the dispatcher invokes.
type Engine struct {
	cfg       *config.Config
	log       *logging.Logger
	session   *session.Manager
	api       *apiclient.Client
	buffers   *telemetry.Buffers
	shipper   *telemetry.Shipper
	collector *capture.Collector
	monitor   *trust.Monitor
	channel   *livechannel.Channel
	keepAlive *session.KeepAlive
	journal   *journal.Journal

	dispatcher *dispatch.Dispatcher

	restricted atomic.Bool
	tightened  atomic.Bool

	terminateGrace time.Duration
	termMu         sync.Mutex
	termTimer      *time.Timer

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	startedAt time.Time

	shutdownFn func()
}

// New wires the components together. The engine registers itself as the
// dispatcher's effects and connects every cross-component callback, so
// callers only construct the parts and hand them over.
func New(deps Deps) *Engine {
	log := deps.Log
	if log == nil {
		log = logging.Default()
	}

	e := &Engine{
		cfg:            deps.Config,
		terminateGrace: terminationGrace,
		log:            log.WithComponent("engine"),
		session:        deps.Session,
		api:            deps.API,
		buffers:        deps.Buffers,
		shipper:        deps.Shipper,
		collector:      deps.Collector,
		monitor:        deps.Monitor,
		channel:        deps.Channel,
		keepAlive:      deps.KeepAlive,
		journal:        deps.Journal,
	}

	var j dispatch.Journal
	if deps.Journal != nil {
		j = deps.Journal
	}
	e.dispatcher = dispatch.New(e, deps.Notifier, j, log)

	// A 401 means the collector no longer honors the token. The client
	// already wiped the credential; escalate through the dispatcher so
	// the re-auth path is journaled and surfaced like any other action.
	e.api.OnUnauthorized(func() {
		e.dispatcher.Dispatch(behavior.ActionRequireReauth, dispatch.Context{
			Reason: "collector rejected session token",
			Source: "apiclient",
		})
	})

	// Clearing or rebinding the session invalidates everything captured
	// under the old identity.
	e.session.OnClear(func() {
		e.collector.StopCollection()
		e.channel.Disconnect()
		e.buffers.Reset()
	})

	e.channel.OnTrustUpdate(e.monitor.Ingest)
	e.channel.OnSecurityAlert(func(alert livechannel.Alert) {
		if alert.Action == "" {
			e.log.Warn("security alert without action",
				"severity", alert.Severity, "message", alert.Message)
			return
		}
		e.dispatcher.Dispatch(alert.Action, dispatch.Context{
			Reason: alert.Message,
			Source: "live",
		})
	})
	e.channel.OnAnomaly(func(an livechannel.Anomaly) {
		e.log.Warn("behavioral anomaly reported",
			"modality", an.Modality, "severity", an.Severity, "details", an.Details)
	})

	e.monitor.OnUpdate(func(s behavior.TrustSnapshot) {
		e.log.Debug("trust updated", "score", s.Score, "level", s.Level.String())
	})
	e.monitor.OnChange(func(prev, cur behavior.TrustSnapshot) {
		e.log.Info("trust level changed",
			"from", prev.Level.String(), "to", cur.Level.String(), "score", cur.Score)
		if e.journal != nil {
			if err := e.journal.RecordTransition(prev, cur); err != nil {
				e.log.Error("journal transition failed", "error", err)
			}
		}
	})
	e.monitor.OnLowTrust(func(s behavior.TrustSnapshot) {
		action := s.RecommendedAction
		if action == "" || action == behavior.ActionNoAction {
			e.log.Warn("low trust without actionable recommendation",
				"level", s.Level.String(), "score", s.Score)
			return
		}
		e.dispatcher.Dispatch(action, dispatch.Context{
			Reason: "trust level " + s.Level.String(),
			Score:  s.Score,
			Source: "trust",
		})
	})

	return e
}

// SetShutdownFunc registers the function invoked when a shutdown is
// requested over the control socket.
func (e *Engine) SetShutdownFunc(fn func()) {
	e.shutdownFn = fn
}

// Start brings the background components up. Idempotent.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.startedAt = time.Now()

	if e.session.Restore() {
		e.log.Info("restored cached session")
	}

	e.shipper.Start(runCtx)
	e.keepAlive.Start(runCtx)
	e.monitor.StartMonitoring(runCtx)

	if _, bound := e.session.Token(); bound {
		if e.cfg.Live.Enabled {
			if err := e.channel.Connect(runCtx); err != nil {
				e.log.Warn("live channel connect failed", "error", err)
			}
		}
		if e.cfg.Capture.Enabled && e.cfg.Capture.AutoStart {
			if err := e.collector.StartCollection(runCtx); err != nil {
				e.log.Warn("collection autostart failed", "error", err)
			}
		}
	}

	e.log.Info("engine started")
	return nil
}

// Stop tears the components down in dependency order and flushes what
// remains in the buffers. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	// A wipe that was riding out its grace must not survive shutdown.
	if e.cancelTermination() {
		e.session.Clear()
	}

	e.collector.StopCollection()
	e.channel.Close()
	e.monitor.StopMonitoring()
	e.keepAlive.Stop()
	e.shipper.Stop()
	cancel()

	e.log.Info("engine stopped")
}

// Running reports whether Start has been called without a matching Stop.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// StartedAt returns when the engine started.
func (e *Engine) StartedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startedAt
}

// BindSession binds a fresh session token, connects the live channel,
// and optionally autostarts collection. Binding lifts a restriction:
// the user has re-proven their identity.
func (e *Engine) BindSession(ctx context.Context, token string) error {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	if err := tokenValidator.Validate(token); err != nil {
		return fmt.Errorf("engine: invalid session token: %w", err)
	}

	e.cancelTermination()
	e.session.Bind(token)
	e.restricted.Store(false)
	e.resetCadence()

	if e.cfg.Live.Enabled {
		if err := e.channel.Connect(ctx); err != nil {
			e.log.Warn("live channel connect failed", "error", err)
		}
	}
	if e.cfg.Capture.Enabled && e.cfg.Capture.AutoStart {
		if err := e.collector.StartCollection(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ClearSession drops the session and everything attached to it.
func (e *Engine) ClearSession() {
	e.session.Clear()
}

// StartCollection begins behavioral capture for the bound session.
func (e *Engine) StartCollection(ctx context.Context) error {
	if !e.cfg.Capture.Enabled {
		return errors.New("engine: capture disabled by configuration")
	}
	if e.restricted.Load() {
		return ErrRestricted
	}
	if _, bound := e.session.Token(); !bound {
		return ErrNoSession
	}
	return e.collector.StartCollection(ctx)
}

// StopCollection halts capture and flushes buffered events.
func (e *Engine) StopCollection(ctx context.Context) {
	e.collector.StopCollection()
	e.shipper.FlushKeystrokes(ctx)
	e.shipper.FlushPointer(ctx)
}

// Collecting reports whether capture is running.
func (e *Engine) Collecting() bool {
	return e.collector.Running()
}

// Restricted reports whether restrict_access is in force.
func (e *Engine) Restricted() bool {
	return e.restricted.Load()
}

// =====================================================================
// dispatch.Effects
// =====================================================================

// TerminateSession ends the session. Capture stops at once, but the
// credential wipe waits out the grace so the user sees the notice
// before being signed out. A rebind inside the grace cancels the wipe.
func (e *Engine) TerminateSession(reason string) {
	e.log.Warn("terminating session", "reason", reason, "grace", e.terminateGrace)
	e.collector.StopCollection()

	e.termMu.Lock()
	defer e.termMu.Unlock()
	if e.termTimer != nil {
		return // wipe already pending
	}
	e.termTimer = time.AfterFunc(e.terminateGrace, func() {
		e.termMu.Lock()
		e.termTimer = nil
		e.termMu.Unlock()
		e.session.Clear()
	})
}

// cancelTermination stops a pending credential wipe. Returns whether
// one was pending.
func (e *Engine) cancelTermination() bool {
	e.termMu.Lock()
	defer e.termMu.Unlock()
	if e.termTimer == nil {
		return false
	}
	e.termTimer.Stop()
	e.termTimer = nil
	return true
}

// RequireReauth surfaces the demand for a fresh login. The cached
// credential stays put: the server keeps honoring it until the user
// re-authenticates, and only a collector 401 proves it is dead.
func (e *Engine) RequireReauth(reason string) {
	e.log.Warn("requiring re-authentication", "reason", reason)
}

// RestrictAccess blocks new capture until the session is rebound. The
// current session stays alive so the server can keep scoring it.
func (e *Engine) RestrictAccess(reason string) {
	e.log.Warn("restricting access", "reason", reason)
	e.restricted.Store(true)
	e.collector.StopCollection()
}

// IncreaseMonitoring tightens the flush and poll cadences so the server
// sees behavior sooner.
func (e *Engine) IncreaseMonitoring(reason string) {
	if !e.tightened.CompareAndSwap(false, true) {
		return
	}
	keystroke := tighten(e.cfg.KeystrokeInterval())
	pointer := tighten(e.cfg.PointerInterval())
	poll := tighten(e.cfg.PollInterval())

	e.log.Info("increasing monitoring cadence", "reason", reason,
		"keystroke_interval", keystroke, "pointer_interval", pointer, "poll_interval", poll)

	e.shipper.SetIntervals(keystroke, pointer)
	e.monitor.SetPollInterval(poll)
}

// resetCadence restores the configured cadences after a rebind.
func (e *Engine) resetCadence() {
	if !e.tightened.CompareAndSwap(true, false) {
		return
	}
	e.shipper.SetIntervals(e.cfg.KeystrokeInterval(), e.cfg.PointerInterval())
	e.monitor.SetPollInterval(e.cfg.PollInterval())
}

func tighten(d time.Duration) time.Duration {
	d /= tightenFactor
	if d < minTightenedGap {
		d = minTightenedGap
	}
	return d
}
