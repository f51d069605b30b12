package capture

import (
	"context"
	"math"
	"sync"
	"time"

	"sentinel/internal/behavior"
	"sentinel/internal/logging"
	"sentinel/internal/metrics"
)

// Timing rules for event derivation. Dwells under the floor are switch
// bounce or synthetic noise; a flight gap over the ceiling ends the typing
// burst, and the keystroke after the break is discarded outright. Move
// samples are throttled to one per 50ms window.
const (
	minDwellMs         = 10
	burstBreakMs       = 2000
	moveThrottleMs     = 50
	directionDegPerRad = 180 / math.Pi
)

// Sink receives completed behavioral events, one call per event. The
// telemetry buffers implement it.
type Sink interface {
	AppendKey(behavior.KeyEvent)
	AppendPointer(behavior.PointerEvent)
}

// TokenSource yields the currently bound session token. Events captured
// while no session is bound are discarded at the source.
type TokenSource interface {
	Token() (string, bool)
}

// Collector pairs key-down/key-up reports into keystrokes and throttles
// pointer movement into derived samples. All derivation happens on the
// source's delivery goroutine; the mutex only guards start/stop state.
type Collector struct {
	source InputSource
	sink   Sink
	tokens TokenSource
	log    *logging.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc

	// Pairing and throttling state, owned by the delivery goroutine.
	pressed   map[string]keyDown
	lastKeyUp time.Time

	lastMoveAt time.Time
	lastX      float64
	lastY      float64
	hasLastPos bool
}

// keyDown remembers an unreleased key press.
type keyDown struct {
	at         time.Time
	flight     *float64
	burstBreak bool
}

// New creates a Collector. log may be nil, in which case the default
// logger's capture component is used.
func New(source InputSource, sink Sink, tokens TokenSource, log *logging.Logger) *Collector {
	if log == nil {
		log = logging.Default().WithComponent("capture")
	}
	return &Collector{
		source:  source,
		sink:    sink,
		tokens:  tokens,
		log:     log,
		pressed: make(map[string]keyDown),
	}
}

// StartCollection begins capturing. Calling it while already running is a
// no-op, not an error.
func (c *Collector) StartCollection(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := c.source.Start(runCtx, c.handle); err != nil {
		cancel()
		return err
	}
	c.cancel = cancel
	c.running = true
	c.log.Info("collection started")
	return nil
}

// StopCollection stops capturing and resets pairing state so a later start
// begins a fresh typing burst. Idempotent.
func (c *Collector) StopCollection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.cancel()
	if err := c.source.Stop(); err != nil {
		c.log.Warn("input source stop", "error", err)
	}
	c.running = false
	c.pressed = make(map[string]keyDown)
	c.lastKeyUp = time.Time{}
	c.hasLastPos = false
	c.lastMoveAt = time.Time{}
	c.log.Info("collection stopped")
}

// Running reports whether the collector is capturing.
func (c *Collector) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// handle derives behavioral events from one raw report.
func (c *Collector) handle(ev RawEvent) {
	token, ok := c.tokens.Token()
	if !ok {
		metrics.EventsDiscarded.WithLabelValues(ev.Kind.String(), "no_session").Inc()
		return
	}

	switch ev.Kind {
	case RawKeyDown:
		c.onKeyDown(ev)
	case RawKeyUp:
		c.onKeyUp(ev, token)
	case RawPointerMove:
		c.onMove(ev, token)
	case RawPointerClick:
		c.sink.AppendPointer(behavior.NewPointerClick(behavior.PointerClickEvent{
			X:                 ev.X,
			Y:                 ev.Y,
			Button:            ev.Button,
			CapturedAtEpochMs: ev.At.UnixMilli(),
			SessionToken:      token,
		}))
		metrics.EventsCaptured.WithLabelValues("click").Inc()
	case RawPointerScroll:
		c.sink.AppendPointer(behavior.NewPointerScroll(behavior.PointerScrollEvent{
			DeltaX:            ev.DeltaX,
			DeltaY:            ev.DeltaY,
			CapturedAtEpochMs: ev.At.UnixMilli(),
			SessionToken:      token,
		}))
		metrics.EventsCaptured.WithLabelValues("scroll").Inc()
	}
}

func (c *Collector) onKeyDown(ev RawEvent) {
	// Auto-repeat delivers key-down without an intervening key-up.
	if _, held := c.pressed[ev.Code]; held {
		return
	}
	var flight *float64
	var broke bool
	if !c.lastKeyUp.IsZero() {
		gap := float64(ev.At.Sub(c.lastKeyUp)) / float64(time.Millisecond)
		switch {
		case gap >= 0 && gap <= burstBreakMs:
			flight = &gap
		case gap > burstBreakMs:
			broke = true
		}
	}
	c.pressed[ev.Code] = keyDown{at: ev.At, flight: flight, burstBreak: broke}
}

func (c *Collector) onKeyUp(ev RawEvent, token string) {
	down, held := c.pressed[ev.Code]
	if !held {
		metrics.EventsDiscarded.WithLabelValues("key", "unpaired").Inc()
		return
	}
	delete(c.pressed, ev.Code)

	dwell := float64(ev.At.Sub(down.at)) / float64(time.Millisecond)
	if dwell < minDwellMs {
		metrics.EventsDiscarded.WithLabelValues("key", "short_dwell").Inc()
		return
	}
	c.lastKeyUp = ev.At

	// The keystroke that broke the burst is dropped; its key-up still
	// anchors the next flight measurement.
	if down.burstBreak {
		metrics.EventsDiscarded.WithLabelValues("key", "burst_break").Inc()
		return
	}

	c.sink.AppendKey(behavior.KeyEvent{
		Code:              ev.Code,
		DwellTimeMs:       dwell,
		FlightTimeMs:      down.flight,
		IsSpecialKey:      IsSpecialKey(ev.Code),
		CapturedAtEpochMs: ev.At.UnixMilli(),
		SessionToken:      token,
	})
	metrics.EventsCaptured.WithLabelValues("key").Inc()
}

func (c *Collector) onMove(ev RawEvent, token string) {
	if !c.lastMoveAt.IsZero() && ev.At.Sub(c.lastMoveAt) < moveThrottleMs*time.Millisecond {
		metrics.EventsDiscarded.WithLabelValues("move", "throttled").Inc()
		return
	}

	sample := behavior.PointerMoveEvent{
		X:                 ev.X,
		Y:                 ev.Y,
		CapturedAtEpochMs: ev.At.UnixMilli(),
		SessionToken:      token,
	}
	if c.hasLastPos {
		dx := ev.X - c.lastX
		dy := ev.Y - c.lastY
		deltaMs := float64(ev.At.Sub(c.lastMoveAt)) / float64(time.Millisecond)
		sample.DistancePx = math.Hypot(dx, dy)
		sample.DirectionDeg = math.Atan2(dy, dx) * directionDegPerRad
		sample.TimeDeltaMs = deltaMs
		if deltaMs > 0 {
			sample.VelocityPxPerMs = sample.DistancePx / deltaMs
		}
	}
	c.lastMoveAt = ev.At
	c.lastX, c.lastY = ev.X, ev.Y
	c.hasLastPos = true

	c.sink.AppendPointer(behavior.NewPointerMove(sample))
	metrics.EventsCaptured.WithLabelValues("move").Inc()
}

// specialKeys are the non-printing keys whose share of typing feeds the
// special_key_ratio feature. Printable keys are everything else.
var specialKeys = map[string]bool{
	"Backspace": true, "Delete": true, "Enter": true, "Tab": true,
	"Escape": true, "CapsLock": true, "Shift": true, "ShiftLeft": true,
	"ShiftRight": true, "Control": true, "ControlLeft": true,
	"ControlRight": true, "Alt": true, "AltLeft": true, "AltRight": true,
	"Meta": true, "MetaLeft": true, "MetaRight": true,
	"ArrowUp": true, "ArrowDown": true, "ArrowLeft": true, "ArrowRight": true,
	"Home": true, "End": true, "PageUp": true, "PageDown": true,
	"Insert": true, "F1": true, "F2": true, "F3": true, "F4": true,
	"F5": true, "F6": true, "F7": true, "F8": true, "F9": true,
	"F10": true, "F11": true, "F12": true,
}

// IsSpecialKey classifies a key code for the special_key_ratio feature.
func IsSpecialKey(code string) bool {
	return specialKeys[code]
}
