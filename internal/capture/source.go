// Package capture turns raw input device activity into completed behavioral
// events: paired keystrokes with dwell and flight timing, and throttled
// pointer samples with derived geometry. It never records which character a
// key produced, only the key's class and its timing.
package capture

import (
	"context"
	"errors"
	"time"
)

// Raw event kinds as reported by an InputSource, before pairing or
// throttling.
type RawKind int

const (
	RawKeyDown RawKind = iota
	RawKeyUp
	RawPointerMove
	RawPointerClick
	RawPointerScroll
)

func (k RawKind) String() string {
	switch k {
	case RawKeyDown:
		return "key_down"
	case RawKeyUp:
		return "key_up"
	case RawPointerMove:
		return "move"
	case RawPointerClick:
		return "click"
	case RawPointerScroll:
		return "scroll"
	default:
		return "unknown"
	}
}

// RawEvent is one hardware-level input report. Only the fields relevant to
// the Kind are populated.
type RawEvent struct {
	Kind   RawKind
	Code   string // key identifier for key events, e.g. "KeyA", "Backspace"
	X, Y   float64
	Button int
	DeltaX float64
	DeltaY float64
	At     time.Time
}

// Handler consumes raw events from an InputSource. Implementations must be
// fast; sources call the handler from their read loop.
type Handler func(RawEvent)

// InputSource produces raw input events from some device layer. The evdev
// source reads /dev/input on Linux; ScriptSource replays a recorded script
// for tests and the inputgen tool.
type InputSource interface {
	// Start begins delivering events to h until the context is canceled
	// or Stop is called.
	Start(ctx context.Context, h Handler) error

	// Stop stops delivery and releases the device. Safe to call twice.
	Stop() error

	// Available reports whether this source can run on the current
	// platform with current permissions, with a human-readable reason.
	Available() (bool, string)
}

var (
	ErrAlreadyRunning = errors.New("capture: already running")
	ErrNotAvailable   = errors.New("capture: input source not available")
)
