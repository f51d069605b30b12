// Package behavior defines the behavioral event model and the statistical
// feature extraction used for continuous authentication.
//
// IMPORTANT: No event in this package carries typed content. Keystroke
// events record timing and geometry only (dwell, flight, special-key flag),
// never which character was produced. This is a deliberate privacy boundary:
// the engine can prove that typing rhythm is consistent with the bound user
// without ever being able to reconstruct what was typed.
package behavior

// EventKind discriminates the raw input event union.
type EventKind int

const (
	KindKey EventKind = iota
	KindPointerMove
	KindPointerClick
	KindPointerScroll
)

func (k EventKind) String() string {
	switch k {
	case KindKey:
		return "key"
	case KindPointerMove:
		return "move"
	case KindPointerClick:
		return "click"
	case KindPointerScroll:
		return "scroll"
	default:
		return "unknown"
	}
}

// KeyEvent is one completed keystroke: a key-down paired with its key-up.
// FlightTimeMs is nil for the first keystroke of a typing burst.
type KeyEvent struct {
	Code              string   `json:"keyCode"`
	DwellTimeMs       float64  `json:"dwellTime"`
	FlightTimeMs      *float64 `json:"flightTime,omitempty"`
	IsSpecialKey      bool     `json:"isSpecialKey"`
	CapturedAtEpochMs int64    `json:"timestamp"`
	SessionToken      string   `json:"sessionToken"`
}

// PointerEvent is the pointer-side of the raw event union. The concrete
// types below carry a "type" tag on the wire so the collector endpoint can
// separate moves from clicks and scrolls.
type PointerEvent interface {
	Kind() EventKind
	CapturedAt() int64
}

// PointerMoveEvent is one retained (throttled) pointer movement sample.
// Distance, direction and velocity are relative to the previous retained
// sample, not the previous hardware report.
type PointerMoveEvent struct {
	Type              string  `json:"type"`
	X                 float64 `json:"x"`
	Y                 float64 `json:"y"`
	DistancePx        float64 `json:"distance"`
	VelocityPxPerMs   float64 `json:"velocity"`
	DirectionDeg      float64 `json:"direction"`
	TimeDeltaMs       float64 `json:"timeDelta"`
	CapturedAtEpochMs int64   `json:"timestamp"`
	SessionToken      string  `json:"sessionToken"`
}

// PointerClickEvent records a button press. Never throttled.
type PointerClickEvent struct {
	Type              string  `json:"type"`
	X                 float64 `json:"x"`
	Y                 float64 `json:"y"`
	Button            int     `json:"button"`
	TargetTag         string  `json:"targetTag"`
	CapturedAtEpochMs int64   `json:"timestamp"`
	SessionToken      string  `json:"sessionToken"`
}

// PointerScrollEvent records a scroll step. Never throttled.
type PointerScrollEvent struct {
	Type              string  `json:"type"`
	DeltaX            float64 `json:"deltaX"`
	DeltaY            float64 `json:"deltaY"`
	CapturedAtEpochMs int64   `json:"timestamp"`
	SessionToken      string  `json:"sessionToken"`
}

// Wire tags for pointer events. The collector endpoint dispatches on these.
const (
	TagMove   = "move"
	TagClick  = "click"
	TagScroll = "scroll"
)

// NewPointerMove fills in the wire tag.
func NewPointerMove(e PointerMoveEvent) PointerMoveEvent {
	e.Type = TagMove
	return e
}

// NewPointerClick fills in the wire tag.
func NewPointerClick(e PointerClickEvent) PointerClickEvent {
	e.Type = TagClick
	return e
}

// NewPointerScroll fills in the wire tag.
func NewPointerScroll(e PointerScrollEvent) PointerScrollEvent {
	e.Type = TagScroll
	return e
}

func (e PointerMoveEvent) Kind() EventKind   { return KindPointerMove }
func (e PointerClickEvent) Kind() EventKind  { return KindPointerClick }
func (e PointerScrollEvent) Kind() EventKind { return KindPointerScroll }

func (e PointerMoveEvent) CapturedAt() int64   { return e.CapturedAtEpochMs }
func (e PointerClickEvent) CapturedAt() int64  { return e.CapturedAtEpochMs }
func (e PointerScrollEvent) CapturedAt() int64 { return e.CapturedAtEpochMs }

// FeatureVector is a fixed mapping from named statistic to value, one per
// modality per flush window.
type FeatureVector map[string]float64

// Modality names as they appear in telemetry payloads.
const (
	ModalityKeystroke = "keystroke"
	ModalityPointer   = "mouse"
)
