package capture

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"sentinel/internal/behavior"
)

// =============================================================================
// Test doubles
// =============================================================================

type recordingSink struct {
	mu       sync.Mutex
	keys     []behavior.KeyEvent
	pointers []behavior.PointerEvent
}

func (s *recordingSink) AppendKey(e behavior.KeyEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, e)
}

func (s *recordingSink) AppendPointer(e behavior.PointerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pointers = append(s.pointers, e)
}

func (s *recordingSink) keyEvents() []behavior.KeyEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]behavior.KeyEvent(nil), s.keys...)
}

func (s *recordingSink) pointerEvents() []behavior.PointerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]behavior.PointerEvent(nil), s.pointers...)
}

type staticToken struct {
	token string
	bound bool
}

func (t staticToken) Token() (string, bool) { return t.token, t.bound }

// runScript plays the script to completion through a collector and returns
// the sink.
func runScript(t *testing.T, events []ScriptEvent, tokens TokenSource) *recordingSink {
	t.Helper()
	sink := &recordingSink{}
	src := NewScriptSource(time.Unix(1000, 0), events)
	c := New(src, sink, tokens, nil)
	if err := c.StartCollection(context.Background()); err != nil {
		t.Fatalf("StartCollection: %v", err)
	}
	src.Wait()
	c.StopCollection()
	return sink
}

func boundToken() staticToken { return staticToken{token: "tok-1", bound: true} }

// =============================================================================
// Keystroke pairing
// =============================================================================

func TestKeyPairingDwellAndFlight(t *testing.T) {
	sink := runScript(t, []ScriptEvent{
		{OffsetMs: 0, Kind: "key_down", Code: "KeyA"},
		{OffsetMs: 100, Kind: "key_up", Code: "KeyA"},
		{OffsetMs: 300, Kind: "key_down", Code: "KeyB"},
		{OffsetMs: 380, Kind: "key_up", Code: "KeyB"},
	}, boundToken())

	keys := sink.keyEvents()
	if len(keys) != 2 {
		t.Fatalf("got %d key events, want 2", len(keys))
	}
	first, second := keys[0], keys[1]

	if first.Code != "KeyA" || first.DwellTimeMs != 100 {
		t.Errorf("first = %q dwell %v, want KeyA dwell 100", first.Code, first.DwellTimeMs)
	}
	if first.FlightTimeMs != nil {
		t.Errorf("first keystroke of a burst should have nil flight, got %v", *first.FlightTimeMs)
	}
	if second.DwellTimeMs != 80 {
		t.Errorf("second dwell = %v, want 80", second.DwellTimeMs)
	}
	// Flight is previous key-up (100ms) to this key-down (300ms).
	if second.FlightTimeMs == nil || *second.FlightTimeMs != 200 {
		t.Errorf("second flight = %v, want 200", second.FlightTimeMs)
	}
	if first.SessionToken != "tok-1" {
		t.Errorf("session token = %q, want tok-1", first.SessionToken)
	}
}

func TestShortDwellDropped(t *testing.T) {
	sink := runScript(t, []ScriptEvent{
		{OffsetMs: 0, Kind: "key_down", Code: "KeyA"},
		{OffsetMs: 5, Kind: "key_up", Code: "KeyA"}, // under the 10ms floor
		{OffsetMs: 100, Kind: "key_down", Code: "KeyB"},
		{OffsetMs: 200, Kind: "key_up", Code: "KeyB"},
	}, boundToken())

	keys := sink.keyEvents()
	if len(keys) != 1 || keys[0].Code != "KeyB" {
		t.Fatalf("got %v, want only KeyB", keys)
	}
	// The dropped keystroke must not anchor a flight measurement either.
	if keys[0].FlightTimeMs != nil {
		t.Errorf("flight = %v, want nil after a dropped keystroke", *keys[0].FlightTimeMs)
	}
}

func TestBurstBreakDiscardsKeystroke(t *testing.T) {
	sink := runScript(t, []ScriptEvent{
		{OffsetMs: 0, Kind: "key_down", Code: "KeyA"},
		{OffsetMs: 100, Kind: "key_up", Code: "KeyA"},
		// 2100ms after the previous key-up: past the 2000ms burst break,
		// so KeyB is dropped entirely.
		{OffsetMs: 2200, Kind: "key_down", Code: "KeyB"},
		{OffsetMs: 2300, Kind: "key_up", Code: "KeyB"},
		// KeyC follows KeyB within the ceiling and survives, with its
		// flight measured from KeyB's key-up.
		{OffsetMs: 2500, Kind: "key_down", Code: "KeyC"},
		{OffsetMs: 2600, Kind: "key_up", Code: "KeyC"},
	}, boundToken())

	keys := sink.keyEvents()
	if len(keys) != 2 {
		t.Fatalf("got %d key events, want 2", len(keys))
	}
	if keys[0].Code != "KeyA" || keys[1].Code != "KeyC" {
		t.Fatalf("kept %q and %q, want KeyA and KeyC", keys[0].Code, keys[1].Code)
	}
	if keys[1].FlightTimeMs == nil || *keys[1].FlightTimeMs != 200 {
		t.Errorf("flight after the break = %v, want 200 from the dropped key's release", keys[1].FlightTimeMs)
	}
}

func TestAutoRepeatIgnored(t *testing.T) {
	sink := runScript(t, []ScriptEvent{
		{OffsetMs: 0, Kind: "key_down", Code: "KeyA"},
		{OffsetMs: 40, Kind: "key_down", Code: "KeyA"}, // repeat
		{OffsetMs: 80, Kind: "key_down", Code: "KeyA"}, // repeat
		{OffsetMs: 120, Kind: "key_up", Code: "KeyA"},
	}, boundToken())

	keys := sink.keyEvents()
	if len(keys) != 1 {
		t.Fatalf("got %d key events, want 1", len(keys))
	}
	if keys[0].DwellTimeMs != 120 {
		t.Errorf("dwell = %v, want 120 from the first key-down", keys[0].DwellTimeMs)
	}
}

func TestUnpairedKeyUpDropped(t *testing.T) {
	sink := runScript(t, []ScriptEvent{
		{OffsetMs: 0, Kind: "key_up", Code: "KeyA"},
	}, boundToken())
	if n := len(sink.keyEvents()); n != 0 {
		t.Errorf("got %d key events, want 0", n)
	}
}

func TestSpecialKeyClassification(t *testing.T) {
	sink := runScript(t, []ScriptEvent{
		{OffsetMs: 0, Kind: "key_down", Code: "Backspace"},
		{OffsetMs: 50, Kind: "key_up", Code: "Backspace"},
		{OffsetMs: 100, Kind: "key_down", Code: "KeyA"},
		{OffsetMs: 150, Kind: "key_up", Code: "KeyA"},
	}, boundToken())

	keys := sink.keyEvents()
	if len(keys) != 2 {
		t.Fatalf("got %d key events, want 2", len(keys))
	}
	if !keys[0].IsSpecialKey {
		t.Error("Backspace should classify as special")
	}
	if keys[1].IsSpecialKey {
		t.Error("KeyA should not classify as special")
	}
}

// =============================================================================
// Pointer derivation
// =============================================================================

func TestMoveThrottle(t *testing.T) {
	sink := runScript(t, []ScriptEvent{
		{OffsetMs: 0, Kind: "move", X: 0, Y: 0},
		{OffsetMs: 20, Kind: "move", X: 5, Y: 5}, // inside the 50ms window
		{OffsetMs: 60, Kind: "move", X: 10, Y: 10},
	}, boundToken())

	if n := len(sink.pointerEvents()); n != 2 {
		t.Fatalf("got %d retained moves, want 2", n)
	}
}

func TestMoveGeometry(t *testing.T) {
	sink := runScript(t, []ScriptEvent{
		{OffsetMs: 0, Kind: "move", X: 100, Y: 100},
		{OffsetMs: 100, Kind: "move", X: 103, Y: 104},
	}, boundToken())

	events := sink.pointerEvents()
	if len(events) != 2 {
		t.Fatalf("got %d moves, want 2", len(events))
	}
	first := events[0].(behavior.PointerMoveEvent)
	if first.DistancePx != 0 || first.VelocityPxPerMs != 0 || first.TimeDeltaMs != 0 {
		t.Errorf("first retained sample should have zero geometry, got %+v", first)
	}

	second := events[1].(behavior.PointerMoveEvent)
	if math.Abs(second.DistancePx-5) > 1e-9 {
		t.Errorf("distance = %v, want 5 (3-4-5 triangle)", second.DistancePx)
	}
	if math.Abs(second.VelocityPxPerMs-0.05) > 1e-9 {
		t.Errorf("velocity = %v, want 0.05", second.VelocityPxPerMs)
	}
	wantDir := math.Atan2(4, 3) * 180 / math.Pi
	if math.Abs(second.DirectionDeg-wantDir) > 1e-9 {
		t.Errorf("direction = %v, want %v", second.DirectionDeg, wantDir)
	}
	if second.TimeDeltaMs != 100 {
		t.Errorf("timeDelta = %v, want 100", second.TimeDeltaMs)
	}
}

func TestClicksAndScrollsNeverThrottled(t *testing.T) {
	sink := runScript(t, []ScriptEvent{
		{OffsetMs: 0, Kind: "click", X: 1, Y: 1, Button: 0},
		{OffsetMs: 1, Kind: "click", X: 1, Y: 1, Button: 2},
		{OffsetMs: 2, Kind: "scroll", DeltaY: -3},
	}, boundToken())

	events := sink.pointerEvents()
	if len(events) != 3 {
		t.Fatalf("got %d pointer events, want 3", len(events))
	}
	if events[0].Kind() != behavior.KindPointerClick || events[2].Kind() != behavior.KindPointerScroll {
		t.Error("click/scroll kinds not preserved")
	}
}

// =============================================================================
// Session gating and lifecycle
// =============================================================================

func TestEventsWithoutSessionDiscarded(t *testing.T) {
	sink := runScript(t, []ScriptEvent{
		{OffsetMs: 0, Kind: "key_down", Code: "KeyA"},
		{OffsetMs: 100, Kind: "key_up", Code: "KeyA"},
		{OffsetMs: 200, Kind: "move", X: 1, Y: 1},
	}, staticToken{bound: false})

	if len(sink.keyEvents()) != 0 || len(sink.pointerEvents()) != 0 {
		t.Error("no events should be buffered while no session is bound")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	src := NewScriptSource(time.Unix(1000, 0), nil)
	c := New(src, &recordingSink{}, boundToken(), nil)

	if err := c.StartCollection(context.Background()); err != nil {
		t.Fatalf("StartCollection: %v", err)
	}
	if err := c.StartCollection(context.Background()); err != nil {
		t.Errorf("second StartCollection should be a no-op, got %v", err)
	}
	if !c.Running() {
		t.Error("collector should report running")
	}

	c.StopCollection()
	c.StopCollection()
	if c.Running() {
		t.Error("collector should report stopped")
	}
}

func TestStopResetsBurstState(t *testing.T) {
	sink := &recordingSink{}
	tokens := boundToken()

	first := NewScriptSource(time.Unix(1000, 0), []ScriptEvent{
		{OffsetMs: 0, Kind: "key_down", Code: "KeyA"},
		{OffsetMs: 100, Kind: "key_up", Code: "KeyA"},
	})
	c := New(first, sink, tokens, nil)
	if err := c.StartCollection(context.Background()); err != nil {
		t.Fatalf("StartCollection: %v", err)
	}
	first.Wait()
	c.StopCollection()

	// Same collector, new run: the first keystroke starts a new burst.
	second := NewScriptSource(time.Unix(1001, 0), []ScriptEvent{
		{OffsetMs: 0, Kind: "key_down", Code: "KeyB"},
		{OffsetMs: 100, Kind: "key_up", Code: "KeyB"},
	})
	c.source = second
	if err := c.StartCollection(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	second.Wait()
	c.StopCollection()

	keys := sink.keyEvents()
	if len(keys) != 2 {
		t.Fatalf("got %d key events, want 2", len(keys))
	}
	if keys[1].FlightTimeMs != nil {
		t.Errorf("flight after restart = %v, want nil", *keys[1].FlightTimeMs)
	}
}
