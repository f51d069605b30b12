package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// ScriptEvent is one scripted input report. Offsets are relative to the
// start of playback so the same script produces identical derived timings
// on every run.
type ScriptEvent struct {
	OffsetMs float64 `json:"offsetMs"`
	Kind     string  `json:"kind"` // "key_down", "key_up", "move", "click", "scroll"
	Code     string  `json:"code,omitempty"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
	Button   int     `json:"button,omitempty"`
	DeltaX   float64 `json:"deltaX,omitempty"`
	DeltaY   float64 `json:"deltaY,omitempty"`
}

var scriptKinds = map[string]RawKind{
	"key_down": RawKeyDown,
	"key_up":   RawKeyUp,
	"move":     RawPointerMove,
	"click":    RawPointerClick,
	"scroll":   RawPointerScroll,
}

// ScriptSource replays a recorded event script. By default playback is
// instantaneous with synthesized timestamps, which is what tests want; the
// inputgen tool enables real-time pacing.
type ScriptSource struct {
	events   []ScriptEvent
	realtime bool
	base     time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScriptSource creates a source that replays events instantly with
// timestamps derived from base plus each event's offset.
func NewScriptSource(base time.Time, events []ScriptEvent) *ScriptSource {
	return &ScriptSource{events: events, base: base}
}

// Realtime makes playback sleep between events instead of synthesizing
// timestamps.
func (s *ScriptSource) Realtime() *ScriptSource {
	s.realtime = true
	return s
}

// LoadScript reads a JSON array of script events from path.
func LoadScript(path string) ([]ScriptEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var events []ScriptEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	for i, e := range events {
		if _, ok := scriptKinds[e.Kind]; !ok {
			return nil, fmt.Errorf("script event %d: unknown kind %q", i, e.Kind)
		}
	}
	return events, nil
}

func (s *ScriptSource) Available() (bool, string) {
	return true, fmt.Sprintf("script with %d events", len(s.events))
}

func (s *ScriptSource) Start(ctx context.Context, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.replay(runCtx, h)
	return nil
}

func (s *ScriptSource) replay(ctx context.Context, h Handler) {
	defer close(s.done)
	start := s.base
	if s.realtime {
		start = time.Now()
	}
	prev := 0.0
	for _, e := range s.events {
		if s.realtime {
			wait := time.Duration((e.OffsetMs - prev) * float64(time.Millisecond))
			prev = e.OffsetMs
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		} else if ctx.Err() != nil {
			return
		}
		at := start.Add(time.Duration(e.OffsetMs * float64(time.Millisecond)))
		if s.realtime {
			at = time.Now()
		}
		h(RawEvent{
			Kind:   scriptKinds[e.Kind],
			Code:   e.Code,
			X:      e.X,
			Y:      e.Y,
			Button: e.Button,
			DeltaX: e.DeltaX,
			DeltaY: e.DeltaY,
			At:     at,
		})
	}
}

func (s *ScriptSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.cancel()
	<-s.done
	s.running = false
	return nil
}

// Wait blocks until the script has been fully delivered. Tests call this
// before asserting on the sink.
func (s *ScriptSource) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}
