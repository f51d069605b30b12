//go:build linux

package capture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// EvdevSource reads raw input reports from /dev/input/event* devices.
// Reading these devices requires membership in the input group or root.
//
// Pointer devices report relative motion, so the source accumulates a
// virtual cursor position starting at the origin. The collector only uses
// deltas between retained samples, so the missing absolute origin does not
// distort any derived feature.
type EvdevSource struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	posMu sync.Mutex
	curX  float64
	curY  float64
}

// NewEvdevSource creates an evdev-backed input source.
func NewEvdevSource() *EvdevSource {
	return &EvdevSource{}
}

// inputEvent matches the Linux input_event struct layout.
type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// Event types and codes from linux/input-event-codes.h.
const (
	evKey = 0x01
	evRel = 0x02

	relX      = 0x00
	relY      = 0x01
	relWheel  = 0x08
	relHWheel = 0x06

	btnLeft   = 0x110
	btnRight  = 0x111
	btnMiddle = 0x112

	keyPress   = 1
	keyRelease = 0
	keyRepeat  = 2
)

func (s *EvdevSource) Available() (bool, string) {
	devices, err := findInputDevices()
	if err != nil {
		return false, fmt.Sprintf("cannot enumerate input devices: %v", err)
	}
	if len(devices) == 0 {
		return false, "no keyboard or pointer devices found"
	}
	for _, dev := range devices {
		f, err := os.OpenFile(dev.path, os.O_RDONLY, 0)
		if err == nil {
			f.Close()
			return true, fmt.Sprintf("found %d input devices", len(devices))
		}
	}
	return false, "cannot read input devices (need 'input' group membership or root)"
}

func (s *EvdevSource) Start(ctx context.Context, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	devices, err := findInputDevices()
	if err != nil || len(devices) == 0 {
		return ErrNotAvailable
	}

	runCtx, cancel := context.WithCancel(ctx)
	opened := 0
	for _, dev := range devices {
		f, err := os.OpenFile(dev.path, os.O_RDONLY, 0)
		if err != nil {
			continue
		}
		opened++
		s.wg.Add(1)
		go s.readLoop(runCtx, f, h)
	}
	if opened == 0 {
		cancel()
		return ErrNotAvailable
	}

	s.cancel = cancel
	s.running = true
	return nil
}

func (s *EvdevSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.cancel()
	s.running = false
	return nil
}

// readLoop decodes input_event records from one device until the context
// is canceled or the device goes away.
func (s *EvdevSource) readLoop(ctx context.Context, f *os.File, h Handler) {
	defer s.wg.Done()
	defer f.Close()

	go func() {
		<-ctx.Done()
		f.Close() // unblock the pending read
	}()

	const eventSize = 24 // sizeof(struct input_event) on 64-bit
	buf := make([]byte, eventSize)
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := readFull(f, buf); err != nil {
			return
		}
		var ev inputEvent
		if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &ev); err != nil {
			return
		}
		s.dispatch(ev, h)
	}
}

func readFull(f *os.File, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := f.Read(buf[read:])
		if err != nil {
			return read, err
		}
		read += n
	}
	return read, nil
}

// dispatch converts one kernel report into a RawEvent.
func (s *EvdevSource) dispatch(ev inputEvent, h Handler) {
	at := time.Unix(ev.Time.Sec, ev.Time.Usec*1000)

	switch ev.Type {
	case evKey:
		if ev.Value == keyRepeat {
			return
		}
		switch ev.Code {
		case btnLeft, btnRight, btnMiddle:
			if ev.Value != keyPress {
				return
			}
			x, y := s.position()
			h(RawEvent{
				Kind:   RawPointerClick,
				X:      x,
				Y:      y,
				Button: int(ev.Code - btnLeft),
				At:     at,
			})
		default:
			kind := RawKeyUp
			if ev.Value == keyPress {
				kind = RawKeyDown
			}
			h(RawEvent{Kind: kind, Code: keyName(ev.Code), At: at})
		}
	case evRel:
		switch ev.Code {
		case relX:
			x, y := s.advance(float64(ev.Value), 0)
			h(RawEvent{Kind: RawPointerMove, X: x, Y: y, At: at})
		case relY:
			x, y := s.advance(0, float64(ev.Value))
			h(RawEvent{Kind: RawPointerMove, X: x, Y: y, At: at})
		case relWheel:
			h(RawEvent{Kind: RawPointerScroll, DeltaY: float64(ev.Value), At: at})
		case relHWheel:
			h(RawEvent{Kind: RawPointerScroll, DeltaX: float64(ev.Value), At: at})
		}
	}
}

func (s *EvdevSource) advance(dx, dy float64) (float64, float64) {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	s.curX += dx
	s.curY += dy
	return s.curX, s.curY
}

func (s *EvdevSource) position() (float64, float64) {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	return s.curX, s.curY
}

// inputDevice is one /dev/input/eventN handler worth reading.
type inputDevice struct {
	path string
	name string
}

// findInputDevices parses /proc/bus/input/devices for keyboards and
// pointers, identified by their key capabilities and handler names.
func findInputDevices() ([]inputDevice, error) {
	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var devices []inputDevice
	var name, handler string
	relevant := false

	flush := func() {
		if relevant && handler != "" {
			devices = append(devices, inputDevice{path: "/dev/input/" + handler, name: name})
		}
		name, handler = "", ""
		relevant = false
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "N: Name="):
			name = strings.Trim(strings.TrimPrefix(line, "N: Name="), `"`)
		case strings.HasPrefix(line, "H: Handlers="):
			fields := strings.Fields(strings.TrimPrefix(line, "H: Handlers="))
			for _, part := range fields {
				if strings.HasPrefix(part, "event") {
					handler = part
				}
				if part == "kbd" || strings.HasPrefix(part, "mouse") {
					relevant = true
				}
			}
		case strings.HasPrefix(line, "B: KEY="):
			if len(line) > len("B: KEY=")+4 {
				relevant = true
			}
		case line == "":
			flush()
		}
	}
	flush()
	return devices, scanner.Err()
}

// keyName maps a Linux key code to the layout-independent name used on
// the wire. Unmapped codes fall back to a numeric form so they still pair
// correctly, they just never classify as special.
func keyName(code uint16) string {
	if name, ok := linuxKeyNames[code]; ok {
		return name
	}
	return "Code" + strconv.Itoa(int(code))
}

var linuxKeyNames = map[uint16]string{
	1: "Escape", 14: "Backspace", 15: "Tab", 28: "Enter", 57: "Space",
	29: "ControlLeft", 97: "ControlRight", 42: "ShiftLeft", 54: "ShiftRight",
	56: "AltLeft", 100: "AltRight", 125: "MetaLeft", 126: "MetaRight",
	58: "CapsLock", 110: "Insert", 111: "Delete",
	102: "Home", 107: "End", 104: "PageUp", 109: "PageDown",
	103: "ArrowUp", 108: "ArrowDown", 105: "ArrowLeft", 106: "ArrowRight",

	2: "Digit1", 3: "Digit2", 4: "Digit3", 5: "Digit4", 6: "Digit5",
	7: "Digit6", 8: "Digit7", 9: "Digit8", 10: "Digit9", 11: "Digit0",
	12: "Minus", 13: "Equal",

	16: "KeyQ", 17: "KeyW", 18: "KeyE", 19: "KeyR", 20: "KeyT",
	21: "KeyY", 22: "KeyU", 23: "KeyI", 24: "KeyO", 25: "KeyP",
	30: "KeyA", 31: "KeyS", 32: "KeyD", 33: "KeyF", 34: "KeyG",
	35: "KeyH", 36: "KeyJ", 37: "KeyK", 38: "KeyL",
	44: "KeyZ", 45: "KeyX", 46: "KeyC", 47: "KeyV", 48: "KeyB",
	49: "KeyN", 50: "KeyM", 51: "Comma", 52: "Period", 53: "Slash",

	59: "F1", 60: "F2", 61: "F3", 62: "F4", 63: "F5", 64: "F6",
	65: "F7", 66: "F8", 67: "F9", 68: "F10", 87: "F11", 88: "F12",
}
