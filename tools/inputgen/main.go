// inputgen generates synthetic input scripts for the script capture
// source, so the capture and telemetry pipeline can be exercised without
// a real keyboard and mouse.
//
// Usage:
//
//	go run tools/inputgen/main.go -output session.json -keys 200
//	go run tools/inputgen/main.go -output session.json -profile fast-typist
//	go run tools/inputgen/main.go -list
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"sentinel/internal/capture"
)

// TypingProfile parameterizes the synthetic rhythm.
type TypingProfile struct {
	Name        string
	Description string

	// Keystroke timing.
	MedianInterKeyMs float64
	InterKeyStdDevMs float64
	MedianDwellMs    float64
	DwellStdDevMs    float64

	// Probability that a key starts a pause longer than the burst
	// break, and the pause bounds.
	PauseProbability float64
	PauseMinMs       float64
	PauseMaxMs       float64

	// Pointer motion between typing stretches.
	MoveProbability float64
	MoveSpeedPxMs   float64
}

var profiles = map[string]TypingProfile{
	"normal": {
		Name:             "Normal Typist",
		Description:      "Typical typing with natural variation",
		MedianInterKeyMs: 180,
		InterKeyStdDevMs: 70,
		MedianDwellMs:    95,
		DwellStdDevMs:    25,
		PauseProbability: 0.04,
		PauseMinMs:       2500,
		PauseMaxMs:       8000,
		MoveProbability:  0.02,
		MoveSpeedPxMs:    0.8,
	},
	"fast-typist": {
		Name:             "Fast Typist",
		Description:      "Quick, consistent pace with short dwells",
		MedianInterKeyMs: 110,
		InterKeyStdDevMs: 35,
		MedianDwellMs:    70,
		DwellStdDevMs:    15,
		PauseProbability: 0.02,
		PauseMinMs:       2200,
		PauseMaxMs:       5000,
		MoveProbability:  0.01,
		MoveSpeedPxMs:    1.2,
	},
	"hesitant": {
		Name:             "Hesitant Typist",
		Description:      "Slow typing with frequent long pauses",
		MedianInterKeyMs: 400,
		InterKeyStdDevMs: 200,
		MedianDwellMs:    130,
		DwellStdDevMs:    40,
		PauseProbability: 0.12,
		PauseMinMs:       3000,
		PauseMaxMs:       15000,
		MoveProbability:  0.05,
		MoveSpeedPxMs:    0.4,
	},
	"robotic": {
		Name:             "Robotic Input",
		Description:      "Machine-paced input with near-zero variance",
		MedianInterKeyMs: 40,
		InterKeyStdDevMs: 2,
		MedianDwellMs:    15,
		DwellStdDevMs:    1,
		PauseProbability: 0,
		PauseMinMs:       0,
		PauseMaxMs:       0,
		MoveProbability:  0,
		MoveSpeedPxMs:    0,
	},
}

var keyRow = []string{
	"KeyQ", "KeyW", "KeyE", "KeyR", "KeyT", "KeyY", "KeyU", "KeyI", "KeyO", "KeyP",
	"KeyA", "KeyS", "KeyD", "KeyF", "KeyG", "KeyH", "KeyJ", "KeyK", "KeyL",
	"KeyZ", "KeyX", "KeyC", "KeyV", "KeyB", "KeyN", "KeyM", "Space", "Space", "Space",
}

func main() {
	var (
		outputPath   = flag.String("output", "session.json", "Output file path")
		keyCount     = flag.Int("keys", 100, "Number of keystrokes to generate")
		profileName  = flag.String("profile", "normal", "Typing profile to use")
		seed         = flag.Int64("seed", 0, "Random seed; 0 = use current time")
		listProfiles = flag.Bool("list", false, "List available profiles")
	)
	flag.Parse()

	if *listProfiles {
		fmt.Println("Available profiles:")
		for name, p := range profiles {
			fmt.Printf("  %-14s %s\n", name, p.Description)
		}
		return
	}

	profile, ok := profiles[*profileName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown profile: %s (use -list)\n", *profileName)
		os.Exit(1)
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	events := generate(rng, profile, *keyCount)

	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling events: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*outputPath, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %d events (%d keystrokes, profile %s, seed %d) to %s\n",
		len(events), *keyCount, profile.Name, *seed, *outputPath)
}

func generate(rng *rand.Rand, p TypingProfile, keys int) []capture.ScriptEvent {
	var events []capture.ScriptEvent

	now := 0.0
	x, y := 640.0, 360.0

	for i := 0; i < keys; i++ {
		if p.MoveProbability > 0 && rng.Float64() < p.MoveProbability {
			now, x, y = emitMove(rng, p, &events, now, x, y)
		}

		code := keyRow[rng.Intn(len(keyRow))]
		dwell := gauss(rng, p.MedianDwellMs, p.DwellStdDevMs, 10)

		events = append(events,
			capture.ScriptEvent{OffsetMs: now, Kind: "key_down", Code: code},
			capture.ScriptEvent{OffsetMs: now + dwell, Kind: "key_up", Code: code},
		)

		gap := gauss(rng, p.MedianInterKeyMs, p.InterKeyStdDevMs, 20)
		if p.PauseProbability > 0 && rng.Float64() < p.PauseProbability {
			gap = p.PauseMinMs + rng.Float64()*(p.PauseMaxMs-p.PauseMinMs)
		}
		now += dwell + gap
	}

	return events
}

// emitMove produces a short pointer glide toward a random target, sampled
// coarsely enough to survive the collector's move throttle.
func emitMove(rng *rand.Rand, p TypingProfile, events *[]capture.ScriptEvent, now, x, y float64) (float64, float64, float64) {
	targetX := 100 + rng.Float64()*1180
	targetY := 100 + rng.Float64()*620
	dist := math.Hypot(targetX-x, targetY-y)
	steps := int(dist/40) + 2
	stepMs := math.Max(60, dist/p.MoveSpeedPxMs/float64(steps))

	for s := 1; s <= steps; s++ {
		t := float64(s) / float64(steps)
		// Ease in and out so velocity looks human.
		t = t * t * (3 - 2*t)
		px := x + (targetX-x)*t
		py := y + (targetY-y)*t
		jx := rng.NormFloat64() * 1.5
		jy := rng.NormFloat64() * 1.5
		now += stepMs
		*events = append(*events, capture.ScriptEvent{
			OffsetMs: now, Kind: "move", X: px + jx, Y: py + jy,
		})
	}
	now += 200 + rng.Float64()*400
	return now, targetX, targetY
}

func gauss(rng *rand.Rand, median, stddev, floor float64) float64 {
	v := median + rng.NormFloat64()*stddev
	if v < floor {
		v = floor
	}
	return v
}
