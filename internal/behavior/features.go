package behavior

import "math"

// Minimum window sizes below which extraction is suppressed. Too few events
// produce statistically meaningless vectors, so the flush for that modality
// becomes a no-op and the buffer is retained for the next cycle. This is a
// precision floor, not an error.
const (
	MinKeystrokeEvents   = 5
	MinPointerEvents     = 10
	MinPointerMoves      = 5
	pauseVelocityCeiling = 0.1 // px/ms; below this a move sample counts toward a pause
	pauseMinDurationMs   = 100 // maximal low-velocity runs must exceed this to count
	directionChangeDeg   = 45  // |Δdirection| above this is a direction change
	microMoveCeilingPx   = 3   // moves shorter than this count as micro-movements
)

// ExtractKeystrokeFeatures derives the keystroke feature vector from one
// flush window. It is a pure function of its input and returns ok=false
// when the window is below the modality minimum.
func ExtractKeystrokeFeatures(events []KeyEvent) (FeatureVector, bool) {
	if len(events) < MinKeystrokeEvents {
		return nil, false
	}

	dwells := make([]float64, 0, len(events))
	flights := make([]float64, 0, len(events))
	specials := 0
	backspaces := 0
	for _, e := range events {
		dwells = append(dwells, e.DwellTimeMs)
		if e.FlightTimeMs != nil {
			flights = append(flights, *e.FlightTimeMs)
		}
		if e.IsSpecialKey {
			specials++
		}
		if e.Code == "Backspace" {
			backspaces++
		}
	}

	// Typing speed: events per second over the window span. A degenerate
	// zero-length span yields 0 rather than dividing by zero.
	speed := 0.0
	spanSec := float64(events[len(events)-1].CapturedAtEpochMs-events[0].CapturedAtEpochMs) / 1000.0
	if spanSec > 0 {
		speed = float64(len(events)) / spanSec
	}

	return FeatureVector{
		"avg_dwell_time":         mean(dwells),
		"std_dwell_time":         stddev(dwells),
		"avg_flight_time":        mean(flights),
		"std_flight_time":        stddev(flights),
		"typing_speed":           speed,
		"special_key_ratio":      float64(specials) / float64(len(events)),
		"typing_rhythm_variance": variance(flights),
		"error_correction_rate":  float64(backspaces) / float64(len(events)),
	}, true
}

// ExtractPointerFeatures derives the pointer feature vector from one flush
// window. It returns ok=false when the window holds fewer than 10 events
// total or fewer than 5 move samples.
func ExtractPointerFeatures(events []PointerEvent) (FeatureVector, bool) {
	if len(events) < MinPointerEvents {
		return nil, false
	}

	var moves []PointerMoveEvent
	clicks := 0
	for _, e := range events {
		switch ev := e.(type) {
		case PointerMoveEvent:
			moves = append(moves, ev)
		case PointerClickEvent:
			clicks++
		}
	}
	if len(moves) < MinPointerMoves {
		return nil, false
	}

	// Zero-velocity samples are excluded from the velocity statistics only;
	// they still participate in distances, pauses and smoothness.
	var velocities, distances []float64
	for _, m := range moves {
		if m.VelocityPxPerMs > 0 {
			velocities = append(velocities, m.VelocityPxPerMs)
		}
		distances = append(distances, m.DistancePx)
	}
	vMin, vMax := minMax(velocities)

	pauseCount, avgPause := pauseStats(moves)

	fv := FeatureVector{
		"velocity_mean":        mean(velocities),
		"velocity_std":         stddev(velocities),
		"velocity_min":         vMin,
		"velocity_max":         vMax,
		"distance_mean":        mean(distances),
		"distance_total":       sum(distances),
		"click_frequency":      float64(clicks) / float64(max(len(moves), 1)),
		"pause_count":          float64(pauseCount),
		"avg_pause_duration":   avgPause,
		"direction_changes":    float64(directionChanges(moves)),
		"movement_smoothness":  movementSmoothness(moves),
		"path_efficiency":      pathEfficiency(moves),
		"micro_movement_ratio": microMovementRatio(moves),
	}
	return fv, true
}

func sum(values []float64) float64 {
	s := 0.0
	for _, v := range values {
		s += v
	}
	return s
}

// pauseStats finds maximal runs of consecutive move samples whose velocity
// is below the pause ceiling. A run whose total duration exceeds 100ms is
// one pause; shorter runs are ignored.
func pauseStats(moves []PointerMoveEvent) (count int, avgDurationMs float64) {
	var durations []float64
	run := 0.0
	inRun := false
	flush := func() {
		if inRun && run > pauseMinDurationMs {
			durations = append(durations, run)
		}
		run = 0
		inRun = false
	}
	for _, m := range moves {
		if m.VelocityPxPerMs < pauseVelocityCeiling {
			inRun = true
			run += m.TimeDeltaMs
		} else {
			flush()
		}
	}
	flush()
	return len(durations), mean(durations)
}

// directionChanges counts consecutive direction deltas whose absolute value
// exceeds 45 degrees.
func directionChanges(moves []PointerMoveEvent) int {
	changes := 0
	for i := 1; i < len(moves); i++ {
		if math.Abs(moves[i].DirectionDeg-moves[i-1].DirectionDeg) > directionChangeDeg {
			changes++
		}
	}
	return changes
}

// movementSmoothness is the mean absolute difference between consecutive
// velocities. Lower values mean smoother movement.
func movementSmoothness(moves []PointerMoveEvent) float64 {
	if len(moves) < 2 {
		return 0
	}
	var jerks []float64
	for i := 1; i < len(moves); i++ {
		jerks = append(jerks, math.Abs(moves[i].VelocityPxPerMs-moves[i-1].VelocityPxPerMs))
	}
	return mean(jerks)
}

// pathEfficiency is the straight-line distance from the first to the last
// sample divided by the total traveled distance. A perfectly direct path
// scores 1.0; so does a path with zero total distance.
func pathEfficiency(moves []PointerMoveEvent) float64 {
	total := 0.0
	for _, m := range moves {
		total += m.DistancePx
	}
	if total == 0 {
		return 1.0
	}
	first, last := moves[0], moves[len(moves)-1]
	direct := math.Hypot(last.X-first.X, last.Y-first.Y)
	return direct / total
}

// microMovementRatio is the share of move samples shorter than 3px,
// a tremor/hesitation proxy.
func microMovementRatio(moves []PointerMoveEvent) float64 {
	micro := 0
	for _, m := range moves {
		if m.DistancePx < microMoveCeilingPx {
			micro++
		}
	}
	return float64(micro) / float64(len(moves))
}
