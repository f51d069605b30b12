package behavior

import (
	"fmt"
	"time"
)

// TrustLevel is the discretized bucket of a continuous trust score.
// Levels are ordered: a smaller value means less trust.
type TrustLevel int

const (
	TrustCritical TrustLevel = iota // [0.0, 0.2)
	TrustLow                        // [0.2, 0.4)
	TrustModerate                   // [0.4, 0.6)
	TrustHigh                       // [0.6, 0.8)
	TrustMaximum                    // [0.8, 1.0]
)

func (l TrustLevel) String() string {
	switch l {
	case TrustCritical:
		return "critical"
	case TrustLow:
		return "low"
	case TrustModerate:
		return "moderate"
	case TrustHigh:
		return "high"
	case TrustMaximum:
		return "maximum"
	default:
		return "unknown"
	}
}

// ParseTrustLevel maps the server's string representation to a level.
func ParseTrustLevel(s string) (TrustLevel, error) {
	switch s {
	case "critical":
		return TrustCritical, nil
	case "low":
		return TrustLow, nil
	case "moderate":
		return TrustModerate, nil
	case "high":
		return TrustHigh, nil
	case "maximum":
		return TrustMaximum, nil
	default:
		return TrustModerate, fmt.Errorf("unknown trust level %q", s)
	}
}

// LevelForScore classifies a score into its trust level. Scores outside
// [0,1] are clamped before classification. Intervals are half-open except
// MAXIMUM, which is closed at 1.0.
func LevelForScore(score float64) TrustLevel {
	switch {
	case score >= 0.8:
		return TrustMaximum
	case score >= 0.6:
		return TrustHigh
	case score >= 0.4:
		return TrustModerate
	case score >= 0.2:
		return TrustLow
	default:
		return TrustCritical
	}
}

// Action is a server-recommended security response.
type Action string

const (
	ActionTerminateSession   Action = "terminate_session"
	ActionRequireReauth      Action = "require_reauth"
	ActionRestrictAccess     Action = "restrict_access"
	ActionIncreaseMonitoring Action = "increase_monitoring"
	ActionLogOnly            Action = "log_only"
	ActionNoAction           Action = "no_action"
)

// Known reports whether the action is one the dispatcher understands.
// Unknown actions are logged no-ops, never errors.
func (a Action) Known() bool {
	switch a {
	case ActionTerminateSession, ActionRequireReauth, ActionRestrictAccess,
		ActionIncreaseMonitoring, ActionLogOnly, ActionNoAction:
		return true
	default:
		return false
	}
}

// TrustSnapshot is a server-derived trust assessment. The engine never
// computes a score locally; snapshots arrive from the live channel or a
// poll response.
type TrustSnapshot struct {
	Score             float64            `json:"trust_score"`
	Level             TrustLevel         `json:"-"`
	LevelName         string             `json:"trust_level"`
	Components        map[string]float64 `json:"trust_components"`
	RecommendedAction Action             `json:"recommended_action,omitempty"`
	CapturedAt        time.Time          `json:"-"`
}

// Normalize clamps the score, derives Level from it and stamps CapturedAt
// when the server omitted a usable level name. Call after decoding.
func (s *TrustSnapshot) Normalize(now time.Time) {
	if s.Score < 0 {
		s.Score = 0
	}
	if s.Score > 1 {
		s.Score = 1
	}
	if lvl, err := ParseTrustLevel(s.LevelName); err == nil {
		s.Level = lvl
	} else {
		s.Level = LevelForScore(s.Score)
		s.LevelName = s.Level.String()
	}
	if s.CapturedAt.IsZero() {
		s.CapturedAt = now
	}
}
