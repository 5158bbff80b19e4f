package gate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danielpatrickdp/tone-stabilizer/internal/tone"
)

// #region level
// Level is the safety module's severity for a turn.
type Level string

const (
	LevelSafe Level = "safe"
	LevelWarn Level = "warn"
	LevelRed  Level = "red"
)

// ErrInvalidLevel is returned by ParseLevel for unknown severities.
var ErrInvalidLevel = errors.New("invalid safety level")

// ParseLevel parses a case-insensitive level name.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelSafe, LevelWarn, LevelRed:
		return l, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
}

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	_, err := ParseLevel(string(l))
	return err == nil
}

// #endregion level

// #region verdict
// Verdict is the safety shield's decision for a turn. Produced outside this module.
type Verdict struct {
	Block bool
	Level Level
}

// SafeVerdict is the verdict for a turn the shield did not flag.
func SafeVerdict() Verdict {
	return Verdict{Block: false, Level: LevelSafe}
}

// #endregion verdict

// #region empathy-result
// EmpathyResult is the tone side of fusion: the named cues present this turn
// and the tone vector to fuse.
type EmpathyResult struct {
	Affects []string
	Tone    tone.Vector
}

// #endregion empathy-result

// #region gate-config
// GateConfig holds the warmth shift applied per present cue.
type GateConfig struct {
	WarmthShifts map[string]float64
}

// DefaultGateConfig returns the calibrated cue shifts.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		WarmthShifts: map[string]float64{
			tone.CueWorry: -0.10,
			tone.CueHumor: +0.15,
			tone.CueIrony: -0.05,
		},
	}
}

// #endregion gate-config

// #region fusion-result
// FusionResult is the externally visible outcome of a turn.
type FusionResult struct {
	FusedTone        tone.Vector
	Block            bool
	SafetyLevel      Level
	EmpathyPreserved bool
	WarmthIndex      float64 // always FusedTone[tone.Warmth]
	Reason           string
}

// #endregion fusion-result
