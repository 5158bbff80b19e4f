package filter

import "github.com/danielpatrickdp/tone-stabilizer/internal/tone"

// #region thresholds
// ChangePointThresholds are the per-cue absolute deltas that signal a genuine affect shift.
type ChangePointThresholds struct {
	Worry float64 // default 0.40
	Irony float64 // default 0.35
	Humor float64 // default 0.45
}

// DefaultChangePointThresholds returns the calibrated cue thresholds.
func DefaultChangePointThresholds() ChangePointThresholds {
	return ChangePointThresholds{
		Worry: 0.40,
		Irony: 0.35,
		Humor: 0.45,
	}
}

// #endregion thresholds

// #region config
// Config holds the smoothing and slew parameters of the chain.
type Config struct {
	BaseAlpha      tone.Vector // EMA weight at full confidence, per dimension
	MaxStep        tone.Vector // slew bound per dimension
	WideningFactor float64     // MaxStep multiplier on change-point turns
	ChangePoint    ChangePointThresholds
}

// DefaultConfig returns the calibrated filter constants.
func DefaultConfig() Config {
	return Config{
		BaseAlpha:      tone.Vector{0.35, 0.22, 0.22},
		MaxStep:        tone.Vector{0.035, 0.025, 0.025},
		WideningFactor: 2.0,
		ChangePoint:    DefaultChangePointThresholds(),
	}
}

// #endregion config

// #region input
// Input is one turn's raw reading as delivered by the tone agent.
type Input struct {
	Raw        tone.Vector
	Features   tone.Features
	Confidence float64
}

// #endregion input

// #region result
// Result carries every intermediate stage of one Step for diagnostics.
type Result struct {
	Median      tone.Vector // after spike rejection
	Smoothed    tone.Vector // after the confidence-adaptive EMA
	Output      tone.Vector // after the slew limiter; the emitted vector
	Alpha       tone.Vector // EMA weights actually used
	Bound       tone.Vector // slew bound actually applied
	ChangePoint bool
	Limited     bool // true when the slew limiter clipped any dimension
}

// #endregion result
