package pipeline

import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/tone-stabilizer/internal/drift"
	"github.com/danielpatrickdp/tone-stabilizer/internal/filter"
	"github.com/danielpatrickdp/tone-stabilizer/internal/gate"
	"github.com/danielpatrickdp/tone-stabilizer/internal/tone"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid pipeline config")

// #region config
// Config wires the stage configurations together.
type Config struct {
	HistorySize  int
	Filter       filter.Config
	Drift        drift.Config
	Gate         gate.GateConfig
	AnchorWeight float64 // 0 disables the anchor pull
	AnchorText   string
	CueThreshold float64 // intensity at which a feature counts as a present cue
}

// DefaultConfig returns the calibrated pipeline.
func DefaultConfig() Config {
	return Config{
		HistorySize:  tone.HistorySize,
		Filter:       filter.DefaultConfig(),
		Drift:        drift.DefaultConfig(),
		Gate:         gate.DefaultGateConfig(),
		AnchorWeight: 0,
		CueThreshold: 0.5,
	}
}

// Validate checks every numeric parameter against its usable range.
func (c Config) Validate() error {
	if c.HistorySize < 1 {
		return fmt.Errorf("%w: history size %d < 1", ErrInvalidConfig, c.HistorySize)
	}
	for d := 0; d < tone.Dimensions; d++ {
		if a := c.Filter.BaseAlpha[d]; !(a > 0 && a <= 1) {
			return fmt.Errorf("%w: base alpha[%d]=%v outside (0,1]", ErrInvalidConfig, d, a)
		}
		if m := c.Filter.MaxStep[d]; !(m > 0) {
			return fmt.Errorf("%w: max step[%d]=%v must be positive", ErrInvalidConfig, d, m)
		}
	}
	if !(c.Filter.WideningFactor >= 1) {
		return fmt.Errorf("%w: widening factor %v < 1", ErrInvalidConfig, c.Filter.WideningFactor)
	}
	if !(c.Drift.MaxDrift >= 0) {
		return fmt.Errorf("%w: max drift %v < 0", ErrInvalidConfig, c.Drift.MaxDrift)
	}
	if !(c.Drift.CurrentWeight >= 0 && c.Drift.CurrentWeight <= 1) {
		return fmt.Errorf("%w: current weight %v outside [0,1]", ErrInvalidConfig, c.Drift.CurrentWeight)
	}
	if c.Drift.Window < 1 {
		return fmt.Errorf("%w: drift window %d < 1", ErrInvalidConfig, c.Drift.Window)
	}
	if !(c.AnchorWeight >= 0 && c.AnchorWeight <= 1) {
		return fmt.Errorf("%w: anchor weight %v outside [0,1]", ErrInvalidConfig, c.AnchorWeight)
	}
	if !(c.CueThreshold >= 0 && c.CueThreshold <= 1) {
		return fmt.Errorf("%w: cue threshold %v outside [0,1]", ErrInvalidConfig, c.CueThreshold)
	}
	return nil
}

// #endregion config

// #region turn
// Turn is one conversational turn as delivered by the orchestrator.
type Turn struct {
	TurnID     string
	Raw        []float64 // must have exactly tone.Dimensions entries
	Features   tone.Features
	Confidence float64
	Verdict    gate.Verdict
	Affects    []string // nil means derive from Features
	Text       string   // optional, used only by the anchor pull
}

// #endregion turn

// #region result
// Diagnostics exposes every intermediate of a processed turn.
type Diagnostics struct {
	Raw        tone.Vector
	Anchored   tone.Vector
	Affinity   *float64
	Features   tone.Features
	Confidence float64
	Affects    []string

	Median      tone.Vector
	Smoothed    tone.Vector
	Filtered    tone.Vector
	Alpha       tone.Vector
	Bound       tone.Vector
	ChangePoint bool
	Limited     bool

	Drift       float64
	HistoryMean tone.Vector
	Regularized bool
	Stabilized  tone.Vector

	HistoryLen int
}

// Result is the output of one processed turn.
type Result struct {
	TurnID      string
	Fusion      gate.FusionResult
	Diagnostics Diagnostics
}

// #endregion result
