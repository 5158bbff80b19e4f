package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/tone-stabilizer/internal/gate"
	"github.com/danielpatrickdp/tone-stabilizer/internal/pipeline"
	"github.com/danielpatrickdp/tone-stabilizer/internal/tone"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	Config          FixtureConfig           `json:"config"`
	Turns           []FixtureTurn           `json:"turns"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
}

// FixtureTurn mirrors pipeline.Turn with JSON tags. Raw stays a plain array so
// fixtures can encode dimensionality errors.
type FixtureTurn struct {
	TurnID     string             `json:"turn_id"`
	Raw        []float64          `json:"raw"`
	Features   map[string]float64 `json:"features,omitempty"`
	Confidence float64            `json:"confidence"`
	Block      bool               `json:"block,omitempty"`
	Level      string             `json:"level,omitempty"`
	Affects    []string           `json:"affects,omitempty"`
	Text       string             `json:"text,omitempty"`
}

// FixtureExpectedResult captures the expected outcome per turn. Nil flags are not checked.
type FixtureExpectedResult struct {
	TurnID      string `json:"turn_id"`
	Action      string `json:"action"` // "emit" | "blocked" | "error"
	ChangePoint *bool  `json:"change_point,omitempty"`
	Regularized *bool  `json:"regularized,omitempty"`
}

// FixtureConfig overrides the calibrated defaults. Absent fields keep them.
type FixtureConfig struct {
	HistorySize    *int        `json:"history_size,omitempty"`
	BaseAlpha      *[3]float64 `json:"base_alpha,omitempty"`
	MaxStep        *[3]float64 `json:"max_step,omitempty"`
	WideningFactor *float64    `json:"widening_factor,omitempty"`
	MaxDrift       *float64    `json:"max_drift,omitempty"`
	CurrentWeight  *float64    `json:"current_weight,omitempty"`
	DriftWindow    *int        `json:"drift_window,omitempty"`
	CueThreshold   *float64    `json:"cue_threshold,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToTurn converts a FixtureTurn to a pipeline.Turn.
func (ft *FixtureTurn) ToTurn() pipeline.Turn {
	var features tone.Features
	if ft.Features != nil {
		features = tone.Features(ft.Features)
	}
	return pipeline.Turn{
		TurnID:     ft.TurnID,
		Raw:        ft.Raw,
		Features:   features,
		Confidence: ft.Confidence,
		Verdict:    gate.Verdict{Block: ft.Block, Level: gate.Level(ft.Level)},
		Affects:    ft.Affects,
		Text:       ft.Text,
	}
}

// PipelineTurns converts every fixture turn.
func (f *Fixture) PipelineTurns() []pipeline.Turn {
	out := make([]pipeline.Turn, len(f.Turns))
	for i := range f.Turns {
		out[i] = f.Turns[i].ToTurn()
	}
	return out
}

// ToPipelineConfig applies the overrides to pipeline.DefaultConfig.
func (fc *FixtureConfig) ToPipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	if fc.HistorySize != nil {
		cfg.HistorySize = *fc.HistorySize
	}
	if fc.BaseAlpha != nil {
		cfg.Filter.BaseAlpha = tone.Vector(*fc.BaseAlpha)
	}
	if fc.MaxStep != nil {
		cfg.Filter.MaxStep = tone.Vector(*fc.MaxStep)
	}
	if fc.WideningFactor != nil {
		cfg.Filter.WideningFactor = *fc.WideningFactor
	}
	if fc.MaxDrift != nil {
		cfg.Drift.MaxDrift = *fc.MaxDrift
	}
	if fc.CurrentWeight != nil {
		cfg.Drift.CurrentWeight = *fc.CurrentWeight
	}
	if fc.DriftWindow != nil {
		cfg.Drift.Window = *fc.DriftWindow
	}
	if fc.CueThreshold != nil {
		cfg.CueThreshold = *fc.CueThreshold
	}
	return cfg
}

// #endregion fixture-loader
