package replay

import (
	"context"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/tone-stabilizer/internal/filter"
	"github.com/danielpatrickdp/tone-stabilizer/internal/gate"
	"github.com/danielpatrickdp/tone-stabilizer/internal/pipeline"
	"github.com/danielpatrickdp/tone-stabilizer/internal/tone"
)

func runFixture(t *testing.T, name string) (*Fixture, []ReplayResult, tone.SessionState) {
	t.Helper()
	f, err := LoadFixture(filepath.Join("testdata", name))
	require.NoError(t, err)
	results, final, err := Replay(context.Background(), f.Config.ToPipelineConfig(), f.PipelineTurns())
	require.NoError(t, err)
	return f, results, final
}

// #region fixture-tests

// TestFixture_Trajectory is the primary regression test: if filter, drift or
// gate constants change, the per-turn actions and flags drift with them.
func TestFixture_Trajectory(t *testing.T) {
	f, results, final := runFixture(t, "trajectory.json")
	for _, m := range Check(f.ExpectedResults, results) {
		t.Error(m.String())
	}

	got := Summarize(results, final)
	want := ReplaySummary{
		TotalTurns:      5,
		Emits:           3,
		Blocks:          1,
		Errors:          1,
		ChangePoints:    1,
		Regularizations: 2,
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(ReplaySummary{}, "MaxStep", "FinalState")); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	// Widened t3 step: |(0.07, 0.05, 0.05)|.
	assert.InDelta(t, math.Sqrt(0.0049+0.0025+0.0025), got.MaxStep, 1e-9)
	assert.Equal(t, 4, final.Turns)
	assert.Len(t, final.History, 4)
}

func TestFixture_SpikeRejection(t *testing.T) {
	f, results, final := runFixture(t, "spike_rejection.json")
	for _, m := range Check(f.ExpectedResults, results) {
		t.Error(m.String())
	}
	for _, r := range results {
		assert.True(t, r.Eval.Passed, "%s: %s", r.TurnID, r.Eval.Reason)
		assert.InDelta(t, 0, r.Result.Fusion.FusedTone.Sub(tone.Neutral).Norm(), 1e-12,
			"%s: spike leaked into output %v", r.TurnID, r.Result.Fusion.FusedTone)
	}
	assert.InDelta(t, 0, Summarize(results, final).MaxStep, 1e-12, "expected no movement")
}

func TestLoadFixture_Errors(t *testing.T) {
	_, err := LoadFixture(filepath.Join("testdata", "missing.json"))
	assert.Error(t, err, "missing file")
	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = LoadFixture(bad)
	assert.Error(t, err, "parse error")
}

// #endregion fixture-tests

// #region harness-tests

func TestReplay_InvalidConfig(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	cfg.HistorySize = 0
	_, _, err := Replay(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestFixtureConfig_Overrides(t *testing.T) {
	hs, drift := 5, 0.1
	alpha := [3]float64{0.5, 0.5, 0.5}
	fc := FixtureConfig{HistorySize: &hs, MaxDrift: &drift, BaseAlpha: &alpha}
	cfg := fc.ToPipelineConfig()

	want := pipeline.DefaultConfig()
	want.HistorySize = 5
	want.Drift.MaxDrift = 0.1
	want.Filter.BaseAlpha = tone.Vector{0.5, 0.5, 0.5}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestFixtureTurn_ToTurn(t *testing.T) {
	ft := FixtureTurn{TurnID: "x", Raw: []float64{1, 2, 3}, Features: map[string]float64{"irony": 0.4}, Block: true, Level: "warn"}
	got := ft.ToTurn()
	want := pipeline.Turn{
		TurnID:   "x",
		Raw:      []float64{1, 2, 3},
		Features: tone.Features{"irony": 0.4},
		Verdict:  gate.Verdict{Block: true, Level: gate.LevelWarn},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("turn mismatch (-want +got):\n%s", diff)
	}
}

func TestCheck_ReportsMismatches(t *testing.T) {
	yes := true
	expected := []FixtureExpectedResult{
		{TurnID: "a", Action: ActionEmit, ChangePoint: &yes},
		{TurnID: "b", Action: ActionBlocked},
	}
	results := []ReplayResult{{TurnID: "a", Action: ActionEmit}}

	got := Check(expected, results)
	want := []Mismatch{
		{Field: "turns", Want: "2", Got: "1"},
		{TurnID: "a", Field: "change_point", Want: "true", Got: "false"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch list (-want +got):\n%s", diff)
	}
}

// Without change-points, no replayed step may exceed the slew bound.
func TestReplay_BoundedStepsOnRandomWalk(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	turns := make([]pipeline.Turn, 500)
	for i := range turns {
		turns[i] = pipeline.Turn{
			TurnID:     "r",
			Raw:        []float64{rng.Float64(), rng.Float64(), rng.Float64()},
			Features:   tone.Features{tone.CueWorry: 0.2},
			Confidence: rng.Float64(),
		}
	}
	results, final, err := Replay(context.Background(), pipeline.DefaultConfig(), turns)
	require.NoError(t, err)
	s := Summarize(results, final)
	require.Zero(t, s.ChangePoints)
	assert.Zero(t, s.EvalFailures, "every turn passes eval")
	limit := filter.MaxStepNorm(filter.DefaultConfig().MaxStep)
	assert.LessOrEqual(t, s.MaxStep, limit+1e-12)
}

// #endregion harness-tests
