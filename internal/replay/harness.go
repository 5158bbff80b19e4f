package replay

import (
	"context"
	"fmt"
	"strconv"

	"github.com/danielpatrickdp/tone-stabilizer/internal/eval"
	"github.com/danielpatrickdp/tone-stabilizer/internal/pipeline"
	"github.com/danielpatrickdp/tone-stabilizer/internal/tone"
)

// Replay actions.
const (
	ActionEmit    = "emit"
	ActionBlocked = "blocked"
	ActionError   = "error"
)

// #region types

// ReplayResult captures the outcome of one replayed turn.
type ReplayResult struct {
	TurnID string
	Action string
	Reason string
	Result pipeline.Result
	Err    error
	Step   float64 // L2 distance from the previous filtered vector; 0 on the first emit
	Eval   eval.EvalResult
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalTurns      int
	Emits           int
	Blocks          int
	Errors          int
	ChangePoints    int
	Regularizations int
	EvalFailures    int
	MaxStep         float64
	FinalState      tone.SessionState
}

// Mismatch is one disagreement between a replay and its expectations.
type Mismatch struct {
	TurnID string
	Field  string
	Want   string
	Got    string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: %s want=%s got=%s", m.TurnID, m.Field, m.Want, m.Got)
}

// #endregion types

// #region replay

// Replay runs turns through a fresh session entirely in memory. Every
// processed turn is validated by the eval harness.
func Replay(ctx context.Context, config pipeline.Config, turns []pipeline.Turn, opts ...pipeline.Option) ([]ReplayResult, tone.SessionState, error) {
	p, err := pipeline.New(config, opts...)
	if err != nil {
		return nil, tone.SessionState{}, err
	}

	h := eval.NewEvalHarness(eval.DefaultEvalConfig())
	st := tone.NewSessionState()
	results := make([]ReplayResult, 0, len(turns))
	var prev *tone.Vector

	for _, turn := range turns {
		res, next, err := p.Process(ctx, st, turn)
		if err != nil {
			results = append(results, ReplayResult{
				TurnID: turn.TurnID,
				Action: ActionError,
				Reason: err.Error(),
				Err:    err,
			})
			continue
		}
		st = next

		r := ReplayResult{
			TurnID: turn.TurnID,
			Action: ActionEmit,
			Reason: res.Fusion.Reason,
			Result: res,
		}
		if res.Fusion.Block {
			r.Action = ActionBlocked
		}
		r.Eval = h.Run(res, prev)
		filtered := res.Diagnostics.Filtered
		if prev != nil {
			r.Step = filtered.Sub(*prev).Norm()
		}
		prev = &filtered
		results = append(results, r)
	}
	return results, st, nil
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult, finalState tone.SessionState) ReplaySummary {
	s := ReplaySummary{
		TotalTurns: len(results),
		FinalState: finalState,
	}
	for _, r := range results {
		switch r.Action {
		case ActionEmit:
			s.Emits++
		case ActionBlocked:
			s.Blocks++
		case ActionError:
			s.Errors++
			continue
		}
		if r.Result.Diagnostics.ChangePoint {
			s.ChangePoints++
		}
		if r.Result.Diagnostics.Regularized {
			s.Regularizations++
		}
		if !r.Eval.Passed {
			s.EvalFailures++
		}
		if r.Step > s.MaxStep {
			s.MaxStep = r.Step
		}
	}
	return s
}

// Check compares results against a fixture's expectations, turn by turn.
func Check(expected []FixtureExpectedResult, results []ReplayResult) []Mismatch {
	var out []Mismatch
	if len(expected) != len(results) {
		out = append(out, Mismatch{Field: "turns", Want: strconv.Itoa(len(expected)), Got: strconv.Itoa(len(results))})
	}
	n := min(len(expected), len(results))
	for i := 0; i < n; i++ {
		want, got := expected[i], results[i]
		if want.TurnID != got.TurnID {
			out = append(out, Mismatch{TurnID: want.TurnID, Field: "turn_id", Want: want.TurnID, Got: got.TurnID})
		}
		if want.Action != got.Action {
			out = append(out, Mismatch{TurnID: want.TurnID, Field: "action", Want: want.Action, Got: got.Action})
		}
		if want.ChangePoint != nil && *want.ChangePoint != got.Result.Diagnostics.ChangePoint {
			out = append(out, Mismatch{TurnID: want.TurnID, Field: "change_point",
				Want: strconv.FormatBool(*want.ChangePoint), Got: strconv.FormatBool(got.Result.Diagnostics.ChangePoint)})
		}
		if want.Regularized != nil && *want.Regularized != got.Result.Diagnostics.Regularized {
			out = append(out, Mismatch{TurnID: want.TurnID, Field: "regularized",
				Want: strconv.FormatBool(*want.Regularized), Got: strconv.FormatBool(got.Result.Diagnostics.Regularized)})
		}
	}
	return out
}

// #endregion replay
