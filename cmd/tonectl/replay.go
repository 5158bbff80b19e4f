package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/tone-stabilizer/internal/pipeline"
	"github.com/danielpatrickdp/tone-stabilizer/internal/replay"
)

var (
	fixturePath string
	replayJSON  bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a JSON fixture through a fresh in-memory session and check its expectations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if fixturePath == "" {
			return fmt.Errorf("--fixture is required")
		}
		return runReplay(cmd, os.Stdout)
	},
}

func init() {
	replayCmd.Flags().StringVar(&fixturePath, "fixture", "", "path to fixture JSON")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "print per-turn results as JSON")
}

// #region replay
type replayRow struct {
	TurnID      string  `json:"turn_id"`
	Action      string  `json:"action"`
	Reason      string  `json:"reason,omitempty"`
	Warmth      float64 `json:"warmth_index"`
	Drift       float64 `json:"drift"`
	Step        float64 `json:"step"`
	ChangePoint bool    `json:"change_point"`
	Regularized bool    `json:"regularized"`
}

func runReplay(cmd *cobra.Command, w io.Writer) error {
	f, err := replay.LoadFixture(fixturePath)
	if err != nil {
		return err
	}
	results, final, err := replay.Replay(cmd.Context(), f.Config.ToPipelineConfig(), f.PipelineTurns(),
		pipeline.WithLogger(logger))
	if err != nil {
		return err
	}

	rows := make([]replayRow, len(results))
	for i, r := range results {
		rows[i] = replayRow{
			TurnID:      r.TurnID,
			Action:      r.Action,
			Reason:      r.Reason,
			Warmth:      r.Result.Fusion.WarmthIndex,
			Drift:       r.Result.Diagnostics.Drift,
			Step:        r.Step,
			ChangePoint: r.Result.Diagnostics.ChangePoint,
			Regularized: r.Result.Diagnostics.Regularized,
		}
	}
	if replayJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(w, "%-10s %-8s %-7s %-7s %-7s %-3s %-3s  %s\n", "TURN", "ACTION", "WARMTH", "DRIFT", "STEP", "CP", "REG", "REASON")
		for _, r := range rows {
			fmt.Fprintf(w, "%-10s %-8s %-7.4f %-7.4f %-7.4f %-3s %-3s  %s\n",
				r.TurnID, r.Action, r.Warmth, r.Drift, r.Step, mark(r.ChangePoint), mark(r.Regularized), r.Reason)
		}
	}

	s := replay.Summarize(results, final)
	fmt.Fprintf(os.Stderr, "\n%d turns: %d emit, %d blocked, %d error | change-points=%d regularized=%d eval-failures=%d max-step=%.4f\n",
		s.TotalTurns, s.Emits, s.Blocks, s.Errors, s.ChangePoints, s.Regularizations, s.EvalFailures, s.MaxStep)
	for _, r := range results {
		if r.Action != replay.ActionError && !r.Eval.Passed {
			fmt.Fprintf(os.Stderr, "EVAL %s: %s\n", r.TurnID, r.Eval.Reason)
		}
	}

	mismatches := replay.Check(f.ExpectedResults, results)
	for _, m := range mismatches {
		fmt.Fprintf(os.Stderr, "MISMATCH %s\n", m.String())
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("%d expectation mismatches", len(mismatches))
	}
	if s.EvalFailures > 0 {
		return fmt.Errorf("%d turns failed eval", s.EvalFailures)
	}
	return nil
}

func mark(b bool) string {
	if b {
		return "y"
	}
	return "-"
}

// #endregion replay
