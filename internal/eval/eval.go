package eval

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/tone-stabilizer/internal/pipeline"
	"github.com/danielpatrickdp/tone-stabilizer/internal/tone"
)

// #region eval-harness
// EvalHarness checks a processed turn against the guarantees of the
// stabilizer: bounded steps, drift that only shrinks, a warmth index in
// range and a neutral tone on blocked turns.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run validates res. prevFiltered is the previous turn's filter output, nil
// on the first turn of a session.
func (h *EvalHarness) Run(res pipeline.Result, prevFiltered *tone.Vector) EvalResult {
	var metrics []EvalMetric
	var failReasons []string
	tol := h.config.Tolerance
	d := res.Diagnostics

	// 1. Slew bound, per dimension, against the bound actually applied.
	if prevFiltered != nil {
		step := d.Filtered.Sub(*prevFiltered)
		pass := true
		for i := range step {
			if math.Abs(step[i]) > d.Bound[i]+tol {
				pass = false
			}
		}
		metrics = append(metrics, EvalMetric{Name: "step_norm", Value: step.Norm(), Pass: pass})
		if !pass {
			failReasons = append(failReasons, fmt.Sprintf("step %v exceeds bound %v", step, d.Bound))
		}
	}

	// 2. Regularization never moves away from the history mean.
	if d.Regularized {
		after := d.Stabilized.Sub(d.HistoryMean).Norm()
		pass := after <= d.Drift+tol
		metrics = append(metrics, EvalMetric{Name: "drift_after", Value: after, Pass: pass})
		if !pass {
			failReasons = append(failReasons, fmt.Sprintf("regularized drift %.4f exceeds raw drift %.4f", after, d.Drift))
		}
	}

	// 3. Warmth index in [0,1].
	w := res.Fusion.WarmthIndex
	warmthPass := w >= -tol && w <= 1+tol
	metrics = append(metrics, EvalMetric{Name: "warmth_index", Value: w, Pass: warmthPass})
	if !warmthPass {
		failReasons = append(failReasons, fmt.Sprintf("warmth index %.4f outside [0,1]", w))
	}

	// 4. Blocked turns emit exactly the neutral tone.
	if res.Fusion.Block {
		dist := res.Fusion.FusedTone.Sub(tone.Neutral).Norm()
		pass := dist <= tol
		metrics = append(metrics, EvalMetric{Name: "block_neutral", Value: dist, Pass: pass})
		if !pass {
			failReasons = append(failReasons, fmt.Sprintf("blocked turn emitted %v", res.Fusion.FusedTone))
		}
	}

	// 5. Drift against baseline: informational, does not fail.
	metrics = append(metrics, EvalMetric{
		Name:  "drift",
		Value: d.Drift,
		Pass:  d.Drift <= h.config.DriftBaseline,
	})

	reason := "all checks passed"
	if len(failReasons) == 1 {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
	} else if len(failReasons) > 1 {
		reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
	}

	return EvalResult{
		Passed:  len(failReasons) == 0,
		Metrics: metrics,
		Reason:  reason,
	}
}

// #endregion eval-harness

// #region helpers
// Metric returns the named metric, if present.
func (r EvalResult) Metric(name string) (EvalMetric, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return EvalMetric{}, false
}

// #endregion helpers
