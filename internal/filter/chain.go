package filter

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/tone-stabilizer/internal/tone"
)

// #region chain
// Chain is the per-turn stabilization filter: median, change-point, EMA, slew.
// It holds only read-only configuration; all session data arrives through Step.
type Chain struct {
	config Config
}

// NewChain creates a chain with the given configuration.
func NewChain(config Config) *Chain {
	return &Chain{config: config}
}

// Config returns the chain's configuration.
func (c *Chain) Config() Config {
	return c.config
}

// Step runs one turn through the chain. It returns the stage diagnostics and the
// next session state with Window, LastFeatures, LastEmitted and Turns advanced.
// History is left to the caller, which appends the post-regularization vector.
// On error st is returned unchanged.
func (c *Chain) Step(st tone.SessionState, in Input) (Result, tone.SessionState, error) {
	if err := in.Raw.Validate(); err != nil {
		return Result{}, st, fmt.Errorf("raw tone: %w", err)
	}
	if err := in.Features.Validate(); err != nil {
		return Result{}, st, fmt.Errorf("features: %w", err)
	}
	if err := tone.ValidateConfidence(in.Confidence); err != nil {
		return Result{}, st, err
	}

	var res Result

	// 1. Spike rejection over the two previous raw readings.
	res.Median = Median3(st.Window, in.Raw)

	// 2. Change-point against the previous turn's cues. The first turn has none.
	if st.Turns > 0 {
		res.ChangePoint = DetectChangePoint(st.LastFeatures, in.Features, c.config.ChangePoint)
	}

	// 3. Confidence-adaptive EMA toward the median-filtered reading.
	res.Alpha = Alpha(c.config.BaseAlpha, in.Confidence)
	res.Bound = c.config.MaxStep
	if res.ChangePoint {
		for d := range res.Bound {
			res.Bound[d] *= c.config.WideningFactor
		}
	}

	if st.LastEmitted == nil {
		// First turn: nothing to smooth or bound against.
		res.Smoothed = res.Median
		res.Output = res.Median
	} else {
		prev := *st.LastEmitted
		res.Smoothed = ema(prev, res.Median, res.Alpha)
		// 4. Slew limit against the previous emitted vector.
		res.Output = SlewLimit(prev, res.Smoothed, res.Bound)
		res.Limited = res.Output != res.Smoothed
	}

	next := st.Clone()
	next.PushWindow(in.Raw)
	next.LastFeatures = in.Features.Clone()
	out := res.Output
	next.LastEmitted = &out
	next.Turns++

	return res, next, nil
}

// #endregion chain

// #region stages
// Median3 returns the per-dimension median of window[-2], window[-1] and cur.
// With fewer than two prior readings cur passes through unchanged.
func Median3(window []tone.Vector, cur tone.Vector) tone.Vector {
	if len(window) < 2 {
		return cur
	}
	a, b := window[len(window)-2], window[len(window)-1]
	var out tone.Vector
	for d := range out {
		out[d] = median(a[d], b[d], cur[d])
	}
	return out
}

// DetectChangePoint reports whether any cue moved past its threshold since the
// previous turn. Missing cues on either side read as 0.
func DetectChangePoint(prev, cur tone.Features, th ChangePointThresholds) bool {
	delta := func(cue string) float64 {
		return math.Abs(cur.Get(cue) - prev.Get(cue))
	}
	return delta(tone.CueWorry) > th.Worry ||
		delta(tone.CueIrony) > th.Irony ||
		delta(tone.CueHumor) > th.Humor
}

// Alpha scales base by (0.5 + 0.5*confidence): uncertain readings move the EMA less.
func Alpha(base tone.Vector, confidence float64) tone.Vector {
	scale := 0.5 + 0.5*confidence
	var out tone.Vector
	for d := range out {
		out[d] = base[d] * scale
	}
	return out
}

// AdaptiveEMA blends prev toward cur with confidence-scaled per-dimension weights.
func AdaptiveEMA(prev, cur, base tone.Vector, confidence float64) tone.Vector {
	return ema(prev, cur, Alpha(base, confidence))
}

// SlewLimit clamps cur into [prev-dmax, prev+dmax] per dimension.
func SlewLimit(prev, cur, dmax tone.Vector) tone.Vector {
	var out tone.Vector
	for d := range out {
		out[d] = math.Max(prev[d]-dmax[d], math.Min(prev[d]+dmax[d], cur[d]))
	}
	return out
}

// MaxStepNorm is the L2 bound on a single emitted step for dmax.
func MaxStepNorm(dmax tone.Vector) float64 {
	return dmax.Norm()
}

// #endregion stages

// #region helpers
func ema(prev, cur, alpha tone.Vector) tone.Vector {
	var out tone.Vector
	for d := range out {
		out[d] = prev[d]*(1-alpha[d]) + cur[d]*alpha[d]
	}
	return out
}

func median(a, b, c float64) float64 {
	if a > b {
		a, b = b, a
	}
	if b > c {
		b = c
	}
	if a > b {
		return a
	}
	return b
}

// #endregion helpers
