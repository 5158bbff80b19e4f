package tone

import (
	"errors"
	"fmt"
	"math"
)

// #region errors
var (
	ErrInvalidDimensionality = errors.New("invalid dimensionality")
	ErrNonFinite             = errors.New("non-finite tone component")
	ErrMalformedFeatures     = errors.New("malformed feature scores")
	ErrInvalidConfidence     = errors.New("invalid confidence")
)

// #endregion errors

// #region vector
// Dimensions is the fixed size of a tone vector.
const Dimensions = 3

// Component indices into a Vector.
const (
	Empathy = 0
	Warmth  = 1
	Clarity = 2
)

// Vector is an ordered (empathy, warmth, clarity) triple. Components are
// conceptually in [0,1] but nothing here clamps them.
type Vector [Dimensions]float64

// Neutral is the fixed tone emitted whenever safety blocks a turn.
var Neutral = Vector{0.5, 0.5, 0.5}

// NewVector builds a Vector from its three named components.
func NewVector(empathy, warmth, clarity float64) Vector {
	return Vector{empathy, warmth, clarity}
}

// FromSlice converts an untyped slice into a Vector. Any length other than
// Dimensions is a caller contract violation.
func FromSlice(vals []float64) (Vector, error) {
	if len(vals) != Dimensions {
		return Vector{}, fmt.Errorf("%w: got %d components, want %d", ErrInvalidDimensionality, len(vals), Dimensions)
	}
	var v Vector
	copy(v[:], vals)
	return v, nil
}

// Validate rejects NaN and infinite components.
func (v Vector) Validate() error {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: component %d is %v", ErrNonFinite, i, x)
		}
	}
	return nil
}

// Sub returns v - o component-wise.
func (v Vector) Sub(o Vector) Vector {
	var out Vector
	for i := range out {
		out[i] = v[i] - o[i]
	}
	return out
}

// Norm returns the L2 norm of v.
func (v Vector) Norm() float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Lerp interpolates from v toward o: v*(1-w) + o*w.
func (v Vector) Lerp(o Vector, w float64) Vector {
	var out Vector
	for i := range out {
		out[i] = v[i]*(1-w) + o[i]*w
	}
	return out
}

// Mean averages vs per dimension. An empty input yields the zero vector.
func Mean(vs []Vector) Vector {
	var out Vector
	if len(vs) == 0 {
		return out
	}
	for _, v := range vs {
		for i := range out {
			out[i] += v[i]
		}
	}
	n := float64(len(vs))
	for i := range out {
		out[i] /= n
	}
	return out
}

// #endregion vector

// #region features
// Named affect cues carried in Features.
const (
	CueWorry = "worry"
	CueHumor = "humor"
	CueIrony = "irony"
)

// Cues lists every recognised cue in a stable order.
var Cues = []string{CueWorry, CueHumor, CueIrony}

// Features maps affect cues to their intensity for one turn. Absent cues read as 0.
type Features map[string]float64

// Get returns the intensity of cue, or 0 when absent.
func (f Features) Get(cue string) float64 {
	if f == nil {
		return 0
	}
	return f[cue]
}

// Validate rejects unknown cue names and non-finite intensities.
func (f Features) Validate() error {
	for k, v := range f {
		if !isCue(k) {
			return fmt.Errorf("%w: unknown cue %q", ErrMalformedFeatures, k)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: cue %q is %v", ErrMalformedFeatures, k, v)
		}
	}
	return nil
}

// Clone returns an independent copy of f.
func (f Features) Clone() Features {
	if f == nil {
		return nil
	}
	out := make(Features, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func isCue(name string) bool {
	for _, c := range Cues {
		if c == name {
			return true
		}
	}
	return false
}

// #endregion features

// #region confidence
// ValidateConfidence requires c to be a finite value in [0,1].
func ValidateConfidence(c float64) error {
	if math.IsNaN(c) || c < 0 || c > 1 {
		return fmt.Errorf("%w: %v not in [0,1]", ErrInvalidConfidence, c)
	}
	return nil
}

// #endregion confidence
