package tone

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSlice(t *testing.T) {
	v, err := FromSlice([]float64{0.1, 0.2, 0.3})
	require.NoError(t, err)
	assert.Equal(t, NewVector(0.1, 0.2, 0.3), v)

	for _, vals := range [][]float64{nil, {0.1}, {0.1, 0.2}, {0.1, 0.2, 0.3, 0.4}} {
		_, err := FromSlice(vals)
		assert.ErrorIs(t, err, ErrInvalidDimensionality, "len=%d", len(vals))
	}
}

func TestVectorValidate(t *testing.T) {
	assert.NoError(t, NewVector(-3, 0.5, 7).Validate(), "out-of-range values are not rejected")
	assert.ErrorIs(t, NewVector(math.NaN(), 0, 0).Validate(), ErrNonFinite)
	assert.ErrorIs(t, NewVector(0, math.Inf(1), 0).Validate(), ErrNonFinite)
}

func TestVectorMath(t *testing.T) {
	a := NewVector(0.8, 0.7, 0.9)
	b := NewVector(0.5, 0.5, 0.5)

	d := a.Sub(b)
	assert.InDeltaSlice(t, []float64{0.3, 0.2, 0.4}, d[:], 1e-12)
	assert.InDelta(t, math.Sqrt(0.09+0.04+0.16), d.Norm(), 1e-12)

	mid := a.Lerp(b, 0.5)
	assert.InDeltaSlice(t, []float64{0.65, 0.6, 0.7}, mid[:], 1e-12)

	m := Mean([]Vector{a, b})
	assert.InDeltaSlice(t, []float64{0.65, 0.6, 0.7}, m[:], 1e-12)
	assert.Equal(t, Vector{}, Mean(nil))
}

func TestFeaturesValidate(t *testing.T) {
	assert.NoError(t, Features(nil).Validate())
	assert.NoError(t, Features{CueWorry: 0.4, CueHumor: 0, CueIrony: 1}.Validate())

	err := Features{"sarcasm": 0.3}.Validate()
	assert.True(t, errors.Is(err, ErrMalformedFeatures))
	assert.Contains(t, err.Error(), "sarcasm")

	assert.ErrorIs(t, Features{CueWorry: math.NaN()}.Validate(), ErrMalformedFeatures)
}

func TestFeaturesGetMissing(t *testing.T) {
	var f Features
	assert.Equal(t, 0.0, f.Get(CueWorry))
	assert.Equal(t, 0.25, Features{CueHumor: 0.25}.Get(CueHumor))
}

func TestValidateConfidence(t *testing.T) {
	for _, c := range []float64{0, 0.5, 1} {
		assert.NoError(t, ValidateConfidence(c))
	}
	for _, c := range []float64{-0.01, 1.01, math.NaN()} {
		assert.ErrorIs(t, ValidateConfidence(c), ErrInvalidConfidence)
	}
}
