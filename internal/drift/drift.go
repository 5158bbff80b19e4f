package drift

import "github.com/danielpatrickdp/tone-stabilizer/internal/tone"

// #region config
// Config holds the regularizer's calibration constants.
type Config struct {
	MaxDrift      float64 // L2 distance from the window mean tolerated before correcting
	CurrentWeight float64 // share of the current vector kept when correcting
	Window        int     // history entries averaged (newest first); <= session history size
}

// DefaultConfig returns the calibrated defaults.
func DefaultConfig() Config {
	return Config{
		MaxDrift:      0.05,
		CurrentWeight: 0.7,
		Window:        tone.HistorySize,
	}
}

// #endregion config

// #region result
// Result is the regularizer's output for one turn.
type Result struct {
	Tone        tone.Vector
	Mean        tone.Vector // window average; zero when history is empty
	Drift       float64     // L2 distance between the input and Mean
	Regularized bool
}

// #endregion result

// #region regularizer
// Regularizer pulls a filtered tone back toward its rolling mean when it has
// wandered further than the per-step slew bound alone can detect.
type Regularizer struct {
	config Config
}

// NewRegularizer creates a regularizer with the given configuration.
func NewRegularizer(config Config) *Regularizer {
	return &Regularizer{config: config}
}

// Config returns the regularizer's configuration.
func (r *Regularizer) Config() Config {
	return r.config
}

// Apply compares current against the mean of the newest Window entries of history.
func (r *Regularizer) Apply(current tone.Vector, history []tone.Vector) Result {
	if len(history) == 0 {
		return Result{Tone: current}
	}
	if w := r.config.Window; w > 0 && len(history) > w {
		history = history[len(history)-w:]
	}

	mean := tone.Mean(history)
	d := current.Sub(mean).Norm()
	if d <= r.config.MaxDrift {
		return Result{Tone: current, Mean: mean, Drift: d}
	}

	// Convex blend of current and mean; stays inside their range.
	return Result{
		Tone:        mean.Lerp(current, r.config.CurrentWeight),
		Mean:        mean,
		Drift:       d,
		Regularized: true,
	}
}

// #endregion regularizer
