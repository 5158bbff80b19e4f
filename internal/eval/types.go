package eval

// #region eval-config
// EvalConfig holds thresholds for per-turn validation of a stabilized result.
type EvalConfig struct {
	Tolerance     float64 // numeric slack on every bound check
	DriftBaseline float64 // warn if pre-regularization drift rises above this
}

// DefaultEvalConfig returns the defaults used by replay.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		Tolerance:     1e-9,
		DriftBaseline: 0.05,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of one turn's validation.
type EvalResult struct {
	Passed  bool
	Metrics []EvalMetric
	Reason  string
}

// #endregion eval-result
