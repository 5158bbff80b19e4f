package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of every tone instrument.
const MeterName = "github.com/danielpatrickdp/tone-stabilizer/internal/pipeline"

// TurnOutcome is what the recorder needs to know about one processed turn.
type TurnOutcome struct {
	SafetyLevel string
	Blocked     bool
	ChangePoint bool
	Regularized bool
	Drift       float64
}

// Recorder owns the pipeline's counters. A nil *Recorder records nothing.
type Recorder struct {
	turns           metric.Int64Counter
	changePoints    metric.Int64Counter
	regularizations metric.Int64Counter
	blocks          metric.Int64Counter
	errors          metric.Int64Counter
	drift           metric.Float64Histogram
}

// NewRecorder registers the tone instruments on meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	var r Recorder
	var err error
	if r.turns, err = meter.Int64Counter("tone.turns.total",
		metric.WithDescription("Turns processed")); err != nil {
		return nil, fmt.Errorf("register tone.turns.total: %w", err)
	}
	if r.changePoints, err = meter.Int64Counter("tone.changepoints.total",
		metric.WithDescription("Turns where a cue change-point widened the step bound")); err != nil {
		return nil, fmt.Errorf("register tone.changepoints.total: %w", err)
	}
	if r.regularizations, err = meter.Int64Counter("tone.regularizations.total",
		metric.WithDescription("Turns pulled back toward the history mean")); err != nil {
		return nil, fmt.Errorf("register tone.regularizations.total: %w", err)
	}
	if r.blocks, err = meter.Int64Counter("tone.blocks.total",
		metric.WithDescription("Turns neutralized by a safety block")); err != nil {
		return nil, fmt.Errorf("register tone.blocks.total: %w", err)
	}
	if r.errors, err = meter.Int64Counter("tone.errors.total",
		metric.WithDescription("Turns rejected as malformed")); err != nil {
		return nil, fmt.Errorf("register tone.errors.total: %w", err)
	}
	if r.drift, err = meter.Float64Histogram("tone.drift",
		metric.WithDescription("L2 distance of the filtered tone from the history mean")); err != nil {
		return nil, fmt.Errorf("register tone.drift: %w", err)
	}
	return &r, nil
}

// DefaultRecorder registers instruments on the global meter provider.
func DefaultRecorder() (*Recorder, error) {
	return NewRecorder(otel.Meter(MeterName))
}

// RecordTurn counts one successfully processed turn.
func (r *Recorder) RecordTurn(ctx context.Context, o TurnOutcome) {
	if r == nil {
		return
	}
	level := metric.WithAttributes(attribute.String("safety_level", o.SafetyLevel))
	r.turns.Add(ctx, 1, level)
	r.drift.Record(ctx, o.Drift)
	if o.ChangePoint {
		r.changePoints.Add(ctx, 1)
	}
	if o.Regularized {
		r.regularizations.Add(ctx, 1)
	}
	if o.Blocked {
		r.blocks.Add(ctx, 1, level)
	}
}

// RecordError counts one rejected turn, tagged with a short kind.
func (r *Recorder) RecordError(ctx context.Context, kind string) {
	if r == nil {
		return
	}
	r.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
