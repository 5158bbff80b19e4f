package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/danielpatrickdp/tone-stabilizer/internal/affinity"
	"github.com/danielpatrickdp/tone-stabilizer/internal/drift"
	"github.com/danielpatrickdp/tone-stabilizer/internal/filter"
	"github.com/danielpatrickdp/tone-stabilizer/internal/gate"
	"github.com/danielpatrickdp/tone-stabilizer/internal/logging"
	"github.com/danielpatrickdp/tone-stabilizer/internal/telemetry"
	"github.com/danielpatrickdp/tone-stabilizer/internal/tone"
)

const tracerName = "github.com/danielpatrickdp/tone-stabilizer/internal/pipeline"

// #region pipeline
// Pipeline runs the per-turn stages in order: anchor pull, filter chain,
// drift regularizer, history push, safety fusion. It holds no session state
// and is safe for concurrent use.
type Pipeline struct {
	config      Config
	chain       *filter.Chain
	regularizer *drift.Regularizer
	gate        *gate.Gate

	scorer   *affinity.Scorer
	recorder *telemetry.Recorder
	log      zerolog.Logger
	tracer   trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithScorer enables the anchor pull for turns that carry text.
func WithScorer(s *affinity.Scorer) Option {
	return func(p *Pipeline) { p.scorer = s }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r *telemetry.Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// New validates config and builds a pipeline.
func New(config Config, opts ...Option) (*Pipeline, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		config:      config,
		chain:       filter.NewChain(config.Filter),
		regularizer: drift.NewRegularizer(config.Drift),
		gate:        gate.NewGate(config.Gate),
		log:         zerolog.Nop(),
		tracer:      telemetry.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config {
	return p.config
}

// #endregion pipeline

// #region process
// Process runs one turn against st. On success it returns the result and the
// next session state; on failure st is returned unchanged.
func (p *Pipeline) Process(ctx context.Context, st tone.SessionState, turn Turn) (Result, tone.SessionState, error) {
	ctx, span := p.tracer.Start(ctx, "tone.process_turn",
		trace.WithAttributes(attribute.String("turn_id", turn.TurnID)))
	defer span.End()

	res, next, err := p.process(ctx, st, turn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.recorder.RecordError(ctx, ErrorKind(err))
		ev := p.log.Warn().Str("turn_id", turn.TurnID)
		if traceID, spanID := telemetry.TraceContextFrom(ctx); traceID != "" {
			ev = ev.Str("trace_id", traceID).Str("span_id", spanID)
		}
		ev.Err(err).Msg("turn rejected")
		return Result{TurnID: turn.TurnID}, st, err
	}

	d := res.Diagnostics
	span.SetAttributes(
		attribute.Bool("tone.change_point", d.ChangePoint),
		attribute.Bool("tone.regularized", d.Regularized),
		attribute.Bool("tone.blocked", res.Fusion.Block),
		attribute.Float64("tone.drift", d.Drift),
	)
	p.recorder.RecordTurn(ctx, telemetry.TurnOutcome{
		SafetyLevel: string(res.Fusion.SafetyLevel),
		Blocked:     res.Fusion.Block,
		ChangePoint: d.ChangePoint,
		Regularized: d.Regularized,
		Drift:       d.Drift,
	})
	if d.ChangePoint {
		p.log.Debug().Str("turn_id", turn.TurnID).Msg("change-point widened step bound")
	}
	if d.Regularized {
		p.log.Debug().Str("turn_id", turn.TurnID).Float64("drift", d.Drift).Msg("pulled toward history mean")
	}
	if res.Fusion.Block {
		p.log.Info().Str("turn_id", turn.TurnID).Str("level", string(res.Fusion.SafetyLevel)).Msg("turn neutralized by safety block")
	}
	return res, next, nil
}

func (p *Pipeline) process(ctx context.Context, st tone.SessionState, turn Turn) (Result, tone.SessionState, error) {
	verdict, err := normalizeVerdict(turn.Verdict)
	if err != nil {
		return Result{}, st, err
	}
	raw, err := tone.FromSlice(turn.Raw)
	if err != nil {
		return Result{}, st, err
	}
	if err := raw.Validate(); err != nil {
		return Result{}, st, err
	}

	diag := Diagnostics{
		Raw:        raw,
		Anchored:   raw,
		Features:   turn.Features.Clone(),
		Confidence: turn.Confidence,
	}

	if p.scorer != nil && p.config.AnchorWeight > 0 && turn.Text != "" {
		a, err := p.scorer.Affinity(ctx, turn.Text)
		if err != nil {
			return Result{}, st, fmt.Errorf("anchor affinity: %w", err)
		}
		diag.Affinity = &a
		diag.Anchored = anchor(raw, a, p.config.AnchorWeight)
	}

	fr, next, err := p.chain.Step(st, filter.Input{
		Raw:        diag.Anchored,
		Features:   turn.Features,
		Confidence: turn.Confidence,
	})
	if err != nil {
		return Result{}, st, err
	}
	diag.Median = fr.Median
	diag.Smoothed = fr.Smoothed
	diag.Filtered = fr.Output
	diag.Alpha = fr.Alpha
	diag.Bound = fr.Bound
	diag.ChangePoint = fr.ChangePoint
	diag.Limited = fr.Limited

	dr := p.regularizer.Apply(fr.Output, st.Recent(p.config.Drift.Window))
	diag.Drift = dr.Drift
	diag.HistoryMean = dr.Mean
	diag.Regularized = dr.Regularized
	diag.Stabilized = dr.Tone

	next.PushHistory(dr.Tone, p.config.HistorySize)
	diag.HistoryLen = len(next.History)

	affects := turn.Affects
	if affects == nil {
		affects = gate.AffectsFromFeatures(turn.Features, p.config.CueThreshold)
	}
	diag.Affects = affects

	fusion := p.gate.Fuse(verdict, gate.EmpathyResult{Affects: affects, Tone: dr.Tone})
	return Result{TurnID: turn.TurnID, Fusion: fusion, Diagnostics: diag}, next, nil
}

// #endregion process

// #region helpers
// anchor blends the raw vector toward the affinity score: empathy at w,
// warmth and clarity at w/2.
func anchor(raw tone.Vector, a, w float64) tone.Vector {
	blended := affinity.Blend(map[string]float64{
		"empathy": raw[tone.Empathy],
		"warmth":  raw[tone.Warmth],
		"clarity": raw[tone.Clarity],
	}, a, w)
	return tone.NewVector(blended["empathy"], blended["warmth"], blended["clarity"])
}

// normalizeVerdict fills an empty level from the block flag and rejects unknown ones.
func normalizeVerdict(v gate.Verdict) (gate.Verdict, error) {
	if v.Level == "" {
		if v.Block {
			v.Level = gate.LevelRed
		} else {
			v.Level = gate.LevelSafe
		}
		return v, nil
	}
	lvl, err := gate.ParseLevel(string(v.Level))
	if err != nil {
		return v, err
	}
	v.Level = lvl
	return v, nil
}

// ErrorKind maps a turn error to a short metric label.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, tone.ErrInvalidDimensionality):
		return "dimensionality"
	case errors.Is(err, tone.ErrNonFinite):
		return "non_finite"
	case errors.Is(err, tone.ErrMalformedFeatures):
		return "features"
	case errors.Is(err, tone.ErrInvalidConfidence):
		return "confidence"
	case errors.Is(err, gate.ErrInvalidLevel):
		return "level"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}

// #endregion helpers

// #region record
// Record flattens a result into the journal's JSON record.
func (p *Pipeline) Record(res Result) logging.TurnRecord {
	d := res.Diagnostics
	return logging.TurnRecord{
		TurnID:           res.TurnID,
		Raw:              d.Raw,
		Features:         d.Features,
		Confidence:       d.Confidence,
		Affinity:         d.Affinity,
		Median:           d.Median,
		Smoothed:         d.Smoothed,
		Filtered:         d.Filtered,
		Alpha:            d.Alpha,
		Bound:            d.Bound,
		ChangePoint:      d.ChangePoint,
		Limited:          d.Limited,
		Drift:            d.Drift,
		HistoryMean:      d.HistoryMean,
		Regularized:      d.Regularized,
		Stabilized:       d.Stabilized,
		FusedTone:        res.Fusion.FusedTone,
		Blocked:          res.Fusion.Block,
		SafetyLevel:      string(res.Fusion.SafetyLevel),
		Affects:          d.Affects,
		EmpathyPreserved: res.Fusion.EmpathyPreserved,
		WarmthIndex:      res.Fusion.WarmthIndex,
		GateReason:       res.Fusion.Reason,
		Thresholds: logging.TurnThresholds{
			BaseAlpha:      p.config.Filter.BaseAlpha,
			MaxStep:        p.config.Filter.MaxStep,
			WideningFactor: p.config.Filter.WideningFactor,
			MaxDrift:       p.config.Drift.MaxDrift,
			CurrentWeight:  p.config.Drift.CurrentWeight,
			AnchorWeight:   p.config.AnchorWeight,
		},
	}
}

// #endregion record
