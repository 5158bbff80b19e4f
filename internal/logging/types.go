package logging

import (
	"time"

	"github.com/danielpatrickdp/tone-stabilizer/internal/tone"
)

// Turn actions recorded in turn_log.action.
const (
	ActionEmit    = "emit"
	ActionBlocked = "blocked"
	ActionError   = "error"
)

// #region turn-entry
// TurnEntry is a single row in the turn_log table.
type TurnEntry struct {
	SessionID  string
	TurnID     string
	VersionID  string // snapshot committed by this turn; empty on error
	Action     string // "emit" | "blocked" | "error"
	RecordJSON string
	Reason     string
	CreatedAt  time.Time
}

// #endregion turn-entry

// #region turn-record
// TurnRecord captures every intermediate of one processed turn.
// Serialized as JSON into turn_log.record_json for offline replay and audit.
type TurnRecord struct {
	TurnID     string        `json:"turn_id"`
	Raw        tone.Vector   `json:"raw"`
	Features   tone.Features `json:"features,omitempty"`
	Confidence float64       `json:"confidence"`
	Affinity   *float64      `json:"affinity,omitempty"`

	// Filter chain
	Median      tone.Vector `json:"median"`
	Smoothed    tone.Vector `json:"smoothed"`
	Filtered    tone.Vector `json:"filtered"`
	Alpha       tone.Vector `json:"alpha"`
	Bound       tone.Vector `json:"bound"`
	ChangePoint bool        `json:"change_point"`
	Limited     bool        `json:"limited"`

	// Drift regularizer
	Drift       float64     `json:"drift"`
	HistoryMean tone.Vector `json:"history_mean"`
	Regularized bool        `json:"regularized"`
	Stabilized  tone.Vector `json:"stabilized"`

	// Fusion gate output
	FusedTone        tone.Vector `json:"fused_tone"`
	Blocked          bool        `json:"blocked"`
	SafetyLevel      string      `json:"safety_level"`
	Affects          []string    `json:"affects,omitempty"`
	EmpathyPreserved bool        `json:"empathy_preserved"`
	WarmthIndex      float64     `json:"warmth_index"`
	GateReason       string      `json:"gate_reason"`

	// Thresholds active at decision time
	Thresholds TurnThresholds `json:"thresholds"`
}

// TurnThresholds captures the filter, drift and gate limits active for a turn.
type TurnThresholds struct {
	BaseAlpha      tone.Vector `json:"base_alpha"`
	MaxStep        tone.Vector `json:"max_step"`
	WideningFactor float64     `json:"widening_factor"`
	MaxDrift       float64     `json:"max_drift"`
	CurrentWeight  float64     `json:"current_weight"`
	AnchorWeight   float64     `json:"anchor_weight"`
}

// #endregion turn-record
