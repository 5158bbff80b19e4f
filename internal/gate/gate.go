package gate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danielpatrickdp/tone-stabilizer/internal/tone"
)

// #region gate
// Gate fuses a safety verdict with a tone result. Safety always wins.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Fuse returns the final tone for a turn. A blocking verdict short-circuits to
// the neutral vector before the tone result is read at all.
func (g *Gate) Fuse(verdict Verdict, result EmpathyResult) FusionResult {
	if verdict.Block {
		return FusionResult{
			FusedTone:        tone.Neutral,
			Block:            true,
			SafetyLevel:      verdict.Level,
			EmpathyPreserved: false,
			WarmthIndex:      tone.Neutral[tone.Warmth],
			Reason:           fmt.Sprintf("blocked by safety: level=%s", verdict.Level),
		}
	}

	cues := normalizeAffects(result.Affects)
	var shift float64
	for _, c := range cues {
		shift += g.config.WarmthShifts[c]
	}

	fused := result.Tone
	fused[tone.Warmth] = clamp01(fused[tone.Warmth] + shift)

	return FusionResult{
		FusedTone:        fused,
		Block:            false,
		SafetyLevel:      verdict.Level,
		EmpathyPreserved: true,
		WarmthIndex:      fused[tone.Warmth],
		Reason:           fmt.Sprintf("tone preserved: cues=%v warmth_shift=%+.2f", cues, shift),
	}
}

// #endregion gate

// #region affects
// AffectsFromFeatures lists the cues whose intensity reaches threshold, for
// callers whose tone agent sends scores but no explicit cue set.
func AffectsFromFeatures(f tone.Features, threshold float64) []string {
	var out []string
	for _, c := range tone.Cues {
		if f.Get(c) >= threshold {
			out = append(out, c)
		}
	}
	return out
}

// #endregion affects

// #region helpers
// normalizeAffects lowercases and de-duplicates cue names so each applies once.
func normalizeAffects(affects []string) []string {
	if len(affects) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(affects))
	out := make([]string, 0, len(affects))
	for _, a := range affects {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers
