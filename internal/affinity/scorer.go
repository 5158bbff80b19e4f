package affinity

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// #region hash-embed

// HashEmbed maps text to a deterministic Dimensions-wide vector in [0,1].
// SHA-256 runs in counter mode over the text and every output byte becomes one
// component. The empty string maps to the zero vector.
func HashEmbed(text string) []float32 {
	out := make([]float32, Dimensions)
	if text == "" {
		return out
	}
	var ctr [4]byte
	for block := 0; block*sha256.Size < Dimensions; block++ {
		binary.BigEndian.PutUint32(ctr[:], uint32(block))
		h := sha256.New()
		h.Write(ctr[:])
		h.Write([]byte(text))
		sum := h.Sum(nil)
		for i, b := range sum {
			idx := block*sha256.Size + i
			if idx >= Dimensions {
				break
			}
			out[idx] = float32(b) / 255
		}
	}
	return out
}

// HashEmbedder is the local, model-free Embedder.
type HashEmbedder struct{}

// Embed implements Embedder. It never fails.
func (HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return HashEmbed(text), nil
}

// #endregion hash-embed

// #region cosine

// CosineSimilarity returns cosine similarity remapped from [-1,1] to [0,1].
// Returns 0 for empty, mismatched or zero-norm vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return (dot/denom + 1) / 2
}

// #endregion cosine

// #region scorer

// Scorer measures affinity to a fixed anchor embedded once at construction.
// It is safe for concurrent use.
type Scorer struct {
	embedder Embedder
	anchor   []float32
}

// NewScorer embeds anchorText and returns a scorer bound to it.
// An empty anchorText falls back to DefaultAnchor.
func NewScorer(ctx context.Context, embedder Embedder, anchorText string) (*Scorer, error) {
	if embedder == nil {
		embedder = HashEmbedder{}
	}
	if anchorText == "" {
		anchorText = DefaultAnchor
	}
	anchor, err := embedder.Embed(ctx, anchorText)
	if err != nil {
		return nil, fmt.Errorf("embed anchor: %w", err)
	}
	return &Scorer{embedder: embedder, anchor: anchor}, nil
}

// Affinity embeds text and scores it against the anchor.
func (s *Scorer) Affinity(ctx context.Context, text string) (float64, error) {
	emb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("embed text: %w", err)
	}
	return s.AffinityVector(emb), nil
}

// AffinityVector scores a pre-embedded vector against the anchor.
func (s *Scorer) AffinityVector(v []float32) float64 {
	return CosineSimilarity(v, s.anchor)
}

// #endregion scorer

// #region blend

// Blend interpolates every empathy-like score toward affinity at weight and
// every warmth or clarity score at weight/2. Other keys pass through.
// The input map is not modified.
func Blend(scores map[string]float64, affinity, weight float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	for k, v := range scores {
		key := strings.ToLower(k)
		switch {
		case strings.Contains(key, "empathy"), strings.Contains(key, "empathic"):
			out[k] = lerp(v, affinity, weight)
		case strings.Contains(key, "warmth"), strings.Contains(key, "clarity"):
			out[k] = lerp(v, affinity, weight/2)
		default:
			out[k] = v
		}
	}
	return out
}

func lerp(score, target, w float64) float64 {
	return score*(1-w) + target*w
}

// #endregion blend
