// Package similarity computes embedding similarity, derives per-account thresholds
// and matches new comments against human-reviewed precedents.
package similarity

import (
	"math"
	"math/rand/v2"
	"sort"

	"commentguard/internal/models"
)

const (
	// DefaultThreshold applies when there are too few embeddings to sample.
	DefaultThreshold = 0.8
	MinThreshold     = 0.6
	MaxThreshold     = 0.9

	thresholdPercentile = 0.85
	minSamplePairs      = 10
)

// Cosine returns dot(a,b)/(|a||b|), or 0 when either norm is 0 or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// DynamicThreshold samples up to samples random pairs from vectors, and returns the
// 85th percentile of their similarities clamped to [MinThreshold, MaxThreshold].
func DynamicThreshold(vectors [][]float32, samples int, rng *rand.Rand) float64 {
	if len(vectors) < 2 || samples < minSamplePairs {
		return DefaultThreshold
	}

	sims := make([]float64, 0, samples)
	for i := 0; i < samples; i++ {
		a := rng.IntN(len(vectors))
		b := rng.IntN(len(vectors) - 1)
		if b >= a {
			b++
		}
		sims = append(sims, Cosine(vectors[a], vectors[b]))
	}
	return clampedPercentile(sims, thresholdPercentile)
}

func clampedPercentile(sims []float64, p float64) float64 {
	if len(sims) == 0 {
		return DefaultThreshold
	}
	sort.Float64s(sims)
	idx := int(math.Ceil(p*float64(len(sims)))) - 1
	if idx < 0 {
		idx = 0
	}
	v := sims[idx]
	return math.Max(MinThreshold, math.Min(MaxThreshold, v))
}

// Candidate is a precedent reduced to what matching needs. It is what the cache stores.
type Candidate struct {
	ID        uint                    `msgpack:"id"`
	Action    models.ReviewActionType `msgpack:"action"`
	Category  models.Category         `msgpack:"category"`
	Threshold float64                 `msgpack:"threshold"`
	Embedding []float32               `msgpack:"embedding"`
}

// FromPrecedents converts enabled precedents into candidates.
func FromPrecedents(precedents []models.Precedent) []Candidate {
	out := make([]Candidate, 0, len(precedents))
	for _, p := range precedents {
		if !p.Enabled {
			continue
		}
		out = append(out, Candidate{
			ID:        p.ID,
			Action:    p.Action,
			Category:  p.Category,
			Threshold: p.Threshold,
			Embedding: p.Embedding.Slice(),
		})
	}
	return out
}

// Match is a precedent hit.
type Match struct {
	Candidate  Candidate
	Similarity float64
}

// MatchPrecedent returns the most similar candidate whose similarity reaches its own
// threshold, or fallback when the candidate has none.
func MatchPrecedent(embedding []float32, candidates []Candidate, fallback float64) (Match, bool) {
	var best Match
	found := false
	for _, c := range candidates {
		threshold := c.Threshold
		if threshold <= 0 {
			threshold = fallback
		}
		sim := Cosine(embedding, c.Embedding)
		if sim < threshold {
			continue
		}
		if !found || sim > best.Similarity {
			best = Match{Candidate: c, Similarity: sim}
			found = true
		}
	}
	return best, found
}

// Neighbor is a comment similar to a target.
type Neighbor struct {
	Comment    models.Comment `json:"comment"`
	Similarity float64        `json:"similarity"`
}

// TopK returns up to k candidates from commenters other than target's whose
// similarity exceeds threshold, most similar first.
func TopK(target models.Comment, candidates []models.Comment, threshold float64, k int) []Neighbor {
	vec := target.EmbeddingSlice()
	if len(vec) == 0 || k <= 0 {
		return nil
	}
	var out []Neighbor
	for _, c := range candidates {
		if c.ID == target.ID || c.CommenterID == target.CommenterID {
			continue
		}
		sim := Cosine(vec, c.EmbeddingSlice())
		if sim > threshold {
			out = append(out, Neighbor{Comment: c, Similarity: sim})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > k {
		out = out[:k]
	}
	return out
}
