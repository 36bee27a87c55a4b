// Package confidence estimates answer reliability from retrieval signals
// alone: how much evidence, how strong, and how corroborated.
package confidence

import (
	"math"
	"strings"

	"docchat/internal/retrieval"
)

type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

const (
	weightEvidence   = 0.30
	weightSimilarity = 0.50
	weightRedundancy = 0.20

	highThreshold   = 0.75
	mediumThreshold = 0.45

	maxEffectiveChunks = 5
	scoreFloor         = 0.15
)

type Result struct {
	Score float64 `json:"confidence"`
	Level Level   `json:"level"`
}

// Low is returned whenever the evidence cannot support a better estimate.
var Low = Result{Score: scoreFloor, Level: LevelLow}

// Compute scores the evidence set. scores[i] is the similarity of chunks[i];
// either slice being empty, or every score at or below the floor, yields Low.
func Compute(chunks []retrieval.Chunk, scores []float64) Result {
	if len(chunks) == 0 || len(scores) == 0 {
		return Low
	}
	usable := sanitize(scores)
	if len(usable) == 0 {
		return Low
	}

	evidence := math.Min(float64(len(chunks))/maxEffectiveChunks, 1)
	similarity := similarityStrength(usable)
	redundancy := sectionRedundancy(chunks)

	raw := weightEvidence*evidence + weightSimilarity*similarity + weightRedundancy*redundancy
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return Low
	}
	score := math.Round(clamp01(raw)*100) / 100
	return Result{Score: score, Level: levelFor(score)}
}

// sanitize clamps to [0,1] and drops NaN and anything at or below the floor.
func sanitize(scores []float64) []float64 {
	out := make([]float64, 0, len(scores))
	for _, s := range scores {
		if math.IsNaN(s) {
			continue
		}
		s = clamp01(s)
		if s <= scoreFloor {
			continue
		}
		out = append(out, s)
	}
	return out
}

// similarityStrength weights the best score 0.7 and the runner-up 0.3.
func similarityStrength(scores []float64) float64 {
	best, second := -1.0, -1.0
	for _, s := range scores {
		switch {
		case s > best:
			best, second = s, best
		case s > second:
			second = s
		}
	}
	if second < 0 {
		return best
	}
	return 0.7*best + 0.3*second
}

// sectionRedundancy rewards several sections backing the answer. A single
// section still scores 0.6; several sections score at least 0.7, more when
// each section contributes more than one chunk.
func sectionRedundancy(chunks []retrieval.Chunk) float64 {
	unique := make(map[string]struct{}, len(chunks))
	labelled := 0
	for _, c := range chunks {
		sec := strings.TrimSpace(c.Section)
		if sec == "" {
			continue
		}
		labelled++
		unique[sec] = struct{}{}
	}
	switch {
	case labelled == 0:
		return 0.4
	case len(unique) == 1:
		return 0.6
	}

	ratio := float64(len(unique)) / float64(labelled)
	switch {
	case ratio <= 0.4:
		return 1.0
	case ratio <= 0.6:
		return 0.9
	case ratio <= 0.8:
		return 0.8
	default:
		return 0.7
	}
}

func levelFor(score float64) Level {
	switch {
	case score >= highThreshold:
		return LevelHigh
	case score >= mediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
