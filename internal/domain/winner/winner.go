// Package winner holds the pure scoring and ranking rules used to decide a
// winning variant from aggregated metric totals.
package winner

import (
	"sort"

	"github.com/javimosch/superbackend-sub004/internal/domain/model"
)

// Totals is a (count, sum) pair rolled up from metric buckets.
type Totals struct {
	Count int64
	Sum   float64
}

// VariantScore is the computed score for one variant, plus the raw
// conversion/exposure totals retained for rate guard checks.
type VariantScore struct {
	VariantKey  string
	Score       float64
	Conversions int64
	Exposures   int64
}

// ScoreRate computes a conversion rate score. No exposures scores zero.
func ScoreRate(numerator, denominator Totals) VariantScore {
	s := VariantScore{
		Conversions: numerator.Count,
		Exposures:   denominator.Count,
	}
	if s.Exposures > 0 {
		s.Score = float64(s.Conversions) / float64(s.Exposures)
	}
	return s
}

// ScorePlain computes a count, sum, or avg score from a metric's own totals.
func ScorePlain(kind model.MetricKind, t Totals) VariantScore {
	var s VariantScore
	switch kind {
	case model.MetricCount:
		s.Score = float64(t.Count)
	case model.MetricSum:
		s.Score = t.Sum
	case model.MetricAvg:
		if t.Count > 0 {
			s.Score = t.Sum / float64(t.Count)
		}
	}
	return s
}

// Rank orders scores by the metric objective: descending for maximize,
// ascending for minimize. Ties keep the existing variant order so ranking
// stays deterministic. The input slice is not modified.
func Rank(scores []VariantScore, objective model.Objective) []VariantScore {
	ranked := make([]VariantScore, len(scores))
	copy(ranked, scores)
	sort.SliceStable(ranked, func(i, j int) bool {
		if objective == model.ObjectiveMinimize {
			return ranked[i].Score < ranked[j].Score
		}
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// PassesRateGuard reports whether at least one variant clears both the
// exposure and conversion thresholds. Only rate metrics carry the raw
// totals the guard needs; other kinds never gate on it.
func PassesRateGuard(scores []VariantScore, minExposures, minConversions int64) bool {
	for _, s := range scores {
		if s.Exposures >= minExposures && s.Conversions >= minConversions {
			return true
		}
	}
	return false
}
