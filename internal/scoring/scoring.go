// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

// Package scoring computes the 0-100 match score of a candidate outfit
// against a taste profile, net of blocklist penalties. Each tag
// dimension is scored by normalized overlap with the profile's weights
// and the dimensions blend under fixed weights. A dimension with no
// evidence (cold profile or untagged candidate) scores the neutral
// baseline rather than penalizing the candidate.
package scoring

import (
	"github.com/stylistry/ensemble/internal/config"
	"github.com/stylistry/ensemble/internal/profile"
	"github.com/stylistry/ensemble/internal/tags"
)

// Dimension names used in results and slot explanations.
const (
	DimensionColor    = "color"
	DimensionStyle    = "style"
	DimensionOccasion = "occasion"
	DimensionSeason   = "season"
)

// Result is the scored breakdown of one candidate.
type Result struct {
	// Score is the final value: raw blend minus blocklist penalty,
	// clamped to [0,100].
	Score float64

	// Raw is the dimension blend before penalties.
	Raw float64

	ColorScore    float64
	StyleScore    float64
	OccasionScore float64
	SeasonalScore float64

	// BlocklistPenalty is the positive magnitude subtracted from Raw.
	BlocklistPenalty float64

	// Dominant names the dimension contributing most to Raw, for the
	// per-slot explanation. Presentational only.
	Dominant string
}

// Scorer computes match scores under a fixed policy.
type Scorer struct {
	cfg config.ScoringConfig
}

// NewScorer creates a scorer with the given policy.
func NewScorer(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score rates a candidate against a profile. penalty is the stacked
// blocklist penalty magnitude for this candidate (zero if clean). The
// candidate's tags must already be canonicalized.
func (s *Scorer) Score(p *profile.TasteProfile, t tags.OutfitTags, penalty float64) Result {
	r := Result{
		ColorScore:       s.overlap(t.Colors, p.ColorWeights),
		StyleScore:       s.overlap(t.Styles, p.StyleWeights),
		OccasionScore:    s.overlap(single(t.Occasion), p.OccasionWeights),
		SeasonalScore:    s.overlap(single(t.Season), p.SeasonalWeights),
		BlocklistPenalty: penalty,
	}

	r.Raw = r.ColorScore*s.cfg.ColorWeight +
		r.StyleScore*s.cfg.StyleWeight +
		r.OccasionScore*s.cfg.OccasionWeight +
		r.SeasonalScore*s.cfg.SeasonalWeight

	r.Score = clamp(r.Raw-penalty, 0, 100)
	r.Dominant = s.dominant(r)
	return r
}

// overlap scores one dimension: the candidate's matched weight over
// matched weight plus the smoothing constant, scaled to 0-100. Without
// any evidence on either side the neutral baseline applies, so
// cold-start candidates are not unfairly penalized.
func (s *Scorer) overlap(candidateTags []string, weights map[string]float64) float64 {
	if len(candidateTags) == 0 || !hasWeight(weights) {
		return s.cfg.NeutralBaseline
	}

	matched := 0.0
	for _, tag := range candidateTags {
		matched += weights[tag]
	}
	return 100 * matched / (matched + s.cfg.Smoothing)
}

// dominant picks the dimension with the largest weighted contribution.
func (s *Scorer) dominant(r Result) string {
	best := DimensionColor
	bestVal := r.ColorScore * s.cfg.ColorWeight
	if v := r.StyleScore * s.cfg.StyleWeight; v > bestVal {
		best, bestVal = DimensionStyle, v
	}
	if v := r.OccasionScore * s.cfg.OccasionWeight; v > bestVal {
		best, bestVal = DimensionOccasion, v
	}
	if v := r.SeasonalScore * s.cfg.SeasonalWeight; v > bestVal {
		best = DimensionSeason
	}
	return best
}

func single(tag string) []string {
	if tag == "" {
		return nil
	}
	return []string{tag}
}

func hasWeight(weights map[string]float64) bool {
	for _, w := range weights {
		if w > 0 {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
