// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

package scoring

import (
	"math"
	"testing"

	"github.com/stylistry/ensemble/internal/config"
	"github.com/stylistry/ensemble/internal/profile"
	"github.com/stylistry/ensemble/internal/tags"
)

func newTestScorer() *Scorer {
	return NewScorer(config.Default().Scoring)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestColdStartScoresNeutral(t *testing.T) {
	s := newTestScorer()
	p := profile.NewDefault("u1")

	for _, colors := range [][]string{{"#000080"}, {"#CC5500"}, {"#FFFFFF"}} {
		r := s.Score(p, tags.OutfitTags{Colors: colors}, 0)
		if !almostEqual(r.Score, 50) {
			t.Errorf("cold-start score for %v = %v, want 50", colors, r.Score)
		}
	}
}

func TestNormalizedOverlapFormula(t *testing.T) {
	s := newTestScorer()
	p := profile.NewDefault("u1")
	p.ColorWeights["#CC5500"] = 15
	p.ColorWeights["#000080"] = 3

	// Matched weight 15 with smoothing 10: 100*15/25 = 60 on the color
	// dimension; the other dimensions stay at the neutral 50.
	r := s.Score(p, tags.OutfitTags{Colors: []string{"#CC5500"}}, 0)
	if !almostEqual(r.ColorScore, 60) {
		t.Errorf("ColorScore = %v, want 60", r.ColorScore)
	}
	want := 60*0.35 + 50*0.30 + 50*0.20 + 50*0.15
	if !almostEqual(r.Raw, want) {
		t.Errorf("Raw = %v, want %v", r.Raw, want)
	}

	// A candidate missing the profile's colors entirely scores 0 on
	// that dimension once weight data exists.
	r = s.Score(p, tags.OutfitTags{Colors: []string{"#FFFFFF"}}, 0)
	if !almostEqual(r.ColorScore, 0) {
		t.Errorf("unmatched ColorScore = %v, want 0", r.ColorScore)
	}
}

func TestKnownProfileRanksMatchingCandidateHighest(t *testing.T) {
	s := newTestScorer()
	p := profile.NewDefault("u1")
	p.ColorWeights["#CC5500"] = 15
	p.ColorWeights["#000080"] = 3

	match := s.Score(p, tags.OutfitTags{Colors: []string{"#CC5500"}, Styles: []string{"minimalist"}}, 0)
	weak := s.Score(p, tags.OutfitTags{Colors: []string{"#000080"}, Styles: []string{"maximalist"}}, 0)
	miss := s.Score(p, tags.OutfitTags{Colors: []string{"#FFFFFF"}, Styles: []string{"casual"}}, 0)

	if !(match.Score > weak.Score && weak.Score > miss.Score) {
		t.Errorf("ordering broken: %v / %v / %v", match.Score, weak.Score, miss.Score)
	}
}

func TestPenaltySubtractedAndClamped(t *testing.T) {
	s := newTestScorer()
	p := profile.NewDefault("u1")

	r := s.Score(p, tags.OutfitTags{Colors: []string{"#CC5500"}}, 20)
	if !almostEqual(r.Score, 30) {
		t.Errorf("Score with penalty 20 = %v, want 30", r.Score)
	}

	// Penalties never push below zero.
	r = s.Score(p, tags.OutfitTags{Colors: []string{"#CC5500"}}, 90)
	if r.Score != 0 {
		t.Errorf("Score with penalty 90 = %v, want clamp at 0", r.Score)
	}
}

func TestScoreStaysInRange(t *testing.T) {
	s := newTestScorer()
	p := profile.NewDefault("u1")
	// A heavily-reinforced profile cannot exceed 100.
	p.ColorWeights["#CC5500"] = 10000
	p.StyleWeights["minimalist"] = 10000
	p.OccasionWeights["office"] = 10000
	p.SeasonalWeights["fall"] = 10000

	r := s.Score(p, tags.OutfitTags{
		Colors:   []string{"#CC5500"},
		Styles:   []string{"minimalist"},
		Occasion: "office",
		Season:   "fall",
	}, 0)
	if r.Score > 100 || r.Score < 0 {
		t.Errorf("Score = %v, want within [0,100]", r.Score)
	}
	if r.Score < 99 {
		t.Errorf("perfect match = %v, want near 100", r.Score)
	}
}

func TestUntaggedDimensionIsNeutral(t *testing.T) {
	s := newTestScorer()
	p := profile.NewDefault("u1")
	p.OccasionWeights["office"] = 20

	// No occasion on the candidate: neutral, not zero.
	r := s.Score(p, tags.OutfitTags{Colors: []string{"#CC5500"}}, 0)
	if !almostEqual(r.OccasionScore, 50) {
		t.Errorf("OccasionScore = %v, want neutral 50", r.OccasionScore)
	}
}

func TestDominantDimension(t *testing.T) {
	s := newTestScorer()
	p := profile.NewDefault("u1")
	p.StyleWeights["minimalist"] = 100

	r := s.Score(p, tags.OutfitTags{Colors: []string{"#CC5500"}, Styles: []string{"minimalist"}}, 0)
	if r.Dominant != DimensionStyle {
		t.Errorf("Dominant = %q, want style (style score %v vs color %v)",
			r.Dominant, r.StyleScore, r.ColorScore)
	}
}
