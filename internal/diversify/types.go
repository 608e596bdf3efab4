// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

package diversify

import (
	"github.com/stylistry/ensemble/internal/blocklist"
	"github.com/stylistry/ensemble/internal/scoring"
	"github.com/stylistry/ensemble/internal/tags"
)

// CandidateOutfit is one raw outfit descriptor from the generative
// layer. Tags may arrive uncanonicalized; the engine normalizes them at
// ingestion and drops malformed ones with a logged warning.
type CandidateOutfit struct {
	ID       string   `json:"id,omitempty"`
	Colors   []string `json:"colors"`
	Styles   []string `json:"styles"`
	Occasion string   `json:"occasion,omitempty"`
	Season   string   `json:"season,omitempty"`
	Items    []string `json:"items,omitempty"`
}

// Slot tier labels.
const (
	TierSafeBet  = "🎯 safe bet"
	TierAdjacent = "✨ adjacent exploration"
	TierLearning = "🔍 learning boundary"
)

// Recommendation is one selected and labeled outfit.
type Recommendation struct {
	Outfit CandidateOutfit `json:"outfit"`

	// Tags are the canonical tags the outfit was scored with.
	Tags tags.OutfitTags `json:"tags"`

	Slot       int     `json:"slot"`
	MatchScore float64 `json:"match_score"`
	TierLabel  string  `json:"tier_label"`

	// Explanation is a one-sentence note naming the dominant scoring
	// dimension. Presentational only.
	Explanation string `json:"explanation"`

	// Exploration marks a slot-3 pick that deliberately chose a
	// lower-scoring candidate.
	Exploration bool `json:"exploration"`
}

// Response is the result of one selection request.
type Response struct {
	RequestID       string           `json:"request_id"`
	UserID          string           `json:"user_id"`
	Recommendations []Recommendation `json:"recommendations"`

	// ExplorationPercent is the effective rate applied to this request.
	ExplorationPercent float64 `json:"exploration_percent"`

	// PatternLocked reports whether the one-shot exploration override
	// was in force.
	PatternLocked bool `json:"pattern_locked"`

	// Degraded is set when personalization state was partially
	// unavailable and neutral defaults filled in.
	Degraded bool `json:"degraded"`
}

// scoredCandidate pairs a normalized candidate with its evaluation.
type scoredCandidate struct {
	outfit   CandidateOutfit
	tags     tags.OutfitTags
	result   scoring.Result
	decision blocklist.Decision
	repeat   bool
}
