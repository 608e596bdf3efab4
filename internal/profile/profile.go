// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

// Package profile maintains per-user taste profiles: weighted counters
// over colors, styles, occasions, and seasons, learned incrementally
// from interactions. Weights never go negative; negative preference is
// expressed through blocklists, not here.
package profile

import (
	"time"

	"github.com/stylistry/ensemble/internal/config"
)

// Action is a user interaction with a recommended outfit.
type Action string

// Interaction actions. Dislike carries no profile delta; it feeds the
// blocklist instead, so a single bad reaction does not double-penalize
// through both weight loss and exclusion.
const (
	ActionLike          Action = "like"
	ActionWear          Action = "wear"
	ActionSelect        Action = "select"
	ActionIgnore        Action = "ignore"
	ActionDislike       Action = "dislike"
	ActionShoppingClick Action = "shopping_click"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionLike, ActionWear, ActionSelect, ActionIgnore, ActionDislike, ActionShoppingClick:
		return true
	}
	return false
}

// DeltaFor returns the weight delta an action applies to each matching
// tag under the given policy. This is the single place the policy table
// is consumed; nothing else interprets actions numerically.
func DeltaFor(cfg config.ProfileConfig, action Action) float64 {
	switch action {
	case ActionLike:
		return cfg.LikeDelta
	case ActionWear:
		return cfg.WearDelta
	case ActionSelect:
		return cfg.SelectDelta
	case ActionIgnore:
		return cfg.IgnoreDelta
	case ActionShoppingClick:
		return cfg.ShoppingClickDelta
	default:
		return 0
	}
}

// TasteProfile is the persisted per-user preference document. Created
// lazily on first interaction, mutated on every interaction, never
// auto-deleted.
type TasteProfile struct {
	UserID string `json:"user_id"`

	ColorWeights    map[string]float64 `json:"color_weights"`
	StyleWeights    map[string]float64 `json:"style_weights"`
	OccasionWeights map[string]float64 `json:"occasion_weights"`
	SeasonalWeights map[string]float64 `json:"seasonal_weights"`

	TotalLikes          int64 `json:"total_likes"`
	TotalWears          int64 `json:"total_wears"`
	TotalShoppingClicks int64 `json:"total_shopping_clicks"`

	// ProvenCombinations holds the color-combo keys of outfits the user
	// actually wore, newest first, capped FIFO.
	ProvenCombinations []string `json:"proven_combinations"`

	// AccuracyScore is a monotonically non-decreasing confidence value
	// derived from cumulative engagement depth. It never regresses even
	// if later signals disagree.
	AccuracyScore float64 `json:"accuracy_score"`

	LastUpdated time.Time `json:"last_updated"`
}

// NewDefault returns the cold-start profile for a user: no weights, no
// history, zero confidence.
func NewDefault(userID string) *TasteProfile {
	return &TasteProfile{
		UserID:          userID,
		ColorWeights:    make(map[string]float64),
		StyleWeights:    make(map[string]float64),
		OccasionWeights: make(map[string]float64),
		SeasonalWeights: make(map[string]float64),
	}
}

// clone returns a deep copy so cached profiles stay isolated from
// caller mutations.
func (p *TasteProfile) clone() *TasteProfile {
	cp := *p
	cp.ColorWeights = copyWeights(p.ColorWeights)
	cp.StyleWeights = copyWeights(p.StyleWeights)
	cp.OccasionWeights = copyWeights(p.OccasionWeights)
	cp.SeasonalWeights = copyWeights(p.SeasonalWeights)
	cp.ProvenCombinations = append([]string(nil), p.ProvenCombinations...)
	return &cp
}

func copyWeights(weights map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	for k, v := range weights {
		out[k] = v
	}
	return out
}

// IsCold reports whether the profile carries no preference signal yet.
func (p *TasteProfile) IsCold() bool {
	return len(p.ColorWeights) == 0 && len(p.StyleWeights) == 0 &&
		len(p.OccasionWeights) == 0 && len(p.SeasonalWeights) == 0
}

// Engagement returns the cumulative like+wear count the accuracy score
// is derived from.
func (p *TasteProfile) Engagement() int64 {
	return p.TotalLikes + p.TotalWears
}

// recalcAccuracyScore updates AccuracyScore from engagement depth.
// The curve saturates toward 100 and the max() guard keeps the value
// monotone under any policy retuning.
func (p *TasteProfile) recalcAccuracyScore() {
	e := float64(p.Engagement())
	score := 100 * e / (e + 25)
	if score > p.AccuracyScore {
		p.AccuracyScore = score
	}
}

// applyWeight adds delta to weights[tag], flooring at 0 and dropping
// zeroed entries so documents stay small.
func applyWeight(weights map[string]float64, tag string, delta float64) {
	if tag == "" {
		return
	}
	next := weights[tag] + delta
	if next <= 0 {
		delete(weights, tag)
		return
	}
	weights[tag] = next
}
