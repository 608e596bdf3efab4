// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

// Package explore adapts each user's exploration rate from feedback on
// the third recommendation slot, and detects taste-profile echo
// chambers ("pattern lock"). The persisted rate stays inside the
// configured bounds; a locked profile gets a one-shot override for the
// current request only, never persisted, so the adaptive mechanism
// cannot converge permanently to minimal exploration.
package explore

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/stylistry/ensemble/internal/config"
	"github.com/stylistry/ensemble/internal/logging"
	"github.com/stylistry/ensemble/internal/metrics"
	"github.com/stylistry/ensemble/internal/profile"
	"github.com/stylistry/ensemble/internal/storage"
)

const keyPrefix = "explore:"

// Key returns the store key for a user's exploration state.
func Key(userID string) string {
	return keyPrefix + userID
}

// State is the persisted per-user exploration record.
type State struct {
	UserID                string  `json:"user_id"`
	ExplorationPercentage float64 `json:"exploration_percentage"`

	Position3Likes    int64 `json:"position3_likes"`
	Position3Dislikes int64 `json:"position3_dislikes"`
	Position3Skips    int64 `json:"position3_skips"`

	LastUpdated time.Time `json:"last_updated"`
}

// Controller manages exploration state and pattern-lock detection.
type Controller struct {
	store  storage.Store
	cfg    config.ExplorationConfig
	logger zerolog.Logger
}

// NewController creates an exploration controller over the given backend.
func NewController(s storage.Store, cfg config.ExplorationConfig) *Controller {
	return &Controller{
		store:  s,
		cfg:    cfg,
		logger: logging.With().Str("component", "explore").Logger(),
	}
}

// Current returns the user's persisted exploration percentage. Unknown
// users start at the configured initial rate. On store failure the
// initial rate is returned alongside the error so callers can degrade
// to "no adjustment".
func (c *Controller) Current(ctx context.Context, userID string) (float64, error) {
	if err := storage.ValidateUserID(userID); err != nil {
		return c.cfg.InitialPercent, err
	}

	var s State
	err := storage.GetJSON(ctx, c.store, Key(userID), &s)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		return c.cfg.InitialPercent, nil
	case err != nil:
		return c.cfg.InitialPercent, err
	}
	return c.clamp(s.ExplorationPercentage), nil
}

// RecordSlot3Feedback adjusts the exploration rate from feedback on the
// exploration slot: a like narrows exploration, a dislike or skip
// widens it. The stored percentage never leaves the configured bounds.
// Feedback on other actions is ignored.
func (c *Controller) RecordSlot3Feedback(ctx context.Context, userID string, action profile.Action) error {
	if err := storage.ValidateUserID(userID); err != nil {
		return err
	}

	var delta float64
	switch action {
	case profile.ActionLike:
		delta = c.cfg.LikeDelta
	case profile.ActionDislike:
		delta = c.cfg.DislikeDelta
	case profile.ActionIgnore:
		delta = c.cfg.SkipDelta
	default:
		return nil
	}

	return c.store.Mutate(ctx, Key(userID), func(current []byte) ([]byte, error) {
		s := State{UserID: userID, ExplorationPercentage: c.cfg.InitialPercent}
		if current != nil {
			if err := json.Unmarshal(current, &s); err != nil {
				return nil, err
			}
			s.UserID = userID
		}

		s.ExplorationPercentage = c.clamp(s.ExplorationPercentage + delta)
		switch action {
		case profile.ActionLike:
			s.Position3Likes++
		case profile.ActionDislike:
			s.Position3Dislikes++
		case profile.ActionIgnore:
			s.Position3Skips++
		}
		s.LastUpdated = time.Now().UTC()

		return json.Marshal(&s)
	})
}

// PatternLocked reports whether the taste profile has over-concentrated:
// the top-2 colors holding at least the configured share of total color
// weight, or the top-2 styles likewise. Dimensions with fewer than the
// configured minimum of distinct tags are trivially concentrated and
// never lock.
func (c *Controller) PatternLocked(p *profile.TasteProfile) bool {
	if p == nil {
		return false
	}
	if topTwoShare(p.ColorWeights) >= c.cfg.PatternLockColorShare && len(p.ColorWeights) >= c.cfg.PatternLockMinTags {
		return true
	}
	if topTwoShare(p.StyleWeights) >= c.cfg.PatternLockStyleShare && len(p.StyleWeights) >= c.cfg.PatternLockMinTags {
		return true
	}
	return false
}

// EffectivePercent resolves the exploration rate for one request: the
// pattern-lock override when the profile is locked (one-shot, never
// persisted), otherwise the user's adaptive rate. Store failures
// degrade to the initial rate.
func (c *Controller) EffectivePercent(ctx context.Context, userID string, p *profile.TasteProfile) float64 {
	if c.PatternLocked(p) {
		metrics.PatternLockOverridesTotal.Inc()
		c.logger.Debug().Str("user_id", userID).
			Float64("override", c.cfg.PatternLockOverride).
			Msg("pattern lock detected, forcing exploration")
		return c.cfg.PatternLockOverride
	}

	pct, err := c.Current(ctx, userID)
	if err != nil {
		c.logger.Warn().Err(err).Str("user_id", userID).
			Msg("exploration state unavailable, using initial rate")
	}
	return pct
}

func (c *Controller) clamp(pct float64) float64 {
	if pct < c.cfg.MinPercent {
		return c.cfg.MinPercent
	}
	if pct > c.cfg.MaxPercent {
		return c.cfg.MaxPercent
	}
	return pct
}

// topTwoShare returns the fraction of total weight held by the two
// heaviest tags. Zero total weight yields zero share.
func topTwoShare(weights map[string]float64) float64 {
	if len(weights) == 0 {
		return 0
	}

	total := 0.0
	values := make([]float64, 0, len(weights))
	for _, w := range weights {
		total += w
		values = append(values, w)
	}
	if total <= 0 {
		return 0
	}

	sort.Sort(sort.Reverse(sort.Float64Slice(values)))
	top := values[0]
	if len(values) > 1 {
		top += values[1]
	}
	return top / total
}
