// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

// Package diversify orchestrates the final selection: scoring every
// candidate against the taste profile, excluding hard-blocked outfits,
// filtering recent repeats, and assigning the three slots under the
// 70/20/10 diversification policy. Availability beats diversity:
// repetition constraints relax before a request returns fewer outfits
// than it could, and personalization failures degrade to neutral
// scoring rather than erroring.
package diversify

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stylistry/ensemble/internal/antirep"
	"github.com/stylistry/ensemble/internal/blocklist"
	"github.com/stylistry/ensemble/internal/config"
	"github.com/stylistry/ensemble/internal/explore"
	"github.com/stylistry/ensemble/internal/logging"
	"github.com/stylistry/ensemble/internal/metrics"
	"github.com/stylistry/ensemble/internal/profile"
	"github.com/stylistry/ensemble/internal/scoring"
	"github.com/stylistry/ensemble/internal/storage"
	"github.com/stylistry/ensemble/internal/tags"
)

// slotCount is the number of recommendations per request.
const slotCount = 3

// Engine selects and labels the three outfits for one request.
// It is safe for concurrent use.
type Engine struct {
	profiles   *profile.Store
	blocklists *blocklist.Manager
	shown      *antirep.Cache
	explorer   *explore.Controller
	scorer     *scoring.Scorer
	cfg        config.DiversifierConfig
	logger     zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewEngine wires a selection engine from its collaborators.
func NewEngine(
	profiles *profile.Store,
	blocklists *blocklist.Manager,
	shown *antirep.Cache,
	explorer *explore.Controller,
	scorer *scoring.Scorer,
	cfg config.DiversifierConfig,
) *Engine {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Engine{
		profiles:   profiles,
		blocklists: blocklists,
		shown:      shown,
		explorer:   explorer,
		scorer:     scorer,
		cfg:        cfg,
		logger:     logging.With().Str("component", "diversify").Logger(),
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// SelectRecommendations picks min(3, len(candidates)) outfits for the
// user. It fails only on an invalid user ID; every personalization
// subsystem being down still yields neutral-scored candidates.
func (e *Engine) SelectRecommendations(ctx context.Context, userID string, candidates []CandidateOutfit) (*Response, error) {
	start := time.Now()

	if err := storage.ValidateUserID(userID); err != nil {
		metrics.ObserveSelection(start, "error")
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	resp := &Response{
		RequestID: uuid.NewString(),
		UserID:    userID,
	}
	logger := e.logger.With().Str("request_id", resp.RequestID).Str("user_id", userID).Logger()

	if len(candidates) == 0 {
		metrics.ObserveSelection(start, "insufficient_candidates")
		return resp, nil
	}

	p := e.profiles.GetForScoring(ctx, userID)
	scored := e.scoreCandidates(ctx, userID, candidates, p, resp, logger)
	eligible := e.filterRepeats(ctx, userID, scored, resp, logger)
	metrics.CandidatePoolSize.Observe(float64(len(eligible)))

	resp.PatternLocked = e.explorer.PatternLocked(p)
	resp.ExplorationPercent = e.explorer.EffectivePercent(ctx, userID, p)
	metrics.ExplorationRate.Observe(resp.ExplorationPercent)

	resp.Recommendations = e.assignSlots(eligible, resp.ExplorationPercent)

	e.recordShown(ctx, userID, resp.Recommendations, logger)

	outcome := "success"
	switch {
	case len(resp.Recommendations) < slotCount:
		outcome = "insufficient_candidates"
	case resp.Degraded:
		outcome = "degraded"
	}
	metrics.ObserveSelection(start, outcome)
	for _, rec := range resp.Recommendations {
		metrics.SlotScoreBand.WithLabelValues(slotName(rec.Slot), metrics.ScoreBand(rec.MatchScore)).Inc()
	}
	return resp, nil
}

// scoreCandidates normalizes, blocklist-checks, and scores every
// candidate, dropping hard-blocked ones entirely.
func (e *Engine) scoreCandidates(ctx context.Context, userID string, candidates []CandidateOutfit, p *profile.TasteProfile, resp *Response, logger zerolog.Logger) []scoredCandidate {
	out := make([]scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		t := e.normalize(c, logger)

		decision, err := e.blocklists.IsBlocked(ctx, userID, t)
		if err != nil {
			// Blocklist unreachable: score without penalties rather
			// than failing the request.
			logger.Warn().Err(err).Msg("blocklist check failed, scoring without penalties")
			resp.Degraded = true
			decision = blocklist.Decision{}
		}
		if decision.Blocked {
			logger.Debug().Str("outfit_id", c.ID).Interface("matched", decision.Matched).
				Msg("candidate hard-blocked")
			continue
		}

		out = append(out, scoredCandidate{
			outfit:   c,
			tags:     t,
			result:   e.scorer.Score(p, t, decision.Penalty),
			decision: decision,
		})
	}
	return out
}

// normalize canonicalizes a candidate's tags, logging what it drops.
func (e *Engine) normalize(c CandidateOutfit, logger zerolog.Logger) tags.OutfitTags {
	colors, droppedColors := tags.NormalizeColors(c.Colors)
	styles, droppedStyles := tags.NormalizeSlugs(c.Styles)
	if len(droppedColors) > 0 || len(droppedStyles) > 0 {
		logger.Warn().
			Strs("colors", droppedColors).
			Strs("styles", droppedStyles).
			Msg("dropped malformed tags from candidate")
	}

	t := tags.OutfitTags{Colors: colors, Styles: styles, Items: c.Items}
	if occ, err := tags.NormalizeSlug(c.Occasion); err == nil {
		t.Occasion = occ
	}
	if season, err := tags.NormalizeSlug(c.Season); err == nil {
		t.Season = season
	}
	return t
}

// filterRepeats drops recently-shown candidates unless that would leave
// fewer than three; then repeats backfill in score order. Hard blocks
// are never relaxed, repetition always is.
func (e *Engine) filterRepeats(ctx context.Context, userID string, scored []scoredCandidate, resp *Response, logger zerolog.Logger) []scoredCandidate {
	fresh := make([]scoredCandidate, 0, len(scored))
	repeats := make([]scoredCandidate, 0, len(scored))

	for i := range scored {
		c := &scored[i]
		c.repeat = e.wasRecentlyShown(ctx, userID, c.tags, resp, logger)
		if c.repeat {
			repeats = append(repeats, *c)
		} else {
			fresh = append(fresh, *c)
		}
	}

	if len(fresh) >= slotCount || len(repeats) == 0 {
		return fresh
	}

	// Graceful degradation: backfill with the best repeats.
	metrics.RepetitionRelaxationsTotal.Inc()
	logger.Debug().Int("fresh", len(fresh)).Int("repeats", len(repeats)).
		Msg("relaxing repetition constraints to fill slots")
	sortByScore(repeats)
	needed := slotCount - len(fresh)
	if needed > len(repeats) {
		needed = len(repeats)
	}
	return append(fresh, repeats[:needed]...)
}

// wasRecentlyShown checks all repetition categories for one candidate.
// Cache failures degrade to "not shown".
func (e *Engine) wasRecentlyShown(ctx context.Context, userID string, t tags.OutfitTags, resp *Response, logger zerolog.Logger) bool {
	check := func(category antirep.Category, key string) bool {
		shown, err := e.shown.WasRecentlyShown(ctx, userID, category, key)
		if err != nil {
			logger.Warn().Err(err).Str("category", string(category)).
				Msg("anti-repetition check failed, treating as fresh")
			resp.Degraded = true
			return false
		}
		return shown
	}

	if check(antirep.CategoryColorCombo, tags.ComboKey(t.Colors)) {
		return true
	}
	for _, s := range t.Styles {
		if check(antirep.CategoryStyle, s) {
			return true
		}
	}
	return check(antirep.CategoryOccasion, t.Occasion)
}

// assignSlots applies the 70/20/10 policy to the eligible pool.
func (e *Engine) assignSlots(eligible []scoredCandidate, explorationPercent float64) []Recommendation {
	if len(eligible) == 0 {
		return nil
	}
	sortByScore(eligible)

	recs := make([]Recommendation, 0, slotCount)
	remaining := eligible

	// Slot 1: the safe bet, highest score available.
	best := remaining[0]
	remaining = remaining[1:]
	recs = append(recs, e.recommendation(best, 1, false))
	if len(remaining) == 0 {
		return recs
	}

	// Slot 2: adjacent exploration, preferring the 70-89 band.
	idx := pickInBand(remaining, e.cfg.AdjacentBandMin, e.cfg.SafeBandMin)
	if idx < 0 {
		idx = 0
	}
	slot2 := remaining[idx]
	remaining = removeAt(remaining, idx)
	recs = append(recs, e.recommendation(slot2, 2, false))
	if len(remaining) == 0 {
		return recs
	}

	// Slot 3: the learning boundary. With probability equal to the
	// effective exploration rate, deliberately pick from the 50-69
	// band even if a better candidate remains.
	exploring := e.roll() < explorationPercent/100
	if exploring {
		if idx := pickInBand(remaining, e.cfg.StretchBandMin, e.cfg.AdjacentBandMin); idx >= 0 {
			metrics.ExplorationSlotsTotal.Inc()
			recs = append(recs, e.recommendation(remaining[idx], 3, true))
			return recs
		}
	}

	// Otherwise keep the slot1 >= slot2 >= slot3 ordering: best
	// remaining candidate not outscoring slot 2.
	idx = 0
	for i := range remaining {
		if remaining[i].result.Score <= slot2.result.Score {
			idx = i
			break
		}
	}
	recs = append(recs, e.recommendation(remaining[idx], 3, false))
	return recs
}

// recommendation builds the labeled output for one slot.
func (e *Engine) recommendation(c scoredCandidate, slot int, exploration bool) Recommendation {
	label := TierSafeBet
	switch slot {
	case 2:
		label = TierAdjacent
	case 3:
		label = TierLearning
	}
	return Recommendation{
		Outfit:      c.outfit,
		Tags:        c.tags,
		Slot:        slot,
		MatchScore:  c.result.Score,
		TierLabel:   label,
		Explanation: explanationFor(slot, c.result, exploration),
		Exploration: exploration,
	}
}

// recordShown registers every presented outfit in the anti-repetition
// cache. Best effort: failures log and move on.
func (e *Engine) recordShown(ctx context.Context, userID string, recs []Recommendation, logger zerolog.Logger) {
	for _, rec := range recs {
		if err := e.shown.RecordShown(ctx, userID, rec.Tags); err != nil {
			logger.Warn().Err(err).Int("slot", rec.Slot).Msg("failed to record shown outfit")
		}
	}
}

func (e *Engine) roll() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64()
}

// pickInBand returns the index of the highest-scoring candidate with
// lo <= score < hi, or -1. Assumes candidates sorted by descending
// score.
func pickInBand(sorted []scoredCandidate, lo, hi float64) int {
	for i := range sorted {
		s := sorted[i].result.Score
		if s < lo {
			return -1
		}
		if s < hi {
			return i
		}
	}
	return -1
}

func sortByScore(cands []scoredCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].result.Score > cands[j].result.Score
	})
}

func removeAt(cands []scoredCandidate, i int) []scoredCandidate {
	out := make([]scoredCandidate, 0, len(cands)-1)
	out = append(out, cands[:i]...)
	return append(out, cands[i+1:]...)
}

func slotName(slot int) string {
	switch slot {
	case 1:
		return "1"
	case 2:
		return "2"
	default:
		return "3"
	}
}

// explanationFor writes the one-sentence slot note naming the dominant
// scoring dimension.
func explanationFor(slot int, r scoring.Result, exploration bool) string {
	dim := dimensionPhrase(r.Dominant)
	switch {
	case exploration:
		return "A deliberate stretch outside your usual " + dim + " to test where your taste is heading."
	case slot == 1:
		return "Your strongest match, led by " + dim + "."
	case slot == 2:
		return "Close to your taste with a twist on " + dim + "."
	default:
		return "A solid pick anchored by " + dim + "."
	}
}

func dimensionPhrase(dimension string) string {
	switch dimension {
	case scoring.DimensionColor:
		return "your color palette"
	case scoring.DimensionStyle:
		return "your style direction"
	case scoring.DimensionOccasion:
		return "the occasion fit"
	default:
		return "the seasonal fit"
	}
}
