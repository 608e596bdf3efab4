// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/stylistry/ensemble/internal/cache"
	"github.com/stylistry/ensemble/internal/config"
	"github.com/stylistry/ensemble/internal/logging"
	"github.com/stylistry/ensemble/internal/metrics"
	"github.com/stylistry/ensemble/internal/storage"
	"github.com/stylistry/ensemble/internal/tags"
)

const keyPrefix = "profile:"

// errNotRetryable marks mutation failures no retry can fix, such as a
// stored document that does not decode.
var errNotRetryable = errors.New("profile: not retryable")

// Key returns the store key for a user's profile.
func Key(userID string) string {
	return keyPrefix + userID
}

// Store persists taste profiles. All writes go through the storage
// layer's atomic Mutate so concurrent interactions from multiple
// sessions for the same user never lose updates. Reads go through a
// short-TTL LRU; writes invalidate the cached entry, so staleness is
// bounded by the TTL only for updates from other processes.
type Store struct {
	store  storage.Store
	cfg    config.ProfileConfig
	cache  *cache.LRU
	logger zerolog.Logger

	// sleep allows tests to skip real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewStore creates a profile store over the given backend.
func NewStore(s storage.Store, cfg config.ProfileConfig) *Store {
	var lru *cache.LRU
	if cfg.CacheSize > 0 {
		lru = cache.NewLRU(cfg.CacheSize, cfg.CacheTTL)
	}
	return &Store{
		store:  s,
		cfg:    cfg,
		cache:  lru,
		logger: logging.With().Str("component", "profile").Logger(),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Get returns the user's taste profile, or a default empty profile if
// none exists yet. A missing profile is not an error; it is simply a
// user the engine has not learned about. Callers get their own copy;
// mutating it never affects the cache or other readers.
func (s *Store) Get(ctx context.Context, userID string) (*TasteProfile, error) {
	if err := storage.ValidateUserID(userID); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if v, ok := s.cache.Get(Key(userID)); ok {
			return v.(*TasteProfile).clone(), nil
		}
	}

	var p TasteProfile
	err := storage.GetJSON(ctx, s.store, Key(userID), &p)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		return NewDefault(userID), nil
	case err != nil:
		return nil, err
	}

	normalize(&p, userID)
	if s.cache != nil {
		s.cache.Put(Key(userID), p.clone())
	}
	return &p, nil
}

// GetForScoring returns the profile for a scoring read, falling back to
// a cold-start default when the store is unreachable. Recommendation
// generation never fails solely because personalization state is
// unavailable.
func (s *Store) GetForScoring(ctx context.Context, userID string) *TasteProfile {
	p, err := s.Get(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).
			Msg("profile read failed, scoring with cold-start default")
		metrics.ColdStartSelectionsTotal.Inc()
		return NewDefault(userID)
	}
	return p
}

// ApplyDelta applies one interaction to the user's profile: every
// matching tag gets the action's policy delta, totals advance, and a
// WEAR additionally unshifts the outfit's color-combo key onto the
// proven-combinations FIFO. Transient store failures retry with bounded
// exponential backoff.
func (s *Store) ApplyDelta(ctx context.Context, userID string, t tags.OutfitTags, action Action) error {
	if err := storage.ValidateUserID(userID); err != nil {
		return err
	}
	if !action.Valid() {
		return fmt.Errorf("unknown action %q", action)
	}
	if action == ActionDislike {
		// Blocklist territory; no weight change.
		return nil
	}

	err := s.withRetry(ctx, func() error {
		return s.store.Mutate(ctx, Key(userID), func(current []byte) ([]byte, error) {
			p := NewDefault(userID)
			if current != nil {
				if err := json.Unmarshal(current, p); err != nil {
					return nil, fmt.Errorf("unmarshal profile %s: %w: %w", userID, err, errNotRetryable)
				}
				normalize(p, userID)
			}

			s.apply(p, t, action)

			next, err := json.Marshal(p)
			if err != nil {
				return nil, fmt.Errorf("marshal profile %s: %w: %w", userID, err, errNotRetryable)
			}
			return next, nil
		})
	})
	if err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.Remove(Key(userID))
	}
	metrics.ProfileUpdatesTotal.WithLabelValues(string(action)).Inc()
	return nil
}

// apply mutates p in place for one interaction.
func (s *Store) apply(p *TasteProfile, t tags.OutfitTags, action Action) {
	delta := DeltaFor(s.cfg, action)
	if delta != 0 {
		for _, c := range t.Colors {
			applyWeight(p.ColorWeights, c, delta)
		}
		for _, st := range t.Styles {
			applyWeight(p.StyleWeights, st, delta)
		}
		applyWeight(p.OccasionWeights, t.Occasion, delta)
		applyWeight(p.SeasonalWeights, t.Season, delta)
	}

	switch action {
	case ActionLike:
		p.TotalLikes++
	case ActionWear:
		p.TotalWears++
		s.recordProvenCombination(p, t.Colors)
	case ActionShoppingClick:
		p.TotalShoppingClicks++
	}

	p.recalcAccuracyScore()
	p.LastUpdated = time.Now().UTC()
}

// recordProvenCombination unshifts the worn color-combo key, keeping
// the list unique and capped FIFO.
func (s *Store) recordProvenCombination(p *TasteProfile, colors []string) {
	key := tags.ComboKey(colors)
	if key == "" {
		return
	}

	next := make([]string, 0, len(p.ProvenCombinations)+1)
	next = append(next, key)
	for _, existing := range p.ProvenCombinations {
		if existing != key {
			next = append(next, existing)
		}
	}
	if len(next) > s.cfg.ProvenCombinationsCap {
		next = next[:s.cfg.ProvenCombinationsCap]
	}
	p.ProvenCombinations = next
}

// withRetry runs fn with bounded exponential backoff. Validation and
// document encoding errors never retry; backoff only buys time for the
// store to recover.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	delay := s.cfg.RetryBaseDelay
	var err error
	for attempt := 0; attempt <= s.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			if serr := s.sleep(ctx, delay); serr != nil {
				return serr
			}
			delay *= 2
			s.logger.Debug().Int("attempt", attempt).Msg("retrying profile update")
		}

		err = fn()
		if err == nil || errors.Is(err, storage.ErrInvalidUserID) || errors.Is(err, errNotRetryable) {
			return err
		}
	}
	return err
}

// normalize backfills nil maps on documents written by older versions
// and pins the user ID.
func normalize(p *TasteProfile, userID string) {
	p.UserID = userID
	if p.ColorWeights == nil {
		p.ColorWeights = make(map[string]float64)
	}
	if p.StyleWeights == nil {
		p.StyleWeights = make(map[string]float64)
	}
	if p.OccasionWeights == nil {
		p.OccasionWeights = make(map[string]float64)
	}
	if p.SeasonalWeights == nil {
		p.SeasonalWeights = make(map[string]float64)
	}
}
