// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

package blocklist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/stylistry/ensemble/internal/config"
	"github.com/stylistry/ensemble/internal/logging"
	"github.com/stylistry/ensemble/internal/metrics"
	"github.com/stylistry/ensemble/internal/storage"
	"github.com/stylistry/ensemble/internal/tags"
)

const keyPrefix = "blocklist:"

// Key returns the store key for a user's blocklist.
func Key(userID string) string {
	return keyPrefix + userID
}

// Manager persists and evaluates per-user blocklists.
type Manager struct {
	store  storage.Store
	cfg    config.BlocklistConfig
	logger zerolog.Logger

	// now allows tests to control the promotion window clock.
	now func() time.Time
}

// NewManager creates a blocklist manager over the given backend.
func NewManager(s storage.Store, cfg config.BlocklistConfig) *Manager {
	return &Manager{
		store:  s,
		cfg:    cfg,
		logger: logging.With().Str("component", "blocklist").Logger(),
		now:    time.Now,
	}
}

// SetClock overrides the manager's time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// get loads the user's blocklist, returning an empty document when none
// exists.
func (m *Manager) get(ctx context.Context, userID string) (*Blocklist, error) {
	var b Blocklist
	err := storage.GetJSON(ctx, m.store, Key(userID), &b)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		return newBlocklist(userID), nil
	case err != nil:
		return nil, err
	}
	b.UserID = userID
	return &b, nil
}

// IsBlocked evaluates an outfit's tags against the user's blocklist.
// Hard matches force exclusion; soft and unexpired temporary matches
// stack penalties additively. A user with no blocklist gets a clean
// decision.
func (m *Manager) IsBlocked(ctx context.Context, userID string, t tags.OutfitTags) (Decision, error) {
	if err := storage.ValidateUserID(userID); err != nil {
		return Decision{}, err
	}

	b, err := m.get(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	return m.evaluate(b, t), nil
}

// evaluate checks every tag of the outfit against all three tiers.
func (m *Manager) evaluate(b *Blocklist, t tags.OutfitTags) Decision {
	now := m.now()
	var d Decision

	check := func(category Category, key string) {
		if key == "" {
			return
		}
		if b.Hard.has(category, key) {
			d.Blocked = true
			d.Matched = append(d.Matched, Match{Tier: TierHard, Category: category, Key: key})
			metrics.BlocklistExclusionsTotal.WithLabelValues(string(TierHard)).Inc()
			return
		}
		if b.Soft.has(category, key) {
			d.Penalty += m.cfg.SoftPenalty
			d.Matched = append(d.Matched, Match{Tier: TierSoft, Category: category, Key: key})
			metrics.BlocklistExclusionsTotal.WithLabelValues(string(TierSoft)).Inc()
		}
		for _, entry := range b.Temporary {
			if entry.Category == category && entry.Key == key && !entry.Expired(now) {
				d.Penalty += m.cfg.TemporaryPenalty
				d.Matched = append(d.Matched, Match{Tier: TierTemporary, Category: category, Key: key})
				metrics.BlocklistExclusionsTotal.WithLabelValues(string(TierTemporary)).Inc()
			}
		}
	}

	for _, c := range t.Colors {
		check(CategoryColor, c)
	}
	for _, s := range t.Styles {
		check(CategoryStyle, s)
	}
	for _, item := range t.Items {
		check(CategoryItem, item)
	}

	return d
}

// AddToHard puts a tag on the hard blocklist and removes any softer
// entries for it.
func (m *Manager) AddToHard(ctx context.Context, userID string, category Category, key string) error {
	return m.mutate(ctx, userID, category, key, func(b *Blocklist) {
		b.Hard.set(category)[key] = true
		b.Soft.remove(category, key)
		b.Temporary = removeTemporary(b.Temporary, category, key)
		delete(b.DislikeEvents, eventKey(category, key))
	})
}

// AddToSoft puts a tag on the soft blocklist unless it is already hard.
func (m *Manager) AddToSoft(ctx context.Context, userID string, category Category, key string) error {
	return m.mutate(ctx, userID, category, key, func(b *Blocklist) {
		if b.Hard.has(category, key) {
			return
		}
		b.Soft.set(category)[key] = true
	})
}

// AddTemporary adds a time-limited penalty entry. A non-positive
// duration uses the configured default. An existing unexpired entry for
// the same tag has its expiry extended rather than duplicated.
func (m *Manager) AddTemporary(ctx context.Context, userID string, category Category, key string, duration time.Duration, reason string) error {
	if duration <= 0 {
		duration = m.cfg.DefaultTemporaryDuration
	}
	return m.mutate(ctx, userID, category, key, func(b *Blocklist) {
		if b.Hard.has(category, key) {
			return
		}
		expiresAt := m.now().Add(duration)
		b.Temporary = removeTemporary(b.Temporary, category, key)
		b.Temporary = append(b.Temporary, TemporaryEntry{
			Key:       key,
			Category:  category,
			ExpiresAt: expiresAt,
			Reason:    reason,
		})
	})
}

// RecordDislike registers a dislike against every tag of an outfit:
// each tag goes on the soft blocklist and its dislike event is counted.
// A tag reaching the promotion threshold within the rolling window is
// promoted to hard.
func (m *Manager) RecordDislike(ctx context.Context, userID string, t tags.OutfitTags) error {
	if err := storage.ValidateUserID(userID); err != nil {
		return err
	}

	return m.store.Mutate(ctx, Key(userID), func(current []byte) ([]byte, error) {
		b, err := m.unmarshal(current, userID)
		if err != nil {
			return nil, err
		}

		now := m.now()
		for _, c := range t.Colors {
			m.recordDislikeTag(b, CategoryColor, c, now)
		}
		for _, s := range t.Styles {
			m.recordDislikeTag(b, CategoryStyle, s, now)
		}
		for _, item := range t.Items {
			m.recordDislikeTag(b, CategoryItem, item, now)
		}

		return json.Marshal(b)
	})
}

// recordDislikeTag applies one dislike signal to one tag.
func (m *Manager) recordDislikeTag(b *Blocklist, category Category, key string, now time.Time) {
	if key == "" || b.Hard.has(category, key) {
		return
	}

	b.Soft.set(category)[key] = true

	if b.DislikeEvents == nil {
		b.DislikeEvents = make(map[string][]time.Time)
	}
	ek := eventKey(category, key)
	events := append(b.DislikeEvents[ek], now)

	// Keep only events inside the rolling window.
	cutoff := now.Add(-m.cfg.PromotionWindow)
	kept := events[:0]
	for _, ts := range events {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= m.cfg.PromotionThreshold {
		b.Hard.set(category)[key] = true
		b.Soft.remove(category, key)
		delete(b.DislikeEvents, ek)
		metrics.BlocklistPromotionsTotal.Inc()
		m.logger.Info().
			Str("user_id", b.UserID).
			Str("category", string(category)).
			Str("key", key).
			Int("dislikes", len(kept)).
			Msg("soft blocklist entry promoted to hard")
		return
	}

	b.DislikeEvents[ek] = kept
}

// CleanupExpired physically removes expired temporary entries and stale
// dislike events across all users. Lazy expiry keeps reads correct
// without this; the sweep only bounds storage growth. Returns the
// number of documents compacted.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	var userKeys []string
	err := m.store.ScanPrefix(ctx, keyPrefix, func(key string, _ []byte) error {
		userKeys = append(userKeys, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan blocklists: %w", err)
	}

	compacted := 0
	for _, storeKey := range userKeys {
		changed := false
		err := m.store.Mutate(ctx, storeKey, func(current []byte) ([]byte, error) {
			changed = false
			if current == nil {
				return nil, storage.ErrAbortMutation
			}
			var b Blocklist
			if err := json.Unmarshal(current, &b); err != nil {
				return nil, err
			}

			now := m.now()
			before := len(b.Temporary)
			kept := b.Temporary[:0]
			for _, e := range b.Temporary {
				if !e.Expired(now) {
					kept = append(kept, e)
				}
			}
			b.Temporary = kept

			cutoff := now.Add(-m.cfg.PromotionWindow)
			for ek, events := range b.DislikeEvents {
				live := events[:0]
				for _, ts := range events {
					if !ts.Before(cutoff) {
						live = append(live, ts)
					}
				}
				if len(live) == 0 {
					delete(b.DislikeEvents, ek)
					changed = true
				} else if len(live) != len(events) {
					b.DislikeEvents[ek] = live
					changed = true
				}
			}

			if before != len(b.Temporary) {
				changed = true
			}
			if !changed {
				return nil, storage.ErrAbortMutation
			}
			return json.Marshal(&b)
		})
		if err != nil {
			m.logger.Warn().Err(err).Str("key", storeKey).Msg("blocklist cleanup failed")
			continue
		}
		if changed {
			compacted++
		}
	}
	return compacted, nil
}

// mutate runs a validated read-modify-write on the user's document.
func (m *Manager) mutate(ctx context.Context, userID string, category Category, key string, fn func(*Blocklist)) error {
	if err := storage.ValidateUserID(userID); err != nil {
		return err
	}
	if !category.Valid() {
		return fmt.Errorf("unknown blocklist category %q", category)
	}
	if key == "" {
		return fmt.Errorf("empty blocklist key: %w", tags.ErrInvalidTagFormat)
	}

	return m.store.Mutate(ctx, Key(userID), func(current []byte) ([]byte, error) {
		b, err := m.unmarshal(current, userID)
		if err != nil {
			return nil, err
		}
		fn(b)
		return json.Marshal(b)
	})
}

func (m *Manager) unmarshal(current []byte, userID string) (*Blocklist, error) {
	b := newBlocklist(userID)
	if current != nil {
		if err := json.Unmarshal(current, b); err != nil {
			return nil, fmt.Errorf("unmarshal blocklist %s: %w", userID, err)
		}
		b.UserID = userID
	}
	return b, nil
}

// removeTemporary drops all entries for a tag.
func removeTemporary(entries []TemporaryEntry, category Category, key string) []TemporaryEntry {
	kept := entries[:0]
	for _, e := range entries {
		if e.Category != category || e.Key != key {
			kept = append(kept, e)
		}
	}
	return kept
}
