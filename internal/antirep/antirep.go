// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

// Package antirep keeps a time-windowed record of what each user was
// recently shown so the engine does not repeat outfits within a
// cooldown. Entries ride the store's native TTL: color combos cool for
// 30 days, styles 15, occasions 7 by default. Color-combo checks also
// catch near-duplicates via Jaccard overlap, so swapping a single
// accent color does not dodge the window.
package antirep

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

// Category identifies what kind of key is being tracked.
type Category string

const (
	CategoryColorCombo Category = "combo"
	CategoryStyle      Category = "style"
	CategoryOccasion   Category = "occasion"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryColorCombo, CategoryStyle, CategoryOccasion:
		return true
	}
	return false
}

// entry is the stored record of one shown key.
type entry struct {
	Key        string    `json:"key"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Cache tracks recently-shown keys per user and category.
type Cache struct {
	store  storage.Store
	cfg    config.AntiRepetitionConfig
	logger zerolog.Logger
}

// NewCache creates an anti-repetition cache over the given backend.
func NewCache(s storage.Store, cfg config.AntiRepetitionConfig) *Cache {
	return &Cache{
		store:  s,
		cfg:    cfg,
		logger: logging.With().Str("component", "antirep").Logger(),
	}
}

// storeKey builds "antirep:<userID>:<category>:<key>". Keys never
// contain ':' (combo keys join with '+', slugs forbid it).
func storeKey(userID string, category Category, key string) string {
	return "antirep:" + userID + ":" + string(category) + ":" + key
}

func userPrefix(userID string, category Category) string {
	return "antirep:" + userID + ":" + string(category) + ":"
}

// ttlFor returns the cooldown window for a category.
func (c *Cache) ttlFor(category Category) time.Duration {
	switch category {
	case CategoryColorCombo:
		return c.cfg.ColorComboTTL
	case CategoryStyle:
		return c.cfg.StyleTTL
	default:
		return c.cfg.OccasionTTL
	}
}

// WasRecentlyShown reports whether an unexpired entry exists for the
// key. For color combos, any stored combo whose Jaccard overlap with
// the candidate meets the threshold counts as a repeat.
func (c *Cache) WasRecentlyShown(ctx context.Context, userID string, category Category, key string) (bool, error) {
	if err := storage.ValidateUserID(userID); err != nil {
		return false, err
	}
	if !category.Valid() {
		return false, fmt.Errorf("unknown anti-repetition category %q", category)
	}
	if key == "" {
		return false, nil
	}

	if category == CategoryColorCombo {
		return c.comboRecentlyShown(ctx, userID, key)
	}

	_, err := c.store.Get(ctx, storeKey(userID, category, key))
	switch {
	case err == nil:
		metrics.RepetitionHitsTotal.WithLabelValues(string(category)).Inc()
		return true, nil
	case errors.Is(err, storage.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

// comboRecentlyShown scans the user's live combo entries and compares
// color-set overlap. An exact key hit short-circuits.
func (c *Cache) comboRecentlyShown(ctx context.Context, userID, key string) (bool, error) {
	candidate := tags.SplitComboKey(key)

	// Scan the full prefix rather than stopping at the first match;
	// per-user combo windows are small and an early-abort error would be
	// indistinguishable from a backend failure to the circuit breaker.
	found := false
	err := c.store.ScanPrefix(ctx, userPrefix(userID, CategoryColorCombo), func(k string, value []byte) error {
		if found {
			return nil
		}
		var e entry
		if err := json.Unmarshal(value, &e); err != nil {
			c.logger.Warn().Err(err).Str("key", k).Msg("corrupt anti-repetition entry, skipping")
			return nil
		}
		if tags.Overlap(candidate, tags.SplitComboKey(e.Key)) >= c.cfg.ComboOverlapThreshold {
			found = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if found {
		metrics.RepetitionHitsTotal.WithLabelValues(string(CategoryColorCombo)).Inc()
	}
	return found, nil
}

// Record stores a shown key with its category's TTL. Called for every
// outfit actually presented, regardless of later feedback.
func (c *Cache) Record(ctx context.Context, userID string, category Category, key string) error {
	if err := storage.ValidateUserID(userID); err != nil {
		return err
	}
	if !category.Valid() {
		return fmt.Errorf("unknown anti-repetition category %q", category)
	}
	if key == "" {
		return nil
	}

	data, err := json.Marshal(entry{Key: key, RecordedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal anti-repetition entry: %w", err)
	}
	return c.store.PutWithTTL(ctx, storeKey(userID, category, key), data, c.ttlFor(category))
}

// RecordShown records all repetition keys of one presented outfit: its
// color-combo key, each style, and the occasion.
func (c *Cache) RecordShown(ctx context.Context, userID string, t tags.OutfitTags) error {
	var firstErr error
	record := func(category Category, key string) {
		if err := c.Record(ctx, userID, category, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(CategoryColorCombo, tags.ComboKey(t.Colors))
	for _, s := range t.Styles {
		record(CategoryStyle, s)
	}
	record(CategoryOccasion, t.Occasion)
	return firstErr
}
