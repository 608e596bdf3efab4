// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

// Package blocklist manages per-user exclusion state in three tiers:
// hard (full exclusion), soft (score penalty), and temporary (smaller
// penalty with expiry). Hard membership always wins over soft and
// temporary for the same tag. Repeated dislikes of a soft-blocked tag
// within a rolling window promote it to hard.
package blocklist

import (
	"time"
)

// Category identifies what kind of tag a blocklist entry targets.
type Category string

const (
	CategoryColor Category = "colors"
	CategoryStyle Category = "styles"
	CategoryItem  Category = "items"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryColor, CategoryStyle, CategoryItem:
		return true
	}
	return false
}

// Tier names the blocklist severities.
type Tier string

const (
	TierHard      Tier = "hard"
	TierSoft      Tier = "soft"
	TierTemporary Tier = "temporary"
)

// TierSets holds the tag sets of one tier.
type TierSets struct {
	Colors map[string]bool `json:"colors,omitempty"`
	Styles map[string]bool `json:"styles,omitempty"`
	Items  map[string]bool `json:"items,omitempty"`
}

func (t *TierSets) set(category Category) map[string]bool {
	switch category {
	case CategoryColor:
		if t.Colors == nil {
			t.Colors = make(map[string]bool)
		}
		return t.Colors
	case CategoryStyle:
		if t.Styles == nil {
			t.Styles = make(map[string]bool)
		}
		return t.Styles
	default:
		if t.Items == nil {
			t.Items = make(map[string]bool)
		}
		return t.Items
	}
}

func (t *TierSets) has(category Category, key string) bool {
	switch category {
	case CategoryColor:
		return t.Colors[key]
	case CategoryStyle:
		return t.Styles[key]
	default:
		return t.Items[key]
	}
}

func (t *TierSets) remove(category Category, key string) {
	switch category {
	case CategoryColor:
		delete(t.Colors, key)
	case CategoryStyle:
		delete(t.Styles, key)
	default:
		delete(t.Items, key)
	}
}

// TemporaryEntry is a time-limited penalty entry. Expired entries are
// treated as absent at read time (lazy expiry); physical removal
// happens opportunistically during writes and periodic cleanup.
type TemporaryEntry struct {
	Key       string    `json:"key"`
	Category  Category  `json:"category"`
	ExpiresAt time.Time `json:"expires_at"`
	Reason    string    `json:"reason,omitempty"`
}

// Expired reports whether the entry is past its expiry at the given time.
func (e TemporaryEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Blocklist is the persisted per-user exclusion document.
type Blocklist struct {
	UserID    string           `json:"user_id"`
	Hard      TierSets         `json:"hard"`
	Soft      TierSets         `json:"soft"`
	Temporary []TemporaryEntry `json:"temporary,omitempty"`

	// DislikeEvents tracks dislike timestamps per "category/key" for
	// the soft-to-hard promotion window. Pruned as the window rolls.
	DislikeEvents map[string][]time.Time `json:"dislike_events,omitempty"`
}

// newBlocklist returns an empty document for a user.
func newBlocklist(userID string) *Blocklist {
	return &Blocklist{UserID: userID}
}

// eventKey builds the DislikeEvents map key for a tag.
func eventKey(category Category, key string) string {
	return string(category) + "/" + key
}

// Match describes one blocklist hit against a candidate outfit.
type Match struct {
	Tier     Tier     `json:"tier"`
	Category Category `json:"category"`
	Key      string   `json:"key"`
}

// Decision is the outcome of checking an outfit against a blocklist.
// Penalty is a positive magnitude the scorer subtracts; matches stack
// additively. Any hard match forces Blocked regardless of the rest.
type Decision struct {
	Blocked bool
	Penalty float64
	Matched []Match
}
