// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

// Package tags normalizes outfit tags at the ingestion boundary.
//
// Colors arrive from the generative layer as a mix of hex strings and
// human names ("navy", "#cc5500", "#fff"). Everything is canonicalized
// to a single "#RRGGBB" uppercase form before it reaches scoring or
// persistence, so ambiguous string tags never flow through the engine.
// Style, occasion, and season tags are normalized to lowercase slugs.
package tags

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidTagFormat indicates a tag that cannot be canonicalized.
// Callers drop such tags from scoring with a logged warning; they are
// never a hard failure.
var ErrInvalidTagFormat = errors.New("invalid tag format")

// maxTagLen bounds slug tags to keep store keys small.
const maxTagLen = 64

// namedColors maps common fashion color names to canonical hex.
var namedColors = map[string]string{
	"black":        "#000000",
	"white":        "#FFFFFF",
	"navy":         "#000080",
	"red":          "#FF0000",
	"green":        "#008000",
	"blue":         "#0000FF",
	"yellow":       "#FFFF00",
	"orange":       "#FFA500",
	"burnt orange": "#CC5500",
	"purple":       "#800080",
	"pink":         "#FFC0CB",
	"brown":        "#8B4513",
	"beige":        "#F5F5DC",
	"cream":        "#FFFDD0",
	"gray":         "#808080",
	"grey":         "#808080",
	"olive":        "#808000",
	"burgundy":     "#800020",
	"teal":         "#008080",
	"mustard":      "#FFDB58",
	"khaki":        "#C3B091",
	"charcoal":     "#36454F",
	"ivory":        "#FFFFF0",
	"camel":        "#C19A6B",
	"tan":          "#D2B48C",
	"rust":         "#B7410E",
	"coral":        "#FF7F50",
	"lavender":     "#E6E6FA",
	"mint":         "#98FF98",
	"denim":        "#1560BD",
}

// OutfitTags carries the normalized tag set of one candidate outfit.
type OutfitTags struct {
	// Colors are canonical "#RRGGBB" hex values.
	Colors []string `json:"colors"`

	// Styles are lowercase slug tags (e.g. "minimalist", "streetwear").
	Styles []string `json:"styles"`

	// Occasion is a single slug tag (e.g. "office", "date_night").
	Occasion string `json:"occasion"`

	// Season is a single slug tag (e.g. "summer").
	Season string `json:"season"`

	// Items are free-form item descriptors used for item-level blocklists.
	Items []string `json:"items,omitempty"`
}

// NormalizeColor canonicalizes a color tag to "#RRGGBB" uppercase.
// Accepts "#RGB" and "#RRGGBB" hex in any case, plus a set of common
// color names. Returns ErrInvalidTagFormat for anything else.
func NormalizeColor(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("empty color: %w", ErrInvalidTagFormat)
	}

	if hex, ok := namedColors[s]; ok {
		return hex, nil
	}

	if !strings.HasPrefix(s, "#") {
		return "", fmt.Errorf("color %q: %w", raw, ErrInvalidTagFormat)
	}

	body := s[1:]
	switch len(body) {
	case 3:
		// Expand shorthand #RGB to #RRGGBB.
		expanded := make([]byte, 6)
		for i := 0; i < 3; i++ {
			if !isHexDigit(body[i]) {
				return "", fmt.Errorf("color %q: %w", raw, ErrInvalidTagFormat)
			}
			expanded[2*i] = body[i]
			expanded[2*i+1] = body[i]
		}
		return "#" + strings.ToUpper(string(expanded)), nil
	case 6:
		for i := 0; i < 6; i++ {
			if !isHexDigit(body[i]) {
				return "", fmt.Errorf("color %q: %w", raw, ErrInvalidTagFormat)
			}
		}
		return "#" + strings.ToUpper(body), nil
	default:
		return "", fmt.Errorf("color %q: %w", raw, ErrInvalidTagFormat)
	}
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}

// NormalizeColors canonicalizes a color list, deduplicating along the way.
// Returns the valid canonical colors and the raw values that were dropped.
func NormalizeColors(raw []string) (valid, dropped []string) {
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		c, err := NormalizeColor(r)
		if err != nil {
			dropped = append(dropped, r)
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		valid = append(valid, c)
	}
	return valid, dropped
}

// NormalizeSlug canonicalizes a style/occasion/season tag to a lowercase
// slug. Spaces become underscores. Returns ErrInvalidTagFormat for empty,
// oversized, or non-alphanumeric tags.
func NormalizeSlug(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, " ", "_")
	if s == "" || len(s) > maxTagLen {
		return "", fmt.Errorf("tag %q: %w", raw, ErrInvalidTagFormat)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		return "", fmt.Errorf("tag %q: %w", raw, ErrInvalidTagFormat)
	}
	return s, nil
}

// NormalizeSlugs canonicalizes a slug list, deduplicating along the way.
func NormalizeSlugs(raw []string) (valid, dropped []string) {
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		s, err := NormalizeSlug(r)
		if err != nil {
			dropped = append(dropped, r)
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		valid = append(valid, s)
	}
	return valid, dropped
}

// ComboKey builds an order-independent key for a color combination.
// Colors are canonicalized, sorted, and joined with "+".
func ComboKey(colors []string) string {
	canon, _ := NormalizeColors(colors)
	sort.Strings(canon)
	return strings.Join(canon, "+")
}

// SplitComboKey returns the color set encoded in a combo key.
func SplitComboKey(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, "+")
}

// Overlap returns the Jaccard similarity of two color sets: the size of
// the intersection over the size of the union, in [0,1]. Empty inputs
// overlap with nothing.
func Overlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(a))
	for _, c := range a {
		set[c] = struct{}{}
	}

	intersection := 0
	union := len(set)
	seen := make(map[string]struct{}, len(b))
	for _, c := range b {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		if _, ok := set[c]; ok {
			intersection++
		} else {
			union++
		}
	}

	return float64(intersection) / float64(union)
}

// ComboOverlap returns the Jaccard similarity of two combo keys.
func ComboOverlap(keyA, keyB string) float64 {
	return Overlap(SplitComboKey(keyA), SplitComboKey(keyB))
}
