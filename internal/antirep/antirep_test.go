// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

package antirep

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stylistry/ensemble/internal/config"
	"github.com/stylistry/ensemble/internal/storage"
	"github.com/stylistry/ensemble/internal/tags"
)

func newTestCache(t *testing.T) (*Cache, *storage.MemoryStore, *time.Time) {
	t.Helper()
	mem := storage.NewMemoryStore()
	c := NewCache(mem, config.Default().AntiRepetition)

	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mem.SetClock(func() time.Time { return current })
	return c, mem, &current
}

func TestColorComboWindow(t *testing.T) {
	c, _, current := newTestCache(t)
	ctx := context.Background()
	key := tags.ComboKey([]string{"#CC5500", "#000080"})

	if err := c.Record(ctx, "u1", CategoryColorCombo, key); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// Still cooling at T+29d.
	*current = current.Add(29 * 24 * time.Hour)
	shown, err := c.WasRecentlyShown(ctx, "u1", CategoryColorCombo, key)
	if err != nil || !shown {
		t.Errorf("T+29d: shown=%v err=%v, want true", shown, err)
	}

	// Expired at T+31d.
	*current = current.Add(2 * 24 * time.Hour)
	shown, err = c.WasRecentlyShown(ctx, "u1", CategoryColorCombo, key)
	if err != nil || shown {
		t.Errorf("T+31d: shown=%v err=%v, want false", shown, err)
	}
}

func TestStyleAndOccasionWindows(t *testing.T) {
	c, _, current := newTestCache(t)
	ctx := context.Background()

	if err := c.Record(ctx, "u1", CategoryStyle, "minimalist"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := c.Record(ctx, "u1", CategoryOccasion, "office"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// Occasion expires after 7d, style survives to 15d.
	*current = current.Add(8 * 24 * time.Hour)
	if shown, _ := c.WasRecentlyShown(ctx, "u1", CategoryOccasion, "office"); shown {
		t.Error("occasion should have expired after 7d")
	}
	if shown, _ := c.WasRecentlyShown(ctx, "u1", CategoryStyle, "minimalist"); !shown {
		t.Error("style should still be cooling at 8d")
	}

	*current = current.Add(8 * 24 * time.Hour)
	if shown, _ := c.WasRecentlyShown(ctx, "u1", CategoryStyle, "minimalist"); shown {
		t.Error("style should have expired after 16d")
	}
}

func TestComboNearDuplicateDetection(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	// Record a 7-color combo, then probe with a 10-color superset:
	// overlap 7/10 = 0.70, exactly at the threshold.
	shared := make([]string, 0, 7)
	for i := 0; i < 7; i++ {
		shared = append(shared, fmt.Sprintf("#%06X", i+1))
	}
	if err := c.Record(ctx, "u1", CategoryColorCombo, tags.ComboKey(shared)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	superset := append(append([]string{}, shared...), "#AA0001", "#AA0002", "#AA0003")
	shown, err := c.WasRecentlyShown(ctx, "u1", CategoryColorCombo, tags.ComboKey(superset))
	if err != nil || !shown {
		t.Errorf("70%% overlap: shown=%v err=%v, want duplicate", shown, err)
	}

	// 69/100 overlap stays below the threshold.
	shared69 := make([]string, 0, 69)
	for i := 0; i < 69; i++ {
		shared69 = append(shared69, fmt.Sprintf("#B%05X", i+1))
	}
	if err := c.Record(ctx, "u2", CategoryColorCombo, tags.ComboKey(shared69)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	probe := append([]string{}, shared69...)
	for i := 0; i < 31; i++ {
		probe = append(probe, fmt.Sprintf("#C%05X", i+1))
	}
	shown, err = c.WasRecentlyShown(ctx, "u2", CategoryColorCombo, tags.ComboKey(probe))
	if err != nil || shown {
		t.Errorf("69%% overlap: shown=%v err=%v, want not duplicate", shown, err)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	key := tags.ComboKey([]string{"#CC5500", "#000080"})

	if err := c.Record(ctx, "u1", CategoryColorCombo, key); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if shown, _ := c.WasRecentlyShown(ctx, "u2", CategoryColorCombo, key); shown {
		t.Error("another user's history must not count")
	}
}

func TestRecordShownCoversAllCategories(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	o := tags.OutfitTags{
		Colors:   []string{"#CC5500", "#000080"},
		Styles:   []string{"minimalist", "classic"},
		Occasion: "office",
	}
	if err := c.RecordShown(ctx, "u1", o); err != nil {
		t.Fatalf("RecordShown: %v", err)
	}

	if shown, _ := c.WasRecentlyShown(ctx, "u1", CategoryColorCombo, tags.ComboKey(o.Colors)); !shown {
		t.Error("combo not recorded")
	}
	for _, s := range o.Styles {
		if shown, _ := c.WasRecentlyShown(ctx, "u1", CategoryStyle, s); !shown {
			t.Errorf("style %s not recorded", s)
		}
	}
	if shown, _ := c.WasRecentlyShown(ctx, "u1", CategoryOccasion, "office"); !shown {
		t.Error("occasion not recorded")
	}
}

func TestValidation(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	if _, err := c.WasRecentlyShown(ctx, "", CategoryStyle, "x"); !errors.Is(err, storage.ErrInvalidUserID) {
		t.Errorf("empty user = %v, want ErrInvalidUserID", err)
	}
	if _, err := c.WasRecentlyShown(ctx, "u1", Category("weather"), "x"); err == nil {
		t.Error("expected error for unknown category")
	}
	// Empty keys are never "recently shown" and never recorded.
	if shown, err := c.WasRecentlyShown(ctx, "u1", CategoryOccasion, ""); err != nil || shown {
		t.Errorf("empty key: shown=%v err=%v", shown, err)
	}
	if err := c.Record(ctx, "u1", CategoryOccasion, ""); err != nil {
		t.Errorf("Record empty key = %v, want nil", err)
	}
}
