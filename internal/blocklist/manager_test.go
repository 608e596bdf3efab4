// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

package blocklist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stylistry/ensemble/internal/config"
	"github.com/stylistry/ensemble/internal/storage"
	"github.com/stylistry/ensemble/internal/tags"
)

func newTestManager(t *testing.T) (*Manager, *storage.MemoryStore, *time.Time) {
	t.Helper()
	mem := storage.NewMemoryStore()
	m := NewManager(mem, config.Default().Blocklist)

	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return current })
	mem.SetClock(func() time.Time { return current })
	return m, mem, &current
}

func TestIsBlockedEmptyBlocklist(t *testing.T) {
	m, _, _ := newTestManager(t)

	d, err := m.IsBlocked(context.Background(), "u1", tags.OutfitTags{Colors: []string{"#CC5500"}})
	if err != nil {
		t.Fatalf("IsBlocked: %v", err)
	}
	if d.Blocked || d.Penalty != 0 || len(d.Matched) != 0 {
		t.Errorf("expected clean decision, got %+v", d)
	}
}

func TestHardBlockWinsOverEverything(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	// The same tag on all three tiers: hard must force exclusion.
	if err := m.AddToSoft(ctx, "u1", CategoryStyle, "maximalist"); err != nil {
		t.Fatalf("AddToSoft: %v", err)
	}
	if err := m.AddTemporary(ctx, "u1", CategoryStyle, "maximalist", 0, "seasonal"); err != nil {
		t.Fatalf("AddTemporary: %v", err)
	}
	if err := m.AddToHard(ctx, "u1", CategoryStyle, "maximalist"); err != nil {
		t.Fatalf("AddToHard: %v", err)
	}

	d, err := m.IsBlocked(ctx, "u1", tags.OutfitTags{Styles: []string{"maximalist"}})
	if err != nil {
		t.Fatalf("IsBlocked: %v", err)
	}
	if !d.Blocked {
		t.Fatal("hard-listed tag must block")
	}
	if len(d.Matched) != 1 || d.Matched[0].Tier != TierHard {
		t.Errorf("matched = %+v, want single hard match", d.Matched)
	}
}

func TestPenaltiesStackAdditively(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.AddToSoft(ctx, "u1", CategoryColor, "#FF0000"); err != nil {
		t.Fatalf("AddToSoft: %v", err)
	}
	if err := m.AddToSoft(ctx, "u1", CategoryStyle, "neon"); err != nil {
		t.Fatalf("AddToSoft: %v", err)
	}
	if err := m.AddTemporary(ctx, "u1", CategoryColor, "#00FF00", 0, "out of season"); err != nil {
		t.Fatalf("AddTemporary: %v", err)
	}

	d, err := m.IsBlocked(ctx, "u1", tags.OutfitTags{
		Colors: []string{"#FF0000", "#00FF00"},
		Styles: []string{"neon"},
	})
	if err != nil {
		t.Fatalf("IsBlocked: %v", err)
	}
	if d.Blocked {
		t.Error("soft/temporary matches must not block")
	}
	// Two soft (20 each) plus one temporary (10).
	if d.Penalty != 50 {
		t.Errorf("penalty = %v, want 50", d.Penalty)
	}
	if len(d.Matched) != 3 {
		t.Errorf("matched = %+v, want 3 entries", d.Matched)
	}
}

func TestTemporaryEntryLazyExpiry(t *testing.T) {
	m, _, current := newTestManager(t)
	ctx := context.Background()

	if err := m.AddTemporary(ctx, "u1", CategoryColor, "#FF00FF", 48*time.Hour, "trend fatigue"); err != nil {
		t.Fatalf("AddTemporary: %v", err)
	}

	o := tags.OutfitTags{Colors: []string{"#FF00FF"}}

	d, _ := m.IsBlocked(ctx, "u1", o)
	if d.Penalty != 10 {
		t.Errorf("penalty before expiry = %v, want 10", d.Penalty)
	}

	*current = current.Add(49 * time.Hour)
	d, _ = m.IsBlocked(ctx, "u1", o)
	if d.Penalty != 0 || len(d.Matched) != 0 {
		t.Errorf("expired temporary entry still matched: %+v", d)
	}
}

func TestPromotionBoundary(t *testing.T) {
	m, _, current := newTestManager(t)
	ctx := context.Background()
	o := tags.OutfitTags{Styles: []string{"maximalist"}}

	// Two dislikes: soft, not yet hard.
	for i := 0; i < 2; i++ {
		if err := m.RecordDislike(ctx, "u1", o); err != nil {
			t.Fatalf("RecordDislike: %v", err)
		}
		*current = current.Add(24 * time.Hour)
	}

	b, err := m.get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b.Hard.has(CategoryStyle, "maximalist") {
		t.Fatal("promoted after 2 dislikes, want 3")
	}
	if !b.Soft.has(CategoryStyle, "maximalist") {
		t.Fatal("expected soft entry after dislikes")
	}

	// Third dislike inside the window promotes.
	if err := m.RecordDislike(ctx, "u1", o); err != nil {
		t.Fatalf("RecordDislike: %v", err)
	}

	b, _ = m.get(ctx, "u1")
	if !b.Hard.has(CategoryStyle, "maximalist") {
		t.Fatal("expected promotion at 3rd dislike")
	}
	if b.Soft.has(CategoryStyle, "maximalist") {
		t.Error("promoted tag must leave the soft tier")
	}

	d, _ := m.IsBlocked(ctx, "u1", o)
	if !d.Blocked {
		t.Error("promoted tag must hard-block")
	}
}

func TestPromotionWindowRolls(t *testing.T) {
	m, _, current := newTestManager(t)
	ctx := context.Background()
	o := tags.OutfitTags{Colors: []string{"#FF0000"}}

	// Two dislikes, then a long gap pushing them out of the 30d window.
	for i := 0; i < 2; i++ {
		if err := m.RecordDislike(ctx, "u1", o); err != nil {
			t.Fatalf("RecordDislike: %v", err)
		}
	}
	*current = current.Add(31 * 24 * time.Hour)

	// This is the 3rd dislike overall but only the 1st inside the window.
	if err := m.RecordDislike(ctx, "u1", o); err != nil {
		t.Fatalf("RecordDislike: %v", err)
	}

	b, _ := m.get(ctx, "u1")
	if b.Hard.has(CategoryColor, "#FF0000") {
		t.Error("stale dislikes outside the window must not count toward promotion")
	}
}

func TestDislikeOnHardBlockedTagIsNoop(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.AddToHard(ctx, "u1", CategoryColor, "#FF0000"); err != nil {
		t.Fatalf("AddToHard: %v", err)
	}
	if err := m.RecordDislike(ctx, "u1", tags.OutfitTags{Colors: []string{"#FF0000"}}); err != nil {
		t.Fatalf("RecordDislike: %v", err)
	}

	b, _ := m.get(ctx, "u1")
	if b.Soft.has(CategoryColor, "#FF0000") {
		t.Error("hard-blocked tag must not reappear in soft tier")
	}
	if len(b.DislikeEvents) != 0 {
		t.Errorf("hard-blocked tag must not accumulate events: %v", b.DislikeEvents)
	}
}

func TestInvalidInputs(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.IsBlocked(ctx, "", tags.OutfitTags{}); !errors.Is(err, storage.ErrInvalidUserID) {
		t.Errorf("IsBlocked('') = %v, want ErrInvalidUserID", err)
	}
	if err := m.AddToHard(ctx, "u1", Category("sizes"), "xl"); err == nil {
		t.Error("expected error for unknown category")
	}
	if err := m.AddToSoft(ctx, "u1", CategoryColor, ""); !errors.Is(err, tags.ErrInvalidTagFormat) {
		t.Errorf("AddToSoft empty key = %v, want ErrInvalidTagFormat", err)
	}
}

func TestCleanupExpiredCompactsDocuments(t *testing.T) {
	m, _, current := newTestManager(t)
	ctx := context.Background()

	if err := m.AddTemporary(ctx, "u1", CategoryColor, "#FF00FF", 24*time.Hour, ""); err != nil {
		t.Fatalf("AddTemporary: %v", err)
	}
	if err := m.RecordDislike(ctx, "u2", tags.OutfitTags{Colors: []string{"#FF0000"}}); err != nil {
		t.Fatalf("RecordDislike: %v", err)
	}

	*current = current.Add(40 * 24 * time.Hour)

	compacted, err := m.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if compacted != 2 {
		t.Errorf("compacted = %d, want 2", compacted)
	}

	b1, _ := m.get(ctx, "u1")
	if len(b1.Temporary) != 0 {
		t.Errorf("expired temporary entries not removed: %+v", b1.Temporary)
	}
	b2, _ := m.get(ctx, "u2")
	if len(b2.DislikeEvents) != 0 {
		t.Errorf("stale dislike events not pruned: %+v", b2.DislikeEvents)
	}
}
