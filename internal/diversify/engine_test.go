// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

package diversify

import (
	"context"
	"errors"
	"testing"

	"github.com/stylistry/ensemble/internal/antirep"
	"github.com/stylistry/ensemble/internal/blocklist"
	"github.com/stylistry/ensemble/internal/config"
	"github.com/stylistry/ensemble/internal/explore"
	"github.com/stylistry/ensemble/internal/profile"
	"github.com/stylistry/ensemble/internal/scoring"
	"github.com/stylistry/ensemble/internal/storage"
	"github.com/stylistry/ensemble/internal/tags"
)

type testEnv struct {
	engine     *Engine
	store      *storage.MemoryStore
	profiles   *profile.Store
	blocklists *blocklist.Manager
	shown      *antirep.Cache
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Diversifier.Seed = 42
	for _, m := range mutate {
		m(cfg)
	}

	mem := storage.NewMemoryStore()
	profiles := profile.NewStore(mem, cfg.Profile)
	blocklists := blocklist.NewManager(mem, cfg.Blocklist)
	shown := antirep.NewCache(mem, cfg.AntiRepetition)
	explorer := explore.NewController(mem, cfg.Exploration)
	scorer := scoring.NewScorer(cfg.Scoring)

	return &testEnv{
		engine:     NewEngine(profiles, blocklists, shown, explorer, scorer, cfg.Diversifier),
		store:      mem,
		profiles:   profiles,
		blocklists: blocklists,
		shown:      shown,
	}
}

func candidatePool() []CandidateOutfit {
	return []CandidateOutfit{
		{ID: "o1", Colors: []string{"#CC5500", "#000080"}, Styles: []string{"minimalist"}, Occasion: "office", Season: "fall"},
		{ID: "o2", Colors: []string{"#000080", "#FFFFFF"}, Styles: []string{"classic"}, Occasion: "office", Season: "fall"},
		{ID: "o3", Colors: []string{"#FF0000"}, Styles: []string{"streetwear"}, Occasion: "party", Season: "summer"},
		{ID: "o4", Colors: []string{"#008000"}, Styles: []string{"casual"}, Occasion: "weekend", Season: "spring"},
	}
}

// trainProfile applies repeated likes so scoring has real weight data.
func trainProfile(t *testing.T, env *testEnv, userID string, tg tags.OutfitTags, likes int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < likes; i++ {
		if err := env.profiles.ApplyDelta(ctx, userID, tg, profile.ActionLike); err != nil {
			t.Fatalf("ApplyDelta: %v", err)
		}
	}
}

func TestColdStartReturnsThreeNeutralRecommendations(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.engine.SelectRecommendations(context.Background(), "new-user", candidatePool())
	if err != nil {
		t.Fatalf("SelectRecommendations: %v", err)
	}
	if len(resp.Recommendations) != 3 {
		t.Fatalf("got %d recommendations, want 3", len(resp.Recommendations))
	}
	for _, rec := range resp.Recommendations {
		if rec.MatchScore != 50 {
			t.Errorf("slot %d cold-start score = %v, want neutral 50", rec.Slot, rec.MatchScore)
		}
	}
	if resp.RequestID == "" {
		t.Error("response missing request ID")
	}
	if resp.ExplorationPercent != 10 {
		t.Errorf("cold-start exploration rate = %v, want initial 10", resp.ExplorationPercent)
	}
}

func TestReturnsAllCandidatesWhenFewerThanThree(t *testing.T) {
	env := newTestEnv(t)
	pool := candidatePool()[:2]

	resp, err := env.engine.SelectRecommendations(context.Background(), "u1", pool)
	if err != nil {
		t.Fatalf("SelectRecommendations: %v", err)
	}
	if len(resp.Recommendations) != 2 {
		t.Errorf("got %d recommendations, want 2", len(resp.Recommendations))
	}
}

func TestEmptyPoolYieldsEmptyResponse(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.engine.SelectRecommendations(context.Background(), "u1", nil)
	if err != nil {
		t.Fatalf("SelectRecommendations: %v", err)
	}
	if len(resp.Recommendations) != 0 {
		t.Errorf("got %d recommendations, want 0", len(resp.Recommendations))
	}
}

func TestInvalidUserIDRejected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.SelectRecommendations(context.Background(), "bad:id", candidatePool())
	if !errors.Is(err, storage.ErrInvalidUserID) {
		t.Errorf("err = %v, want ErrInvalidUserID", err)
	}
}

func TestHardBlockedCandidatesNeverAppear(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.blocklists.AddToHard(ctx, "u1", blocklist.CategoryColor, "#FF0000"); err != nil {
		t.Fatalf("AddToHard: %v", err)
	}

	resp, err := env.engine.SelectRecommendations(ctx, "u1", candidatePool())
	if err != nil {
		t.Fatalf("SelectRecommendations: %v", err)
	}
	for _, rec := range resp.Recommendations {
		if rec.Outfit.ID == "o3" {
			t.Error("hard-blocked outfit o3 was recommended")
		}
	}
	if len(resp.Recommendations) != 3 {
		t.Errorf("got %d recommendations, want 3 from the remaining pool", len(resp.Recommendations))
	}
}

func TestTrainedProfileRanksMatchingOutfitFirst(t *testing.T) {
	env := newTestEnv(t)

	trainProfile(t, env, "u1", tags.OutfitTags{
		Colors:   []string{"#CC5500", "#000080"},
		Styles:   []string{"minimalist"},
		Occasion: "office",
		Season:   "fall",
	}, 10)

	resp, err := env.engine.SelectRecommendations(context.Background(), "u1", candidatePool())
	if err != nil {
		t.Fatalf("SelectRecommendations: %v", err)
	}
	if len(resp.Recommendations) != 3 {
		t.Fatalf("got %d recommendations, want 3", len(resp.Recommendations))
	}
	if resp.Recommendations[0].Outfit.ID != "o1" {
		t.Errorf("slot 1 = %s, want the fully-matching o1", resp.Recommendations[0].Outfit.ID)
	}
	if resp.Recommendations[0].TierLabel != TierSafeBet {
		t.Errorf("slot 1 label = %q, want %q", resp.Recommendations[0].TierLabel, TierSafeBet)
	}
}

func TestSlotScoresNonIncreasingOutsideExploration(t *testing.T) {
	// With the exploration rate pinned at zero the roll never explores
	// and the slot scores must be non-increasing.
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Exploration.InitialPercent = 0
		cfg.Exploration.MinPercent = 0
		cfg.Exploration.MaxPercent = 0
	})

	trainProfile(t, env, "u1", tags.OutfitTags{
		Colors:   []string{"#CC5500", "#000080", "#FFFFFF", "#FF0000"},
		Styles:   []string{"minimalist", "classic", "streetwear"},
		Occasion: "office",
		Season:   "fall",
	}, 20)

	resp, err := env.engine.SelectRecommendations(context.Background(), "u1", candidatePool())
	if err != nil {
		t.Fatalf("SelectRecommendations: %v", err)
	}
	if len(resp.Recommendations) != 3 {
		t.Fatalf("got %d recommendations, want 3", len(resp.Recommendations))
	}
	for _, rec := range resp.Recommendations {
		if rec.Exploration {
			t.Fatalf("slot %d marked exploration at zero rate", rec.Slot)
		}
	}
	r := resp.Recommendations
	if r[0].MatchScore < r[1].MatchScore || r[1].MatchScore < r[2].MatchScore {
		t.Errorf("scores increase across slots: %v / %v / %v",
			r[0].MatchScore, r[1].MatchScore, r[2].MatchScore)
	}
}

func TestGuaranteedExplorationPicksStretchBand(t *testing.T) {
	// With the exploration rate pinned at 100 the roll always explores.
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Exploration.InitialPercent = 100
		cfg.Exploration.MinPercent = 100
		cfg.Exploration.MaxPercent = 100
	})

	// Heavy training on o1's and o2's tags keeps them high while o3's
	// color and style weights alone land it in the stretch band (its
	// occasion and season score zero against this profile).
	trainProfile(t, env, "u1", tags.OutfitTags{
		Colors:   []string{"#CC5500", "#000080"},
		Styles:   []string{"minimalist", "classic"},
		Occasion: "office",
		Season:   "fall",
	}, 20)
	trainProfile(t, env, "u1", tags.OutfitTags{
		Colors: []string{"#FF0000"},
		Styles: []string{"streetwear"},
	}, 20)

	resp, err := env.engine.SelectRecommendations(context.Background(), "u1", candidatePool())
	if err != nil {
		t.Fatalf("SelectRecommendations: %v", err)
	}
	if len(resp.Recommendations) != 3 {
		t.Fatalf("got %d recommendations, want 3", len(resp.Recommendations))
	}

	slot3 := resp.Recommendations[2]
	if !slot3.Exploration {
		t.Fatal("slot 3 should be an exploration pick at 100% rate")
	}
	if slot3.MatchScore < 50 || slot3.MatchScore >= 70 {
		t.Errorf("exploration pick score = %v, want within [50,70)", slot3.MatchScore)
	}
	if slot3.TierLabel != TierLearning {
		t.Errorf("slot 3 label = %q, want %q", slot3.TierLabel, TierLearning)
	}
}

func TestRecentlyShownOutfitsFilteredWhenPoolAllows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Mark o3's combo as shown; with four candidates the other three
	// fill the slots and o3 stays out.
	shownTags := tags.OutfitTags{Colors: []string{"#FF0000"}, Styles: []string{"streetwear"}, Occasion: "party"}
	if err := env.shown.RecordShown(ctx, "u1", shownTags); err != nil {
		t.Fatalf("RecordShown: %v", err)
	}

	resp, err := env.engine.SelectRecommendations(ctx, "u1", candidatePool())
	if err != nil {
		t.Fatalf("SelectRecommendations: %v", err)
	}
	if len(resp.Recommendations) != 3 {
		t.Fatalf("got %d recommendations, want 3", len(resp.Recommendations))
	}
	for _, rec := range resp.Recommendations {
		if rec.Outfit.ID == "o3" {
			t.Error("recently shown outfit o3 was recommended")
		}
	}
}

func TestRepetitionRelaxesToFillSlots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Every candidate recently shown: repetition must relax rather than
	// return an empty set.
	for _, c := range candidatePool()[:3] {
		tg := tags.OutfitTags{Colors: c.Colors, Styles: c.Styles, Occasion: c.Occasion}
		if err := env.shown.RecordShown(ctx, "u1", tg); err != nil {
			t.Fatalf("RecordShown: %v", err)
		}
	}

	resp, err := env.engine.SelectRecommendations(ctx, "u1", candidatePool()[:3])
	if err != nil {
		t.Fatalf("SelectRecommendations: %v", err)
	}
	if len(resp.Recommendations) != 3 {
		t.Errorf("got %d recommendations, want 3 via relaxed repetition", len(resp.Recommendations))
	}
}

func TestRelaxationNeverRevivesHardBlocks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Two candidates hard-blocked and the remaining two recently shown:
	// only the shown pair may come back.
	if err := env.blocklists.AddToHard(ctx, "u1", blocklist.CategoryColor, "#FF0000"); err != nil {
		t.Fatalf("AddToHard: %v", err)
	}
	if err := env.blocklists.AddToHard(ctx, "u1", blocklist.CategoryColor, "#008000"); err != nil {
		t.Fatalf("AddToHard: %v", err)
	}
	for _, c := range candidatePool()[:2] {
		tg := tags.OutfitTags{Colors: c.Colors, Styles: c.Styles, Occasion: c.Occasion}
		if err := env.shown.RecordShown(ctx, "u1", tg); err != nil {
			t.Fatalf("RecordShown: %v", err)
		}
	}

	resp, err := env.engine.SelectRecommendations(ctx, "u1", candidatePool())
	if err != nil {
		t.Fatalf("SelectRecommendations: %v", err)
	}
	if len(resp.Recommendations) != 2 {
		t.Fatalf("got %d recommendations, want only the 2 relaxed repeats", len(resp.Recommendations))
	}
	for _, rec := range resp.Recommendations {
		if rec.Outfit.ID == "o3" || rec.Outfit.ID == "o4" {
			t.Errorf("hard-blocked outfit %s revived by relaxation", rec.Outfit.ID)
		}
	}
}

func TestSoftBlockPenalizesWithoutExcluding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.blocklists.AddToSoft(ctx, "u1", blocklist.CategoryColor, "#FF0000"); err != nil {
		t.Fatalf("AddToSoft: %v", err)
	}

	// o3 alone in the pool: soft-blocked outfits stay recommendable,
	// just penalized.
	resp, err := env.engine.SelectRecommendations(ctx, "u1", candidatePool()[2:3])
	if err != nil {
		t.Fatalf("SelectRecommendations: %v", err)
	}
	if len(resp.Recommendations) != 1 {
		t.Fatalf("got %d recommendations, want 1", len(resp.Recommendations))
	}
	if got := resp.Recommendations[0].MatchScore; got != 30 {
		t.Errorf("soft-penalized score = %v, want 50-20=30", got)
	}
}

func TestSelectionsAreDeterministicUnderFixedSeed(t *testing.T) {
	run := func() []string {
		env := newTestEnv(t)
		resp, err := env.engine.SelectRecommendations(context.Background(), "u1", candidatePool())
		if err != nil {
			t.Fatalf("SelectRecommendations: %v", err)
		}
		ids := make([]string, 0, len(resp.Recommendations))
		for _, rec := range resp.Recommendations {
			ids = append(ids, rec.Outfit.ID)
		}
		return ids
	}

	first := run()
	second := run()
	if len(first) != len(second) {
		t.Fatalf("run lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("slot %d differs across identical runs: %s vs %s", i+1, first[i], second[i])
		}
	}
}

func TestStoreOutageDegradesInsteadOfFailing(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetError(storage.ErrStorageUnavailable)

	resp, err := env.engine.SelectRecommendations(context.Background(), "u1", candidatePool())
	if err != nil {
		t.Fatalf("SelectRecommendations with store down: %v", err)
	}
	if !resp.Degraded {
		t.Error("response not marked degraded with store down")
	}
	if len(resp.Recommendations) != 3 {
		t.Errorf("got %d recommendations, want 3 neutral picks", len(resp.Recommendations))
	}
	for _, rec := range resp.Recommendations {
		if rec.MatchScore != 50 {
			t.Errorf("degraded score = %v, want neutral 50", rec.MatchScore)
		}
	}
}

func TestMalformedTagsDroppedNotFatal(t *testing.T) {
	env := newTestEnv(t)

	pool := []CandidateOutfit{
		{ID: "x1", Colors: []string{"#CC5500", "not-a-color"}, Styles: []string{"minimalist", "bad tag!"}},
		{ID: "x2", Colors: []string{"navy"}, Styles: []string{"classic"}},
	}
	resp, err := env.engine.SelectRecommendations(context.Background(), "u1", pool)
	if err != nil {
		t.Fatalf("SelectRecommendations: %v", err)
	}
	if len(resp.Recommendations) != 2 {
		t.Fatalf("got %d recommendations, want 2", len(resp.Recommendations))
	}
	for _, rec := range resp.Recommendations {
		if rec.Outfit.ID == "x1" {
			if len(rec.Tags.Colors) != 1 || rec.Tags.Colors[0] != "#CC5500" {
				t.Errorf("x1 colors = %v, want only #CC5500", rec.Tags.Colors)
			}
			if len(rec.Tags.Styles) != 1 || rec.Tags.Styles[0] != "minimalist" {
				t.Errorf("x1 styles = %v, want only minimalist", rec.Tags.Styles)
			}
		}
		if rec.Outfit.ID == "x2" && (len(rec.Tags.Colors) != 1 || rec.Tags.Colors[0] != "#000080") {
			t.Errorf("x2 colors = %v, want canonical #000080", rec.Tags.Colors)
		}
	}
}

func TestPresentedOutfitsRecordedAsShown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp, err := env.engine.SelectRecommendations(ctx, "u1", candidatePool())
	if err != nil {
		t.Fatalf("SelectRecommendations: %v", err)
	}
	for _, rec := range resp.Recommendations {
		shown, err := env.shown.WasRecentlyShown(ctx, "u1", antirep.CategoryColorCombo, tags.ComboKey(rec.Tags.Colors))
		if err != nil {
			t.Fatalf("WasRecentlyShown: %v", err)
		}
		if !shown {
			t.Errorf("slot %d outfit %s not recorded as shown", rec.Slot, rec.Outfit.ID)
		}
	}
}
