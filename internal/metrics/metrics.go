// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

// Package metrics exposes Prometheus instrumentation for the engine:
// selection latency and slot composition, exploration behavior,
// blocklist and anti-repetition activity, and recorder pipeline health.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Selection Metrics
	SelectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ensemble_selection_duration_seconds",
			Help:    "Duration of full three-slot selection in seconds",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	SelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_selections_total",
			Help: "Total selection requests by outcome",
		},
		[]string{"outcome"}, // success, degraded, insufficient_candidates, error
	)

	SlotScoreBand = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_slot_score_band_total",
			Help: "Score band of the outfit assigned to each slot",
		},
		[]string{"slot", "band"}, // slot: 1,2,3; band: safe, adjacent, stretch, other
	)

	CandidatePoolSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ensemble_candidate_pool_size",
			Help:    "Candidate pool size after hard-block and repetition filtering",
			Buckets: []float64{3, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	// Exploration Metrics
	ExplorationSlotsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ensemble_exploration_slots_total",
			Help: "Total slot-3 assignments that were exploration picks",
		},
	)

	PatternLockOverridesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ensemble_pattern_lock_overrides_total",
			Help: "Total one-shot exploration overrides triggered by pattern lock",
		},
	)

	ExplorationRate = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ensemble_exploration_rate_percent",
			Help:    "Effective exploration rate applied per selection",
			Buckets: []float64{5, 10, 15, 20, 25, 30, 40},
		},
	)

	// Blocklist Metrics
	BlocklistExclusionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_blocklist_exclusions_total",
			Help: "Candidates excluded or penalized by blocklist tier",
		},
		[]string{"tier"}, // hard, soft, temporary
	)

	BlocklistPromotionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ensemble_blocklist_promotions_total",
			Help: "Soft blocklist entries promoted to hard after repeated dislikes",
		},
	)

	// Anti-Repetition Metrics
	RepetitionHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_repetition_hits_total",
			Help: "Candidates filtered as recently shown, by category",
		},
		[]string{"category"}, // combo, style, occasion
	)

	RepetitionRelaxationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ensemble_repetition_relaxations_total",
			Help: "Selections where repetition filtering was relaxed to fill slots",
		},
	)

	// Profile Metrics
	ProfileUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_profile_updates_total",
			Help: "Taste profile updates by interaction mode",
		},
		[]string{"mode"}, // like, wear, select, skip, shopping_click
	)

	ColdStartSelectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ensemble_cold_start_selections_total",
			Help: "Selections served with a neutral profile (new user or store fallback)",
		},
	)

	// Recorder Metrics
	InteractionsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_interactions_recorded_total",
			Help: "Interaction events processed by the recorder, by outcome",
		},
		[]string{"outcome"}, // success, retried, poisoned, dropped
	)

	RecorderQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ensemble_recorder_queue_depth",
			Help: "Interaction events buffered awaiting processing",
		},
	)

	// History Metrics
	HistoryEventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ensemble_history_events_dropped_total",
			Help: "Interaction events dropped from the history backlog during sink outages",
		},
	)
)

// ObserveSelection records the latency and outcome of one selection.
func ObserveSelection(start time.Time, outcome string) {
	SelectionDuration.Observe(time.Since(start).Seconds())
	SelectionsTotal.WithLabelValues(outcome).Inc()
}

// ScoreBand buckets a 0-100 match score into the band names used by the
// slot composition metric.
func ScoreBand(score float64) string {
	switch {
	case score >= 90:
		return "safe"
	case score >= 70:
		return "adjacent"
	case score >= 50:
		return "stretch"
	default:
		return "other"
	}
}
