// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

// Package config defines Ensemble's layered configuration: struct
// defaults, an optional YAML file, and environment variable overrides,
// loaded via koanf. All tunable policy numbers (interaction deltas,
// promotion thresholds, TTL windows, exploration bounds, scorer
// weights) live here rather than being scattered through the engine.
package config

import "time"

// Config is the root configuration for the Ensemble engine and daemon.
type Config struct {
	Server         ServerConfig         `koanf:"server"`
	Storage        StorageConfig        `koanf:"storage"`
	History        HistoryConfig        `koanf:"history"`
	Profile        ProfileConfig        `koanf:"profile"`
	Blocklist      BlocklistConfig      `koanf:"blocklist"`
	AntiRepetition AntiRepetitionConfig `koanf:"anti_repetition"`
	Exploration    ExplorationConfig    `koanf:"exploration"`
	Scoring        ScoringConfig        `koanf:"scoring"`
	Diversifier    DiversifierConfig    `koanf:"diversifier"`
	Recorder       RecorderConfig       `koanf:"recorder"`
	Logging        LoggingConfig        `koanf:"logging"`
}

// ServerConfig configures the HTTP listener: health and metrics plus
// the selection and interaction endpoints.
type ServerConfig struct {
	Enabled bool          `koanf:"enabled"`
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// StorageConfig configures the BadgerDB document store and its
// circuit breaker.
type StorageConfig struct {
	// Path is the badger data directory. Empty runs in-memory.
	Path       string        `koanf:"path"`
	SyncWrites bool          `koanf:"sync_writes"`
	GCInterval time.Duration `koanf:"gc_interval"`

	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`
	BreakerMaxRequests      uint32        `koanf:"breaker_max_requests"`
}

// HistoryConfig configures the best-effort DuckDB interaction history
// sink used for offline analysis. Failures here never affect the
// primary request path.
type HistoryConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Path          string        `koanf:"path"`
	MaxMemory     string        `koanf:"max_memory"`
	FlushInterval time.Duration `koanf:"flush_interval"`
	BufferSize    int           `koanf:"buffer_size"`

	// MaxBacklog caps events held in memory while the sink is failing.
	// Beyond it the oldest events are dropped and counted.
	MaxBacklog int `koanf:"max_backlog"`
}

// ProfileConfig holds the interaction policy table: the weight delta
// each action applies to matching tags, plus update retry behavior.
type ProfileConfig struct {
	LikeDelta          float64 `koanf:"like_delta"`
	WearDelta          float64 `koanf:"wear_delta"`
	SelectDelta        float64 `koanf:"select_delta"`
	IgnoreDelta        float64 `koanf:"ignore_delta"`
	ShoppingClickDelta float64 `koanf:"shopping_click_delta"`

	// ProvenCombinationsCap bounds the FIFO list of worn color combos.
	ProvenCombinationsCap int `koanf:"proven_combinations_cap"`

	// RetryAttempts and RetryBaseDelay bound the backoff used when the
	// store rejects a profile update.
	RetryAttempts  int           `koanf:"retry_attempts"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`

	// CacheSize and CacheTTL bound the in-memory profile read cache.
	// CacheSize 0 disables caching.
	CacheSize int           `koanf:"cache_size"`
	CacheTTL  time.Duration `koanf:"cache_ttl"`
}

// BlocklistConfig configures exclusion penalties and the soft-to-hard
// promotion rule.
type BlocklistConfig struct {
	SoftPenalty      float64 `koanf:"soft_penalty"`
	TemporaryPenalty float64 `koanf:"temporary_penalty"`

	// PromotionThreshold dislikes within PromotionWindow promote a soft
	// entry to hard.
	PromotionThreshold int           `koanf:"promotion_threshold"`
	PromotionWindow    time.Duration `koanf:"promotion_window"`

	// DefaultTemporaryDuration applies when addTemporary is called
	// without an explicit duration.
	DefaultTemporaryDuration time.Duration `koanf:"default_temporary_duration"`

	// CleanupInterval bounds physical growth of lazily-expired entries.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// AntiRepetitionConfig configures the recently-shown windows per
// category and the near-duplicate overlap threshold.
type AntiRepetitionConfig struct {
	ColorComboTTL time.Duration `koanf:"color_combo_ttl"`
	StyleTTL      time.Duration `koanf:"style_ttl"`
	OccasionTTL   time.Duration `koanf:"occasion_ttl"`

	// ComboOverlapThreshold is the Jaccard similarity at or above which
	// two color combos count as the same.
	ComboOverlapThreshold float64 `koanf:"combo_overlap_threshold"`
}

// ExplorationConfig configures the adaptive exploration controller.
type ExplorationConfig struct {
	MinPercent     float64 `koanf:"min_percent"`
	MaxPercent     float64 `koanf:"max_percent"`
	InitialPercent float64 `koanf:"initial_percent"`

	// Slot-3 feedback adjustments.
	LikeDelta    float64 `koanf:"like_delta"`
	DislikeDelta float64 `koanf:"dislike_delta"`
	SkipDelta    float64 `koanf:"skip_delta"`

	// Pattern-lock concentration thresholds (top-2 share of total
	// weight) and the one-shot override percentage applied while locked.
	PatternLockColorShare float64 `koanf:"pattern_lock_color_share"`
	PatternLockStyleShare float64 `koanf:"pattern_lock_style_share"`
	PatternLockOverride   float64 `koanf:"pattern_lock_override"`

	// PatternLockMinTags is the number of distinct weighted tags a
	// dimension needs before top-2 concentration is meaningful. A
	// profile with fewer tags is trivially concentrated, not locked.
	PatternLockMinTags int `koanf:"pattern_lock_min_tags"`
}

// ScoringConfig configures the 0-100 match scorer.
type ScoringConfig struct {
	ColorWeight    float64 `koanf:"color_weight"`
	StyleWeight    float64 `koanf:"style_weight"`
	OccasionWeight float64 `koanf:"occasion_weight"`
	SeasonalWeight float64 `koanf:"seasonal_weight"`

	// Smoothing is the unknown-tag constant added to the matched weight
	// denominator in normalizedOverlap.
	Smoothing float64 `koanf:"smoothing"`

	// NeutralBaseline is the dimension score used when the profile has
	// no weight data at all (cold start).
	NeutralBaseline float64 `koanf:"neutral_baseline"`
}

// DiversifierConfig configures slot assignment and request budget.
type DiversifierConfig struct {
	// RequestTimeout bounds one full selection; on expiry the engine
	// degrades to unpersonalized output instead of failing.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// Score bands for slot targeting.
	SafeBandMin     float64 `koanf:"safe_band_min"`
	AdjacentBandMin float64 `koanf:"adjacent_band_min"`
	StretchBandMin  float64 `koanf:"stretch_band_min"`

	// Seed fixes the exploration RNG for reproducible runs. 0 seeds
	// from entropy.
	Seed int64 `koanf:"seed"`
}

// RecorderConfig configures the asynchronous interaction pipeline.
type RecorderConfig struct {
	BufferSize           int           `koanf:"buffer_size"`
	RetryCount           int           `koanf:"retry_count"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	PoisonQueueTopic     string        `koanf:"poison_queue_topic"`
	CloseTimeout         time.Duration `koanf:"close_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
