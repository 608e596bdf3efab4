// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/ensemble/config.yaml",
	"/etc/ensemble/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "ENSEMBLE_CONFIG_PATH"

// Default returns a Config with production defaults. The policy numbers
// here are the canonical values; file and environment layers override
// them for tuning without a rebuild.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8710,
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Path:                    "/data/ensemble",
			SyncWrites:              false,
			GCInterval:              10 * time.Minute,
			BreakerFailureThreshold: 5,
			BreakerTimeout:          10 * time.Second,
			BreakerMaxRequests:      3,
		},
		History: HistoryConfig{
			Enabled:       false, // opt-in analytics sink
			Path:          "/data/ensemble-history.duckdb",
			MaxMemory:     "512MB",
			FlushInterval: 5 * time.Second,
			BufferSize:    1000,
			MaxBacklog:    10000,
		},
		Profile: ProfileConfig{
			LikeDelta:             2.0,
			WearDelta:             5.0,
			SelectDelta:           1.0,
			IgnoreDelta:           -0.5,
			ShoppingClickDelta:    1.0,
			ProvenCombinationsCap: 10,
			RetryAttempts:         3,
			RetryBaseDelay:        100 * time.Millisecond,
			CacheSize:             10000,
			CacheTTL:              30 * time.Second,
		},
		Blocklist: BlocklistConfig{
			SoftPenalty:              20.0,
			TemporaryPenalty:         10.0,
			PromotionThreshold:       3,
			PromotionWindow:          30 * 24 * time.Hour,
			DefaultTemporaryDuration: 7 * 24 * time.Hour,
			CleanupInterval:          6 * time.Hour,
		},
		AntiRepetition: AntiRepetitionConfig{
			ColorComboTTL:         30 * 24 * time.Hour,
			StyleTTL:              15 * 24 * time.Hour,
			OccasionTTL:           7 * 24 * time.Hour,
			ComboOverlapThreshold: 0.70,
		},
		Exploration: ExplorationConfig{
			MinPercent:            5,
			MaxPercent:            25,
			InitialPercent:        10,
			LikeDelta:             -2,
			DislikeDelta:          3,
			SkipDelta:             1,
			PatternLockColorShare: 0.85,
			PatternLockStyleShare: 0.80,
			PatternLockOverride:   40,
			PatternLockMinTags:    3,
		},
		Scoring: ScoringConfig{
			ColorWeight:     0.35,
			StyleWeight:     0.30,
			OccasionWeight:  0.20,
			SeasonalWeight:  0.15,
			Smoothing:       10.0,
			NeutralBaseline: 50.0,
		},
		Diversifier: DiversifierConfig{
			RequestTimeout:  250 * time.Millisecond,
			SafeBandMin:     90,
			AdjacentBandMin: 70,
			StretchBandMin:  50,
			Seed:            0,
		},
		Recorder: RecorderConfig{
			BufferSize:           1024,
			RetryCount:           3,
			RetryInitialInterval: 100 * time.Millisecond,
			PoisonQueueTopic:     "interaction.poison",
			CloseTimeout:         30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from layered sources:
//  1. Defaults: built-in policy values
//  2. Config file: optional YAML (ENSEMBLE_CONFIG_PATH or default paths)
//  3. Environment variables: highest priority
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file, environment override first.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf config
// paths. Unmapped variables are skipped so random environment noise
// never pollutes configuration.
//
// Examples:
//   - ENSEMBLE_STORAGE_PATH -> storage.path
//   - ENSEMBLE_EXPLORATION_MAX_PERCENT -> exploration.max_percent
//   - LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server mappings
		"ensemble_server_enabled": "server.enabled",
		"ensemble_server_host":    "server.host",
		"ensemble_server_port":    "server.port",
		"ensemble_server_timeout": "server.timeout",

		// Storage mappings
		"ensemble_storage_path":              "storage.path",
		"ensemble_storage_sync_writes":       "storage.sync_writes",
		"ensemble_storage_gc_interval":       "storage.gc_interval",
		"ensemble_breaker_failure_threshold": "storage.breaker_failure_threshold",
		"ensemble_breaker_timeout":           "storage.breaker_timeout",
		"ensemble_breaker_max_requests":      "storage.breaker_max_requests",

		// History mappings
		"ensemble_history_enabled":        "history.enabled",
		"ensemble_history_path":           "history.path",
		"ensemble_history_max_memory":     "history.max_memory",
		"ensemble_history_flush_interval": "history.flush_interval",
		"ensemble_history_buffer_size":    "history.buffer_size",
		"ensemble_history_max_backlog":    "history.max_backlog",

		// Profile policy mappings
		"ensemble_profile_like_delta":           "profile.like_delta",
		"ensemble_profile_wear_delta":           "profile.wear_delta",
		"ensemble_profile_select_delta":         "profile.select_delta",
		"ensemble_profile_ignore_delta":         "profile.ignore_delta",
		"ensemble_profile_shopping_click_delta": "profile.shopping_click_delta",
		"ensemble_profile_proven_cap":           "profile.proven_combinations_cap",
		"ensemble_profile_retry_attempts":       "profile.retry_attempts",
		"ensemble_profile_retry_base_delay":     "profile.retry_base_delay",
		"ensemble_profile_cache_size":           "profile.cache_size",
		"ensemble_profile_cache_ttl":            "profile.cache_ttl",

		// Blocklist policy mappings
		"ensemble_blocklist_soft_penalty":        "blocklist.soft_penalty",
		"ensemble_blocklist_temporary_penalty":   "blocklist.temporary_penalty",
		"ensemble_blocklist_promotion_threshold": "blocklist.promotion_threshold",
		"ensemble_blocklist_promotion_window":    "blocklist.promotion_window",
		"ensemble_blocklist_temp_duration":       "blocklist.default_temporary_duration",
		"ensemble_blocklist_cleanup_interval":    "blocklist.cleanup_interval",

		// Anti-repetition mappings
		"ensemble_antirep_color_combo_ttl": "anti_repetition.color_combo_ttl",
		"ensemble_antirep_style_ttl":       "anti_repetition.style_ttl",
		"ensemble_antirep_occasion_ttl":    "anti_repetition.occasion_ttl",
		"ensemble_antirep_overlap":         "anti_repetition.combo_overlap_threshold",

		// Exploration mappings
		"ensemble_exploration_min_percent":     "exploration.min_percent",
		"ensemble_exploration_max_percent":     "exploration.max_percent",
		"ensemble_exploration_initial_percent": "exploration.initial_percent",
		"ensemble_exploration_like_delta":      "exploration.like_delta",
		"ensemble_exploration_dislike_delta":   "exploration.dislike_delta",
		"ensemble_exploration_skip_delta":      "exploration.skip_delta",
		"ensemble_pattern_lock_color_share":    "exploration.pattern_lock_color_share",
		"ensemble_pattern_lock_style_share":    "exploration.pattern_lock_style_share",
		"ensemble_pattern_lock_override":       "exploration.pattern_lock_override",
		"ensemble_pattern_lock_min_tags":       "exploration.pattern_lock_min_tags",

		// Scoring mappings
		"ensemble_scoring_color_weight":    "scoring.color_weight",
		"ensemble_scoring_style_weight":    "scoring.style_weight",
		"ensemble_scoring_occasion_weight": "scoring.occasion_weight",
		"ensemble_scoring_seasonal_weight": "scoring.seasonal_weight",
		"ensemble_scoring_smoothing":       "scoring.smoothing",
		"ensemble_scoring_baseline":        "scoring.neutral_baseline",

		// Diversifier mappings
		"ensemble_request_timeout":   "diversifier.request_timeout",
		"ensemble_safe_band_min":     "diversifier.safe_band_min",
		"ensemble_adjacent_band_min": "diversifier.adjacent_band_min",
		"ensemble_stretch_band_min":  "diversifier.stretch_band_min",
		"ensemble_diversifier_seed":  "diversifier.seed",

		// Recorder mappings
		"ensemble_recorder_buffer_size":    "recorder.buffer_size",
		"ensemble_recorder_retry_count":    "recorder.retry_count",
		"ensemble_recorder_retry_interval": "recorder.retry_initial_interval",
		"ensemble_recorder_poison_topic":   "recorder.poison_queue_topic",
		"ensemble_recorder_close_timeout":  "recorder.close_timeout",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// For unmapped keys, return empty string to skip them.
	return ""
}
