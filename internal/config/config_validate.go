// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

package config

import (
	"fmt"
	"math"
)

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateProfile(); err != nil {
		return err
	}
	if err := c.validateBlocklist(); err != nil {
		return err
	}
	if err := c.validateAntiRepetition(); err != nil {
		return err
	}
	if err := c.validateExploration(); err != nil {
		return err
	}
	if err := c.validateScoring(); err != nil {
		return err
	}
	if err := c.validateDiversifier(); err != nil {
		return err
	}
	if err := c.validateRecorder(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if !c.Server.Enabled {
		return nil
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1,65535], got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %v", c.Server.Timeout)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.GCInterval <= 0 {
		return fmt.Errorf("storage.gc_interval must be positive, got %v", c.Storage.GCInterval)
	}
	if c.Storage.BreakerFailureThreshold == 0 {
		return fmt.Errorf("storage.breaker_failure_threshold must be at least 1")
	}
	if c.Storage.BreakerTimeout <= 0 {
		return fmt.Errorf("storage.breaker_timeout must be positive, got %v", c.Storage.BreakerTimeout)
	}
	return nil
}

func (c *Config) validateProfile() error {
	if c.Profile.ProvenCombinationsCap < 1 {
		return fmt.Errorf("profile.proven_combinations_cap must be at least 1, got %d", c.Profile.ProvenCombinationsCap)
	}
	if c.Profile.RetryAttempts < 0 {
		return fmt.Errorf("profile.retry_attempts must not be negative, got %d", c.Profile.RetryAttempts)
	}
	if c.Profile.RetryBaseDelay < 0 {
		return fmt.Errorf("profile.retry_base_delay must not be negative, got %v", c.Profile.RetryBaseDelay)
	}
	// Positive-signal deltas must actually be positive or the learning
	// loop inverts.
	if c.Profile.LikeDelta <= 0 || c.Profile.WearDelta <= 0 || c.Profile.SelectDelta <= 0 {
		return fmt.Errorf("profile like/wear/select deltas must be positive")
	}
	if c.Profile.CacheSize < 0 {
		return fmt.Errorf("profile.cache_size must not be negative, got %d", c.Profile.CacheSize)
	}
	if c.Profile.CacheSize > 0 && c.Profile.CacheTTL <= 0 {
		return fmt.Errorf("profile.cache_ttl must be positive when caching is enabled, got %v", c.Profile.CacheTTL)
	}
	return nil
}

func (c *Config) validateBlocklist() error {
	if c.Blocklist.SoftPenalty < 0 || c.Blocklist.TemporaryPenalty < 0 {
		return fmt.Errorf("blocklist penalties must not be negative")
	}
	if c.Blocklist.PromotionThreshold < 1 {
		return fmt.Errorf("blocklist.promotion_threshold must be at least 1, got %d", c.Blocklist.PromotionThreshold)
	}
	if c.Blocklist.PromotionWindow <= 0 {
		return fmt.Errorf("blocklist.promotion_window must be positive, got %v", c.Blocklist.PromotionWindow)
	}
	if c.Blocklist.DefaultTemporaryDuration <= 0 {
		return fmt.Errorf("blocklist.default_temporary_duration must be positive, got %v", c.Blocklist.DefaultTemporaryDuration)
	}
	return nil
}

func (c *Config) validateAntiRepetition() error {
	if c.AntiRepetition.ColorComboTTL <= 0 || c.AntiRepetition.StyleTTL <= 0 || c.AntiRepetition.OccasionTTL <= 0 {
		return fmt.Errorf("anti_repetition TTLs must be positive")
	}
	if c.AntiRepetition.ComboOverlapThreshold <= 0 || c.AntiRepetition.ComboOverlapThreshold > 1 {
		return fmt.Errorf("anti_repetition.combo_overlap_threshold must be in (0,1], got %v", c.AntiRepetition.ComboOverlapThreshold)
	}
	return nil
}

func (c *Config) validateExploration() error {
	e := c.Exploration
	if e.MinPercent < 0 || e.MaxPercent > 100 || e.MinPercent >= e.MaxPercent {
		return fmt.Errorf("exploration bounds must satisfy 0 <= min < max <= 100, got [%v,%v]", e.MinPercent, e.MaxPercent)
	}
	if e.InitialPercent < e.MinPercent || e.InitialPercent > e.MaxPercent {
		return fmt.Errorf("exploration.initial_percent %v outside [%v,%v]", e.InitialPercent, e.MinPercent, e.MaxPercent)
	}
	if e.PatternLockColorShare <= 0 || e.PatternLockColorShare > 1 {
		return fmt.Errorf("exploration.pattern_lock_color_share must be in (0,1], got %v", e.PatternLockColorShare)
	}
	if e.PatternLockStyleShare <= 0 || e.PatternLockStyleShare > 1 {
		return fmt.Errorf("exploration.pattern_lock_style_share must be in (0,1], got %v", e.PatternLockStyleShare)
	}
	if e.PatternLockOverride < 0 || e.PatternLockOverride > 100 {
		return fmt.Errorf("exploration.pattern_lock_override must be in [0,100], got %v", e.PatternLockOverride)
	}
	if e.PatternLockMinTags < 1 {
		return fmt.Errorf("exploration.pattern_lock_min_tags must be at least 1, got %d", e.PatternLockMinTags)
	}
	return nil
}

func (c *Config) validateScoring() error {
	s := c.Scoring
	sum := s.ColorWeight + s.StyleWeight + s.OccasionWeight + s.SeasonalWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("scoring dimension weights must sum to 1.0, got %v", sum)
	}
	if s.Smoothing <= 0 {
		return fmt.Errorf("scoring.smoothing must be positive, got %v", s.Smoothing)
	}
	if s.NeutralBaseline < 0 || s.NeutralBaseline > 100 {
		return fmt.Errorf("scoring.neutral_baseline must be in [0,100], got %v", s.NeutralBaseline)
	}
	return nil
}

func (c *Config) validateDiversifier() error {
	d := c.Diversifier
	if d.RequestTimeout <= 0 {
		return fmt.Errorf("diversifier.request_timeout must be positive, got %v", d.RequestTimeout)
	}
	if !(d.StretchBandMin < d.AdjacentBandMin && d.AdjacentBandMin < d.SafeBandMin) {
		return fmt.Errorf("diversifier bands must satisfy stretch < adjacent < safe, got %v/%v/%v",
			d.StretchBandMin, d.AdjacentBandMin, d.SafeBandMin)
	}
	if d.SafeBandMin > 100 || d.StretchBandMin < 0 {
		return fmt.Errorf("diversifier bands must lie within [0,100]")
	}
	return nil
}

func (c *Config) validateRecorder() error {
	if c.Recorder.BufferSize < 1 {
		return fmt.Errorf("recorder.buffer_size must be at least 1, got %d", c.Recorder.BufferSize)
	}
	if c.Recorder.RetryCount < 0 {
		return fmt.Errorf("recorder.retry_count must not be negative, got %d", c.Recorder.RetryCount)
	}
	if c.Recorder.PoisonQueueTopic == "" {
		return fmt.Errorf("recorder.poison_queue_topic must not be empty")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q must be json or console", c.Logging.Format)
	}
	return nil
}
