// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

package services

import (
	"context"
	"time"

	"github.com/stylistry/ensemble/internal/blocklist"
	"github.com/stylistry/ensemble/internal/logging"
	"github.com/stylistry/ensemble/internal/storage"
)

// BlocklistCleanupService periodically compacts expired temporary
// blocklist entries and stale dislike events across all users. The
// entries are already ignored lazily at read time; the sweep only
// bounds physical document growth.
type BlocklistCleanupService struct {
	manager  *blocklist.Manager
	interval time.Duration
}

// NewBlocklistCleanupService creates the sweep with the given interval.
func NewBlocklistCleanupService(manager *blocklist.Manager, interval time.Duration) *BlocklistCleanupService {
	return &BlocklistCleanupService{manager: manager, interval: interval}
}

// Serve implements suture.Service.
func (s *BlocklistCleanupService) Serve(ctx context.Context) error {
	logger := logging.With().Str("component", "blocklist_cleanup").Logger()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			compacted, err := s.manager.CleanupExpired(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("blocklist cleanup sweep failed")
				continue
			}
			if compacted > 0 {
				logger.Debug().Int("documents", compacted).Msg("compacted expired blocklist entries")
			}
		}
	}
}

func (s *BlocklistCleanupService) String() string {
	return "blocklist-cleanup"
}

// BadgerGCService runs periodic value-log garbage collection on the
// badger store.
type BadgerGCService struct {
	store    *storage.BadgerStore
	interval time.Duration
}

// NewBadgerGCService creates the GC loop with the given interval.
func NewBadgerGCService(store *storage.BadgerStore, interval time.Duration) *BadgerGCService {
	return &BadgerGCService{store: store, interval: interval}
}

// Serve implements suture.Service.
func (s *BadgerGCService) Serve(ctx context.Context) error {
	logger := logging.With().Str("component", "badger_gc").Logger()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.store.RunGC(0.5); err != nil {
				logger.Warn().Err(err).Msg("value log gc failed")
			}
		}
	}
}

func (s *BadgerGCService) String() string {
	return "badger-gc"
}
