// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

// Command ensemble runs the personalization daemon: the badger-backed
// learning stores, the asynchronous interaction pipeline, the DuckDB
// history sink, and the operational HTTP listener, all under one
// supervisor tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stylistry/ensemble/internal/antirep"
	"github.com/stylistry/ensemble/internal/blocklist"
	"github.com/stylistry/ensemble/internal/config"
	"github.com/stylistry/ensemble/internal/diversify"
	"github.com/stylistry/ensemble/internal/explore"
	"github.com/stylistry/ensemble/internal/history"
	"github.com/stylistry/ensemble/internal/logging"
	"github.com/stylistry/ensemble/internal/ops"
	"github.com/stylistry/ensemble/internal/profile"
	"github.com/stylistry/ensemble/internal/recorder"
	"github.com/stylistry/ensemble/internal/scoring"
	"github.com/stylistry/ensemble/internal/storage"
	"github.com/stylistry/ensemble/internal/supervisor"
	"github.com/stylistry/ensemble/internal/supervisor/services"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("ensemble failed")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("storage_path", cfg.Storage.Path).Msg("starting ensemble")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage: badger behind the circuit breaker.
	badgerStore, err := storage.OpenBadger(storage.BadgerOptions{
		Dir:        cfg.Storage.Path,
		SyncWrites: cfg.Storage.SyncWrites,
	})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer closeWithLog(badgerStore.Close, "storage")

	store := storage.NewResilientStore(badgerStore, storage.BreakerConfig{
		FailureThreshold: cfg.Storage.BreakerFailureThreshold,
		Timeout:          cfg.Storage.BreakerTimeout,
		MaxRequests:      cfg.Storage.BreakerMaxRequests,
	})

	// Learning stores and the selection engine.
	profiles := profile.NewStore(store, cfg.Profile)
	blocklists := blocklist.NewManager(store, cfg.Blocklist)
	shown := antirep.NewCache(store, cfg.AntiRepetition)
	explorer := explore.NewController(store, cfg.Exploration)
	scorer := scoring.NewScorer(cfg.Scoring)

	engine := diversify.NewEngine(profiles, blocklists, shown, explorer, scorer, cfg.Diversifier)

	// Optional DuckDB history sink.
	var sink recorder.HistorySink
	var hist *history.DuckDBHistory
	if cfg.History.Enabled {
		hist, err = history.Open(ctx, cfg.History)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer closeWithLog(hist.Close, "history")
		sink = hist
	}

	// Interaction pipeline.
	rec, err := recorder.New(cfg.Recorder, profiles, blocklists, explorer, sink)
	if err != nil {
		return fmt.Errorf("create recorder: %w", err)
	}
	defer closeWithLog(rec.Close, "recorder")

	// Supervisor tree.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddLearningService(rec)
	tree.AddMaintenanceService(services.NewBlocklistCleanupService(blocklists, cfg.Blocklist.CleanupInterval))
	tree.AddMaintenanceService(services.NewBadgerGCService(badgerStore, cfg.Storage.GCInterval))
	if hist != nil {
		tree.AddMaintenanceService(hist)
	}

	if cfg.Server.Enabled {
		handler := ops.NewHandler(engine, profiles, explorer, rec, store)
		server := ops.NewServer(cfg.Server, handler.Router())
		tree.AddOpsService(services.NewHTTPServerService(server, 10*time.Second))
		logging.Info().Str("addr", server.Addr).Msg("ops listener enabled")
	}

	// Signals cancel the root context; the tree drains from there.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	// Drain until the supervisor closes the channel.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("service failed to stop within timeout")
	}

	logging.Info().Msg("ensemble stopped")
	return nil
}

func closeWithLog(close func() error, name string) {
	if err := close(); err != nil {
		logging.Warn().Err(err).Str("component", name).Msg("close failed")
	}
}
