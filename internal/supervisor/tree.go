// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

// Package supervisor builds the suture tree that keeps Ensemble's
// long-running services alive: the interaction pipeline, storage
// maintenance sweeps, the history flusher, and the operational HTTP
// listener. Layers isolate failures so a crashing maintenance sweep
// never takes down the learning pipeline.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	FailureDecay float64

	// FailureBackoff is the duration to wait when threshold is exceeded.
	FailureBackoff time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns suture's documented production defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree manages Ensemble's supervisor hierarchy.
//
// Three layers:
//   - learning: the interaction pipeline (recorder router)
//   - maintenance: blocklist cleanup, badger GC, history flusher
//   - ops: the health/metrics HTTP listener
type Tree struct {
	root        *suture.Supervisor
	learning    *suture.Supervisor
	maintenance *suture.Supervisor
	ops         *suture.Supervisor
	logger      *slog.Logger
	config      TreeConfig
}

// NewTree creates the supervisor tree.
func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	// sutureslog's Handler has a pointer-receiver MustHook.
	handler := &sutureslog.Handler{Logger: logger}
	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("ensemble", rootSpec)
	learning := suture.New("learning-layer", childSpec)
	maintenance := suture.New("maintenance-layer", childSpec)
	ops := suture.New("ops-layer", childSpec)

	root.Add(learning)
	root.Add(maintenance)
	root.Add(ops)

	return &Tree{
		root:        root,
		learning:    learning,
		maintenance: maintenance,
		ops:         ops,
		logger:      logger,
		config:      config,
	}
}

// AddLearningService adds a service to the learning layer. Use this for
// the interaction pipeline.
func (t *Tree) AddLearningService(svc suture.Service) suture.ServiceToken {
	return t.learning.Add(svc)
}

// AddMaintenanceService adds a service to the maintenance layer. Use
// this for cleanup sweeps, storage GC, and the history flusher.
func (t *Tree) AddMaintenanceService(svc suture.Service) suture.ServiceToken {
	return t.maintenance.Add(svc)
}

// AddOpsService adds a service to the ops layer. Use this for the
// health/metrics HTTP listener.
func (t *Tree) AddOpsService(svc suture.Service) suture.ServiceToken {
	return t.ops.Add(svc)
}

// Serve starts the tree and blocks until ctx is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the tree in a goroutine and returns the
// terminal error channel.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown
// timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
