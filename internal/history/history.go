// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

// Package history persists every applied interaction to DuckDB for
// offline analysis of taste drift and recommendation quality. The sink
// is strictly best effort: it buffers in memory, flushes in batches,
// and its failures never propagate into the interaction pipeline.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/stylistry/ensemble/internal/config"
	"github.com/stylistry/ensemble/internal/logging"
	"github.com/stylistry/ensemble/internal/metrics"
	"github.com/stylistry/ensemble/internal/profile"
	"github.com/stylistry/ensemble/internal/recorder"
)

// DuckDBHistory is a buffered DuckDB sink for interaction events.
type DuckDBHistory struct {
	db     *sql.DB
	cfg    config.HistoryConfig
	logger zerolog.Logger

	mu     sync.Mutex
	buffer []recorder.Interaction
}

// Open connects to DuckDB and ensures the schema exists. An empty path
// opens an in-memory database.
func Open(ctx context.Context, cfg config.HistoryConfig) (*DuckDBHistory, error) {
	connStr := cfg.Path
	if connStr != "" && cfg.MaxMemory != "" {
		connStr = fmt.Sprintf("%s?max_memory=%s", cfg.Path, cfg.MaxMemory)
	}

	if cfg.MaxBacklog < cfg.BufferSize {
		cfg.MaxBacklog = cfg.BufferSize
	}

	db, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	h := &DuckDBHistory{
		db:     db,
		cfg:    cfg,
		logger: logging.With().Str("component", "history").Logger(),
		buffer: make([]recorder.Interaction, 0, cfg.BufferSize),
	}
	if err := h.createTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return h, nil
}

func (h *DuckDBHistory) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS interaction_events (
			event_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			outfit_id TEXT,
			action TEXT NOT NULL,
			slot INTEGER NOT NULL,
			colors JSON,
			styles JSON,
			occasion TEXT,
			season TEXT,
			occurred_at TIMESTAMPTZ NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_interactions_user ON interaction_events(user_id);
		CREATE INDEX IF NOT EXISTS idx_interactions_action ON interaction_events(action);
		CREATE INDEX IF NOT EXISTS idx_interactions_occurred ON interaction_events(occurred_at DESC);
	`

	for _, stmt := range strings.Split(query, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := h.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create history schema: %w", err)
		}
	}
	return nil
}

// Append buffers one event, flushing when the buffer fills. Implements
// recorder.HistorySink.
func (h *DuckDBHistory) Append(ctx context.Context, event recorder.Interaction) error {
	h.mu.Lock()
	h.buffer = append(h.buffer, event)
	full := len(h.buffer) >= h.cfg.BufferSize
	h.mu.Unlock()

	if full {
		return h.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered events in one transaction. Events stay
// buffered if the write fails, up to the backlog cap; past it the
// oldest events are dropped so a long sink outage cannot grow memory
// without bound.
func (h *DuckDBHistory) Flush(ctx context.Context) error {
	h.mu.Lock()
	pending := h.buffer
	h.buffer = make([]recorder.Interaction, 0, h.cfg.BufferSize)
	h.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	err := h.insertBatch(ctx, pending)
	if err != nil {
		h.mu.Lock()
		h.buffer = append(pending, h.buffer...)
		if excess := len(h.buffer) - h.cfg.MaxBacklog; excess > 0 {
			h.buffer = h.buffer[excess:]
			metrics.HistoryEventsDroppedTotal.Add(float64(excess))
			h.logger.Warn().Int("dropped", excess).
				Msg("history backlog full, dropping oldest events")
		}
		h.mu.Unlock()
		return fmt.Errorf("flush %d interaction events: %w", len(pending), err)
	}

	h.logger.Debug().Int("events", len(pending)).Msg("flushed interaction history")
	return nil
}

func (h *DuckDBHistory) insertBatch(ctx context.Context, events []recorder.Interaction) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO interaction_events
			(event_id, user_id, outfit_id, action, slot, colors, styles, occasion, season, occurred_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.EventID,
			e.UserID,
			e.OutfitID,
			string(e.Action),
			e.Slot,
			marshalTags(e.Tags.Colors),
			marshalTags(e.Tags.Styles),
			e.Tags.Occasion,
			e.Tags.Season,
			e.OccurredAt,
			now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// marshalTags renders a tag list as a JSON array string for the JSON
// columns.
func marshalTags(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	if data, err := json.Marshal(values); err == nil {
		return string(data)
	}
	return "[]"
}

// CountByAction returns per-action event counts, for operational
// inspection of learning volume.
func (h *DuckDBHistory) CountByAction(ctx context.Context) (map[string]int64, error) {
	rows, err := h.db.QueryContext(ctx,
		"SELECT action, COUNT(*) FROM interaction_events GROUP BY action")
	if err != nil {
		return nil, fmt.Errorf("count interactions by action: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]int64)
	for rows.Next() {
		var action string
		var count int64
		if err := rows.Scan(&action, &count); err != nil {
			return nil, err
		}
		result[action] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action counts: %w", err)
	}
	return result, nil
}

// RecentForUser returns the user's most recent events, newest first.
func (h *DuckDBHistory) RecentForUser(ctx context.Context, userID string, limit int) ([]recorder.Interaction, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT event_id, user_id, outfit_id, action, slot, colors, styles, occasion, season, occurred_at
		FROM interaction_events
		WHERE user_id = ?
		ORDER BY occurred_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query user history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []recorder.Interaction
	for rows.Next() {
		var e recorder.Interaction
		var action, colors, styles string
		if err := rows.Scan(&e.EventID, &e.UserID, &e.OutfitID, &action, &e.Slot,
			&colors, &styles, &e.Tags.Occasion, &e.Tags.Season, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Action = profile.Action(action)
		_ = json.Unmarshal([]byte(colors), &e.Tags.Colors)
		_ = json.Unmarshal([]byte(styles), &e.Tags.Styles)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user history: %w", err)
	}
	return events, nil
}

// Serve flushes the buffer on the configured interval until ctx is
// canceled, then flushes once more. Satisfies the supervisor's service
// contract.
func (h *DuckDBHistory) Serve(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.Flush(flushCtx); err != nil {
				h.logger.Warn().Err(err).Msg("final history flush failed")
			}
			return ctx.Err()
		case <-ticker.C:
			if err := h.Flush(ctx); err != nil {
				h.logger.Warn().Err(err).Msg("periodic history flush failed")
			}
		}
	}
}

// Close flushes remaining events and closes the database.
func (h *DuckDBHistory) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Flush(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("flush on close failed")
	}
	return h.db.Close()
}

func (h *DuckDBHistory) String() string {
	return "history"
}
