// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

// Package ops serves the HTTP surface: health and readiness probes,
// Prometheus metrics, the selection and interaction endpoints, and
// read-only inspection of a user's learned state.
package ops

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/stylistry/ensemble/internal/config"
	"github.com/stylistry/ensemble/internal/diversify"
	"github.com/stylistry/ensemble/internal/explore"
	"github.com/stylistry/ensemble/internal/logging"
	"github.com/stylistry/ensemble/internal/profile"
	"github.com/stylistry/ensemble/internal/recorder"
	"github.com/stylistry/ensemble/internal/storage"
	"github.com/stylistry/ensemble/internal/tags"
)

// BreakerStater reports the storage circuit breaker state for the
// readiness probe.
type BreakerStater interface {
	State() gobreaker.State
}

// Handler builds the operational router.
type Handler struct {
	engine   *diversify.Engine
	profiles *profile.Store
	explorer *explore.Controller
	recorder *recorder.Recorder
	breaker  BreakerStater
	logger   zerolog.Logger
}

// NewHandler wires the ops endpoints. breaker may be nil when the store
// is not wrapped in a circuit breaker (tests, in-memory runs).
func NewHandler(
	engine *diversify.Engine,
	profiles *profile.Store,
	explorer *explore.Controller,
	rec *recorder.Recorder,
	breaker BreakerStater,
) *Handler {
	return &Handler{
		engine:   engine,
		profiles: profiles,
		explorer: explorer,
		recorder: rec,
		breaker:  breaker,
		logger:   logging.With().Str("component", "ops").Logger(),
	}
}

// Router assembles the chi router for the ops listener.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(10 * time.Second))

	r.Get("/healthz", h.health)
	r.Get("/readyz", h.ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/users/{userID}/recommendations", h.recommendations)
		r.Post("/users/{userID}/interactions", h.interactions)
		r.Get("/users/{userID}/profile", h.userProfile)
		r.Get("/users/{userID}/exploration", h.userExploration)
	})

	return r
}

// NewServer builds the http.Server for the ops listener.
func NewServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Timeout,
		WriteTimeout:      cfg.Timeout,
	}
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ready reports unready while the storage circuit breaker is open,
// so load balancers stop routing before requests start degrading.
func (h *Handler) ready(w http.ResponseWriter, _ *http.Request) {
	if h.breaker != nil && h.breaker.State() == gobreaker.StateOpen {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "storage circuit open",
		})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// recommendations runs one selection over the posted candidate pool.
func (h *Handler) recommendations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req struct {
		Candidates []diversify.CandidateOutfit `json:"candidates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	resp, err := h.engine.SelectRecommendations(r.Context(), userID, req.Candidates)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// interactions accepts one feedback event and queues it for
// asynchronous application.
func (h *Handler) interactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req struct {
		Action   profile.Action  `json:"action"`
		Slot     int             `json:"slot"`
		OutfitID string          `json:"outfit_id"`
		Tags     tags.OutfitTags `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	event := recorder.NewInteraction(userID, req.Action, req.Slot, req.Tags)
	event.OutfitID = req.OutfitID
	if err := h.recorder.RecordInteraction(r.Context(), event); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"event_id": event.EventID})
}

func (h *Handler) userProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	p, err := h.profiles.Get(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

func (h *Handler) userExploration(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	pct, err := h.explorer.Current(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]float64{"exploration_percent": pct})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrInvalidUserID):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn().Err(err).Msg("write response failed")
	}
}
