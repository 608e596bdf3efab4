// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/stylistry/ensemble/internal/logging"
)

// Storage resilience metrics.
var (
	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_store_operations_total",
			Help: "Total store operations by outcome",
		},
		[]string{"operation", "outcome"}, // outcome: success, failure, rejected
	)

	storeBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ensemble_store_breaker_state",
			Help: "Circuit breaker state of the store (0=closed, 1=half-open, 2=open)",
		},
	)
)

// BreakerConfig configures the circuit breaker wrapped around the store.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker.
	FailureThreshold uint32

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// MaxRequests is the number of probe requests allowed half-open.
	MaxRequests uint32
}

// DefaultBreakerConfig returns production breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Timeout:          10 * time.Second,
		MaxRequests:      3,
	}
}

// ResilientStore wraps a Store with a circuit breaker. When the backend
// fails repeatedly the breaker opens and every call returns
// ErrStorageUnavailable immediately, letting callers fall back to
// neutral defaults instead of piling up on a dead disk.
type ResilientStore struct {
	inner Store
	cb    *gobreaker.CircuitBreaker[[]byte]
}

// NewResilientStore wraps inner with a circuit breaker.
func NewResilientStore(inner Store, cfg BreakerConfig) *ResilientStore {
	logger := logging.With().Str("component", "storage").Logger()

	settings := gobreaker.Settings{
		Name:        "store",
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			storeBreakerState.Set(float64(to))
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("store circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			// Missing keys and caller-side cancellations are not
			// backend failures.
			return err == nil ||
				errors.Is(err, ErrKeyNotFound) ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded)
		},
	}

	return &ResilientStore{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker[[]byte](settings),
	}
}

// execute runs op through the breaker and maps breaker rejections to
// ErrStorageUnavailable.
func (s *ResilientStore) execute(operation string, op func() ([]byte, error)) ([]byte, error) {
	out, err := s.cb.Execute(op)
	switch {
	case err == nil:
		storeOperationsTotal.WithLabelValues(operation, "success").Inc()
		return out, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		storeOperationsTotal.WithLabelValues(operation, "rejected").Inc()
		return nil, fmt.Errorf("%s: %w", operation, ErrStorageUnavailable)
	case errors.Is(err, ErrKeyNotFound):
		storeOperationsTotal.WithLabelValues(operation, "success").Inc()
		return nil, err
	default:
		storeOperationsTotal.WithLabelValues(operation, "failure").Inc()
		return nil, err
	}
}

// Get returns the value for key, or ErrKeyNotFound.
func (s *ResilientStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.execute("get", func() ([]byte, error) {
		return s.inner.Get(ctx, key)
	})
}

// Put stores value under key with no expiry.
func (s *ResilientStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.execute("put", func() ([]byte, error) {
		return nil, s.inner.Put(ctx, key, value)
	})
	return err
}

// PutWithTTL stores value under key, expiring after ttl.
func (s *ResilientStore) PutWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.execute("put_ttl", func() ([]byte, error) {
		return nil, s.inner.PutWithTTL(ctx, key, value, ttl)
	})
	return err
}

// Delete removes key.
func (s *ResilientStore) Delete(ctx context.Context, key string) error {
	_, err := s.execute("delete", func() ([]byte, error) {
		return nil, s.inner.Delete(ctx, key)
	})
	return err
}

// Mutate atomically applies fn to the current value of key.
func (s *ResilientStore) Mutate(ctx context.Context, key string, fn MutateFunc) error {
	_, err := s.execute("mutate", func() ([]byte, error) {
		return nil, s.inner.Mutate(ctx, key, fn)
	})
	return err
}

// ScanPrefix invokes fn for every live key with the given prefix.
func (s *ResilientStore) ScanPrefix(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	_, err := s.execute("scan", func() ([]byte, error) {
		return nil, s.inner.ScanPrefix(ctx, prefix, fn)
	})
	return err
}

// Close releases the backend.
func (s *ResilientStore) Close() error {
	return s.inner.Close()
}

// State returns the breaker state for health reporting.
func (s *ResilientStore) State() gobreaker.State {
	return s.cb.State()
}
