// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

// Package storage provides the keyed document store backing all engine
// state: taste profiles, blocklists, anti-repetition entries, and
// exploration state.
//
// The production backend is BadgerDB. All user-level invariants that
// need atomicity (profile weight increments, blocklist promotion
// counters) go through Mutate, which executes a read-modify-write as a
// single serializable transaction and retries on conflict. A
// mutex-guarded in-memory implementation is provided for tests.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Storage errors.
var (
	// ErrKeyNotFound indicates the requested key does not exist or has expired.
	ErrKeyNotFound = errors.New("storage: key not found")

	// ErrStorageUnavailable indicates the backend rejected the operation,
	// either directly or through an open circuit breaker. Read paths treat
	// this as a signal to fall back to neutral defaults.
	ErrStorageUnavailable = errors.New("storage: unavailable")

	// ErrInvalidUserID indicates a user identifier that cannot be used as
	// a key component.
	ErrInvalidUserID = errors.New("storage: invalid user ID")

	// ErrAbortMutation signals from a MutateFunc that no write should
	// happen. Mutate swallows it and returns nil.
	ErrAbortMutation = errors.New("storage: mutation aborted")
)

// maxUserIDLen bounds user IDs to keep store keys small.
const maxUserIDLen = 128

// MutateFunc transforms the current value of a key. current is nil when
// the key does not exist. Returning a nil value deletes the key.
// Returning ErrAbortMutation leaves the key untouched without error.
type MutateFunc func(current []byte) ([]byte, error)

// Store is the keyed document store used by all engine components.
// Keys are namespaced strings ("profile:<userID>", "blocklist:<userID>",
// "antirep:<userID>:<category>:<hash>"). Values are opaque bytes,
// typically JSON documents.
type Store interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key with no expiry.
	Put(ctx context.Context, key string, value []byte) error

	// PutWithTTL stores value under key, expiring after ttl.
	PutWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Mutate atomically applies fn to the current value of key as a
	// serializable read-modify-write. Concurrent mutations of the same
	// key are retried, never lost.
	Mutate(ctx context.Context, key string, fn MutateFunc) error

	// ScanPrefix invokes fn for every live key with the given prefix.
	// Returning an error from fn stops the scan.
	ScanPrefix(ctx context.Context, prefix string, fn func(key string, value []byte) error) error

	// Close releases the backend.
	Close() error
}

// ValidateUserID checks that a user identifier is usable as a key
// component: non-empty, bounded length, and free of the ':' namespace
// delimiter and control characters.
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("empty: %w", ErrInvalidUserID)
	}
	if len(userID) > maxUserIDLen {
		return fmt.Errorf("user ID exceeds %d bytes: %w", maxUserIDLen, ErrInvalidUserID)
	}
	for i := 0; i < len(userID); i++ {
		c := userID[i]
		if c == ':' || c < 0x20 || c == 0x7f {
			return fmt.Errorf("user ID contains reserved character: %w", ErrInvalidUserID)
		}
	}
	return nil
}

// GetJSON loads and unmarshals the document at key into out.
func GetJSON(ctx context.Context, s Store, key string, out interface{}) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// PutJSON marshals v and stores it at key.
func PutJSON(ctx context.Context, s Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}
