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

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/stylistry/ensemble/internal/logging"
)

// mutateMaxRetries bounds optimistic-concurrency retries on conflicting
// transactions before the mutation is surfaced as unavailable.
const mutateMaxRetries = 5

// BadgerStore implements Store on BadgerDB. Expiring entries use
// badger's native TTL, so anti-repetition keys vanish without a
// sweeper; a periodic value-log GC routine keeps disk usage bounded.
type BadgerStore struct {
	db     *badger.DB
	logger zerolog.Logger
}

// BadgerOptions configures the on-disk store.
type BadgerOptions struct {
	// Dir is the data directory. Empty means in-memory (tests only).
	Dir string

	// SyncWrites forces fsync on every commit. Off by default; the
	// engine tolerates losing the last few interactions on crash.
	SyncWrites bool
}

// OpenBadger opens or creates a BadgerDB-backed store.
func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	logger := logging.With().Str("component", "storage").Logger()

	bopts := badger.DefaultOptions(opts.Dir).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(badgerLogger{logger})
	if opts.Dir == "" {
		bopts = bopts.WithInMemory(true)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", opts.Dir, err)
	}

	return &BadgerStore{db: db, logger: logger}, nil
}

// NewBadgerStore wraps an already-open badger database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{
		db:     db,
		logger: logging.With().Str("component", "storage").Logger(),
	}
}

// Get returns the value for key, or ErrKeyNotFound.
func (s *BadgerStore) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrKeyNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put stores value under key with no expiry.
func (s *BadgerStore) Put(_ context.Context, key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// PutWithTTL stores value under key, expiring after ttl.
func (s *BadgerStore) PutWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *BadgerStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		return nil
	})
}

// Mutate atomically applies fn to the current value of key. Badger
// transactions are serializable; a concurrent commit on the same key
// surfaces as ErrConflict, in which case the read-modify-write is
// re-run against the fresh value.
func (s *BadgerStore) Mutate(ctx context.Context, key string, fn MutateFunc) error {
	var lastErr error
	for attempt := 0; attempt <= mutateMaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.db.Update(func(txn *badger.Txn) error {
			var current []byte
			item, err := txn.Get([]byte(key))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				current = nil
			case err != nil:
				return fmt.Errorf("get %s: %w", key, err)
			default:
				current, err = item.ValueCopy(nil)
				if err != nil {
					return fmt.Errorf("read %s: %w", key, err)
				}
			}

			next, err := fn(current)
			if err != nil {
				return err
			}
			if next == nil {
				delErr := txn.Delete([]byte(key))
				if delErr != nil && !errors.Is(delErr, badger.ErrKeyNotFound) {
					return delErr
				}
				return nil
			}
			return txn.Set([]byte(key), next)
		})

		if err == nil {
			return nil
		}
		if errors.Is(err, ErrAbortMutation) {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}

		lastErr = err
		s.logger.Debug().Str("key", key).Int("attempt", attempt+1).Msg("mutation conflict, retrying")
	}
	return fmt.Errorf("mutate %s: retries exhausted: %w", key, lastErr)
}

// ScanPrefix invokes fn for every live key with the given prefix.
func (s *BadgerStore) ScanPrefix(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.Key())
			err := item.Value(func(val []byte) error {
				return fn(key, val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Close flushes and closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// RunGC runs one round of badger value-log garbage collection.
// badger.ErrNoRewrite (nothing to collect) is not an error.
func (s *BadgerStore) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("value log gc: %w", err)
	}
	return nil
}

// StartGCRoutine runs periodic value-log GC until ctx is cancelled.
func (s *BadgerStore) StartGCRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.RunGC(0.5); err != nil {
					s.logger.Warn().Err(err).Msg("value log gc failed")
				}
			}
		}
	}()
}

// badgerLogger adapts zerolog to badger's logger interface.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}
