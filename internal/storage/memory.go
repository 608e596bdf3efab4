// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory Store for tests and
// single-process experiments. TTL entries expire lazily on read and
// scan, mirroring the badger backend's behavior.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	// failErr, when set, is returned by every operation. Tests use it
	// to simulate backend outages.
	failErr error

	// now allows tests to control time.
	now func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetError makes every subsequent operation fail with err.
// Pass nil to restore normal operation.
func (s *MemoryStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// SetClock overrides the store's time source. Tests only.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)
}

// Get returns the value for key, or ErrKeyNotFound.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}

	e, ok := s.entries[key]
	if !ok || s.expired(e) {
		delete(s.entries, key)
		return nil, ErrKeyNotFound
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Put stores value under key with no expiry.
func (s *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}

	s.entries[key] = memoryEntry{value: cloneBytes(value)}
	return nil
}

// PutWithTTL stores value under key, expiring after ttl.
func (s *MemoryStore) PutWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}

	s.entries[key] = memoryEntry{
		value:     cloneBytes(value),
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}

	delete(s.entries, key)
	return nil
}

// Mutate applies fn to the current value of key under the store lock,
// giving the same lost-update-free semantics as the badger backend.
func (s *MemoryStore) Mutate(_ context.Context, key string, fn MutateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}

	var current []byte
	if e, ok := s.entries[key]; ok && !s.expired(e) {
		current = cloneBytes(e.value)
	}

	next, err := fn(current)
	if err != nil {
		if errors.Is(err, ErrAbortMutation) {
			return nil
		}
		return err
	}
	if next == nil {
		delete(s.entries, key)
		return nil
	}
	s.entries[key] = memoryEntry{value: cloneBytes(next)}
	return nil
}

// ScanPrefix invokes fn for every live key with the given prefix, in
// key order.
func (s *MemoryStore) ScanPrefix(_ context.Context, prefix string, fn func(key string, value []byte) error) error {
	s.mu.Lock()
	if s.failErr != nil {
		s.mu.Unlock()
		return s.failErr
	}

	type kv struct {
		key   string
		value []byte
	}
	var live []kv
	for k, e := range s.entries {
		if len(k) < len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		if s.expired(e) {
			delete(s.entries, k)
			continue
		}
		live = append(live, kv{key: k, value: cloneBytes(e.value)})
	}
	s.mu.Unlock()

	sort.Slice(live, func(i, j int) bool { return live[i].key < live[j].key })
	for _, e := range live {
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of live entries. Tests only.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if !s.expired(e) {
			n++
		}
	}
	return n
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
