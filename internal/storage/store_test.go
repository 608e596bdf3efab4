// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		wantErr bool
	}{
		{"simple", "user-123", false},
		{"uuid", "c1f9e1a0-8d4e-4f2a-9b6c-000000000000", false},
		{"empty", "", true},
		{"colon", "user:123", true},
		{"control char", "user\n123", true},
		{"too long", string(make([]byte, 129)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUserID(tt.userID)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidUserID) {
					t.Errorf("ValidateUserID(%q) = %v, want ErrInvalidUserID", tt.userID, err)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidateUserID(%q) unexpected error: %v", tt.userID, err)
			}
		})
	}
}

// storeFactories returns every Store implementation under test so the
// contract suite runs against both backends.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			t.Helper()
			return NewMemoryStore()
		},
		"badger": func(t *testing.T) Store {
			t.Helper()
			s, err := OpenBadger(BadgerOptions{Dir: ""})
			if err != nil {
				t.Fatalf("open badger: %v", err)
			}
			t.Cleanup(func() {
				if err := s.Close(); err != nil {
					t.Errorf("close: %v", err)
				}
			})
			return s
		},
	}
}

func TestStoreGetPutDelete(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrKeyNotFound) {
				t.Errorf("Get(missing) = %v, want ErrKeyNotFound", err)
			}

			if err := s.Put(ctx, "k", []byte("v1")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			got, err := s.Get(ctx, "k")
			if err != nil || string(got) != "v1" {
				t.Fatalf("Get = %q, %v; want v1", got, err)
			}

			if err := s.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrKeyNotFound) {
				t.Errorf("Get after delete = %v, want ErrKeyNotFound", err)
			}

			// Deleting a missing key is not an error.
			if err := s.Delete(ctx, "k"); err != nil {
				t.Errorf("Delete(missing) = %v, want nil", err)
			}
		})
	}
}

func TestStoreMutate(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			// Mutate on a missing key sees nil.
			err := s.Mutate(ctx, "counter", func(current []byte) ([]byte, error) {
				if current != nil {
					t.Errorf("expected nil current, got %q", current)
				}
				return []byte("1"), nil
			})
			if err != nil {
				t.Fatalf("Mutate: %v", err)
			}

			// Mutate sees the previous value.
			err = s.Mutate(ctx, "counter", func(current []byte) ([]byte, error) {
				n, _ := strconv.Atoi(string(current))
				return []byte(strconv.Itoa(n + 1)), nil
			})
			if err != nil {
				t.Fatalf("Mutate: %v", err)
			}
			got, err := s.Get(ctx, "counter")
			if err != nil || string(got) != "2" {
				t.Fatalf("counter = %q, %v; want 2", got, err)
			}

			// ErrAbortMutation leaves the key untouched without error.
			err = s.Mutate(ctx, "counter", func(current []byte) ([]byte, error) {
				return nil, ErrAbortMutation
			})
			if err != nil {
				t.Fatalf("aborted Mutate = %v, want nil", err)
			}
			got, _ = s.Get(ctx, "counter")
			if string(got) != "2" {
				t.Errorf("counter after abort = %q, want 2", got)
			}

			// Returning nil deletes the key.
			err = s.Mutate(ctx, "counter", func(current []byte) ([]byte, error) {
				return nil, nil
			})
			if err != nil {
				t.Fatalf("Mutate delete: %v", err)
			}
			if _, err := s.Get(ctx, "counter"); !errors.Is(err, ErrKeyNotFound) {
				t.Errorf("Get after mutate-delete = %v, want ErrKeyNotFound", err)
			}
		})
	}
}

func TestStoreMutateConcurrentIncrements(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			const workers = 8
			const perWorker = 25

			var wg sync.WaitGroup
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < perWorker; i++ {
						err := s.Mutate(ctx, "hits", func(current []byte) ([]byte, error) {
							n := 0
							if current != nil {
								n, _ = strconv.Atoi(string(current))
							}
							return []byte(strconv.Itoa(n + 1)), nil
						})
						if err != nil {
							t.Errorf("Mutate: %v", err)
							return
						}
					}
				}()
			}
			wg.Wait()

			got, err := s.Get(ctx, "hits")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got) != strconv.Itoa(workers*perWorker) {
				t.Errorf("hits = %s, want %d (lost updates)", got, workers*perWorker)
			}
		})
	}
}

func TestStoreScanPrefix(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				key := fmt.Sprintf("antirep:u1:combo:%d", i)
				if err := s.Put(ctx, key, []byte("x")); err != nil {
					t.Fatalf("Put: %v", err)
				}
			}
			if err := s.Put(ctx, "antirep:u2:combo:0", []byte("x")); err != nil {
				t.Fatalf("Put: %v", err)
			}

			var keys []string
			err := s.ScanPrefix(ctx, "antirep:u1:", func(key string, _ []byte) error {
				keys = append(keys, key)
				return nil
			})
			if err != nil {
				t.Fatalf("ScanPrefix: %v", err)
			}
			if len(keys) != 5 {
				t.Errorf("scanned %d keys, want 5: %v", len(keys), keys)
			}
			for _, k := range keys {
				if len(k) < 11 || k[:11] != "antirep:u1:" {
					t.Errorf("key %q outside prefix", k)
				}
			}
		})
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	current := base
	s.SetClock(func() time.Time { return current })

	if err := s.PutWithTTL(ctx, "temp", []byte("v"), 30*24*time.Hour); err != nil {
		t.Fatalf("PutWithTTL: %v", err)
	}

	// Still live one day before expiry.
	current = base.Add(29 * 24 * time.Hour)
	if _, err := s.Get(ctx, "temp"); err != nil {
		t.Errorf("Get at T+29d = %v, want live entry", err)
	}

	// Gone after expiry.
	current = base.Add(31 * 24 * time.Hour)
	if _, err := s.Get(ctx, "temp"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get at T+31d = %v, want ErrKeyNotFound", err)
	}

	// Expired entries do not appear in scans.
	var seen int
	if err := s.ScanPrefix(ctx, "temp", func(string, []byte) error {
		seen++
		return nil
	}); err != nil {
		t.Fatalf("ScanPrefix: %v", err)
	}
	if seen != 0 {
		t.Errorf("expired entry visible in scan")
	}
}

func TestJSONHelpers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	type doc struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	if err := PutJSON(ctx, s, "doc:1", doc{Name: "navy", Count: 3}); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}

	var got doc
	if err := GetJSON(ctx, s, "doc:1", &got); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if got.Name != "navy" || got.Count != 3 {
		t.Errorf("got %+v", got)
	}

	if err := GetJSON(ctx, s, "doc:missing", &got); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("GetJSON(missing) = %v, want ErrKeyNotFound", err)
	}
}
