// ABOUTME: In-memory KV fake shared by the repository tests
// ABOUTME: Mimics the postgres-backed store including update timestamps
package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"recommendation-engine/driver"
)

type fakeKV struct {
	mu      sync.Mutex
	entries map[string]map[string]driver.KVEntry
	clock   time.Time
	setErr  error
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		entries: make(map[string]map[string]driver.KVEntry),
		clock:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick advances the fake write clock so successive writes are ordered.
func (f *fakeKV) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeKV) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[namespace][key]
	if !ok {
		return nil, driver.ErrKeyNotFound
	}
	return entry.Value, nil
}

func (f *fakeKV) Set(ctx context.Context, namespace, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	if f.entries[namespace] == nil {
		f.entries[namespace] = make(map[string]driver.KVEntry)
	}
	f.entries[namespace][key] = driver.KVEntry{Key: key, Value: value, UpdatedAt: f.tick()}
	return nil
}

func (f *fakeKV) Delete(ctx context.Context, namespace, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries[namespace], key)
	return nil
}

func (f *fakeKV) ListRecent(ctx context.Context, namespace string, limit int) ([]driver.KVEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.sorted(namespace)
	// Newest first.
	sort.Slice(entries, func(i, j int) bool { return entries[i].UpdatedAt.After(entries[j].UpdatedAt) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (f *fakeKV) ListSince(ctx context.Context, namespace string, since time.Time) ([]driver.KVEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []driver.KVEntry
	for _, e := range f.sorted(namespace) {
		if !e.UpdatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeKV) DeleteBefore(ctx context.Context, namespace string, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for key, e := range f.entries[namespace] {
		if e.UpdatedAt.Before(before) {
			delete(f.entries[namespace], key)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeKV) sorted(namespace string) []driver.KVEntry {
	entries := make([]driver.KVEntry, 0, len(f.entries[namespace]))
	for _, e := range f.entries[namespace] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UpdatedAt.Before(entries[j].UpdatedAt) })
	return entries
}
