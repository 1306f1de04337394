package cache

import (
	"context"
	"sync"

	"github.com/openscripture/helpserver/internal/resource"
)

// MemoryTier is an in-process map tier, the fastest and least durable layer.
type MemoryTier struct {
	mu      sync.RWMutex
	entries map[string]Entry
	clock   resource.Clock
}

// NewMemoryTier creates an empty memory tier.
func NewMemoryTier(clock resource.Clock) *MemoryTier {
	return &MemoryTier{
		entries: make(map[string]Entry),
		clock:   clock,
	}
}

// Name identifies the tier in logs and metrics.
func (t *MemoryTier) Name() string { return "memory" }

// Get returns the entry or ErrNotFound. Expired entries are dropped lazily.
func (t *MemoryTier) Get(_ context.Context, key string) (Entry, error) {
	t.mu.RLock()
	entry, ok := t.entries[key]
	t.mu.RUnlock()
	if !ok {
		return Entry{}, ErrNotFound
	}
	if entry.Expired(t.clock.Now()) {
		t.mu.Lock()
		// A Set may have refreshed the key between the two locks; only
		// drop the entry this read actually saw.
		if current, ok := t.entries[key]; ok && current.StoredAt.Equal(entry.StoredAt) {
			delete(t.entries, key)
		}
		t.mu.Unlock()
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

// Set stores the entry, replacing any previous value.
func (t *MemoryTier) Set(_ context.Context, key string, entry Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = entry
	return nil
}

// Delete removes the key.
func (t *MemoryTier) Delete(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
	return nil
}

// Clear drops every entry.
func (t *MemoryTier) Clear(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]Entry)
	return nil
}
