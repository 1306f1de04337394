package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openscripture/helpserver/internal/resource"
	"github.com/openscripture/helpserver/internal/storage"
)

// durablePrefix namespaces cache envelopes away from archive and
// extracted-file objects sharing the bucket.
const durablePrefix = "cache/"

// DurableTier adapts the object store into the slowest, persistent tier.
// Its writes are the chain's durability contract.
type DurableTier struct {
	store storage.ObjectStore
	clock resource.Clock
}

// NewDurableTier wraps an object store as a cache tier.
func NewDurableTier(store storage.ObjectStore, clock resource.Clock) *DurableTier {
	return &DurableTier{store: store, clock: clock}
}

// Name identifies the tier in logs and metrics.
func (t *DurableTier) Name() string { return "durable" }

func objectKey(key string) string { return durablePrefix + key }

// Get fetches and decodes the envelope; expired entries are reported absent
// and removed so the store does not accumulate dead objects.
func (t *DurableTier) Get(ctx context.Context, key string) (Entry, error) {
	obj, err := t.store.Get(ctx, objectKey(key))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("durable get %s: %w", key, err)
	}
	var entry Entry
	if err := json.Unmarshal(obj.Data, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode cache envelope %s: %w", key, err)
	}
	if entry.Expired(t.clock.Now()) {
		t.dropExpired(ctx, key, entry)
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

// dropExpired deletes the expired envelope unless a concurrent Set has
// already replaced it with a fresher one.
func (t *DurableTier) dropExpired(ctx context.Context, key string, seen Entry) {
	obj, err := t.store.Get(ctx, objectKey(key))
	if err != nil {
		return
	}
	var current Entry
	if err := json.Unmarshal(obj.Data, &current); err != nil {
		return
	}
	if current.StoredAt.Equal(seen.StoredAt) {
		_ = t.store.Delete(ctx, objectKey(key))
	}
}

// Set stores the envelope. The caller awaits this write.
func (t *DurableTier) Set(ctx context.Context, key string, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache envelope %s: %w", key, err)
	}
	if err := t.store.Put(ctx, objectKey(key), "application/json", payload); err != nil {
		return fmt.Errorf("durable set %s: %w", key, err)
	}
	return nil
}

// Delete removes the envelope.
func (t *DurableTier) Delete(ctx context.Context, key string) error {
	if err := t.store.Delete(ctx, objectKey(key)); err != nil {
		return fmt.Errorf("durable delete %s: %w", key, err)
	}
	return nil
}

// Clear pages through the cache prefix and deletes every envelope.
func (t *DurableTier) Clear(ctx context.Context) error {
	cursor := ""
	for {
		page, err := t.store.List(ctx, durablePrefix, cursor, 256)
		if err != nil {
			return fmt.Errorf("durable clear list: %w", err)
		}
		for _, key := range page.Keys {
			if err := t.store.Delete(ctx, key); err != nil {
				return fmt.Errorf("durable clear %s: %w", key, err)
			}
		}
		if page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}
