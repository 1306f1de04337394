// Package memory stores objects in-memory for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/openscripture/helpserver/internal/storage"
)

// Store is a map-backed ObjectStore.
type Store struct {
	mu      sync.RWMutex
	objects map[string]storage.Object
}

// NewStore creates an empty in-memory object store.
func NewStore() *Store {
	return &Store{objects: make(map[string]storage.Object)}
}

// Put stores a copy of the data. Overwrites are idempotent: identical bytes
// under the same key leave one stored object.
func (s *Store) Put(_ context.Context, key string, contentType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = storage.Object{
		Key:         key,
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
	}
	return nil
}

// Get returns a copy of the stored object or storage.ErrNotFound.
func (s *Store) Get(_ context.Context, key string) (storage.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return storage.Object{}, storage.ErrNotFound
	}
	obj.Data = append([]byte(nil), obj.Data...)
	return obj, nil
}

// Delete removes the key. Deleting an absent key is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// List returns keys under prefix in lexical order, resuming after cursor.
func (s *Store) List(_ context.Context, prefix string, cursor string, limit int) (storage.ListPage, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix && k > cursor {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	page := storage.ListPage{}
	if limit <= 0 || limit > len(keys) {
		limit = len(keys)
	}
	page.Keys = keys[:limit]
	if limit < len(keys) {
		page.NextCursor = keys[limit-1]
	}
	return page, nil
}

// Len reports the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
