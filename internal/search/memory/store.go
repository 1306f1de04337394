// Package memory provides an in-memory search index for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/openscripture/helpserver/internal/resource"
)

type docKey struct {
	archiveKey string
	filePath   string
	entryID    string
}

// Store keeps index documents in a map keyed by document identity.
type Store struct {
	mu   sync.RWMutex
	docs map[docKey]resource.IndexDocument
}

// NewStore creates an empty index.
func NewStore() *Store {
	return &Store{docs: make(map[docKey]resource.IndexDocument)}
}

// Upsert inserts or replaces every document under its identity key. The
// whole batch is applied under one lock, so readers never observe a partial
// write.
func (s *Store) Upsert(_ context.Context, docs []resource.IndexDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		s.docs[docKey{doc.ArchiveKey, doc.FilePath, doc.EntryID}] = doc
	}
	return nil
}

// DeleteByFile removes every document derived from one extracted file.
func (s *Store) DeleteByFile(_ context.Context, archiveKey, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.docs {
		if k.archiveKey == archiveKey && k.filePath == filePath {
			delete(s.docs, k)
		}
	}
	return nil
}

// Count reports the number of indexed documents.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

// Search returns documents whose text contains query, case-insensitively,
// in stable (identity) order.
func (s *Store) Search(_ context.Context, query string, limit int) ([]resource.IndexDocument, error) {
	q := strings.ToLower(query)
	s.mu.RLock()
	matches := make([]resource.IndexDocument, 0)
	for _, doc := range s.docs {
		if strings.Contains(strings.ToLower(doc.Text), q) {
			matches = append(matches, doc)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.ArchiveKey != b.ArchiveKey {
			return a.ArchiveKey < b.ArchiveKey
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		return a.EntryID < b.EntryID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// FileDocs returns the documents for one extracted file, for assertions in
// tests.
func (s *Store) FileDocs(archiveKey, filePath string) []resource.IndexDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]resource.IndexDocument, 0)
	for k, doc := range s.docs {
		if k.archiveKey == archiveKey && k.filePath == filePath {
			out = append(out, doc)
		}
	}
	return out
}
