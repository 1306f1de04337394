// Package search defines the full-text index owned by the ingestion
// pipeline's IndexWorker.
package search

import (
	"context"

	"github.com/openscripture/helpserver/internal/resource"
)

// Store persists index documents. Upsert is atomic per call and keyed by
// (archive key, file path, entry id), so redelivered messages never
// duplicate documents and a failed attempt leaves prior documents for the
// file untouched.
type Store interface {
	Upsert(ctx context.Context, docs []resource.IndexDocument) error
	DeleteByFile(ctx context.Context, archiveKey, filePath string) error
	Count(ctx context.Context) (int, error)
	Search(ctx context.Context, query string, limit int) ([]resource.IndexDocument, error)
}
