// Package storage defines the durable object store interface.
// This abstraction keeps the application independent of a specific backend
// (Google Cloud Storage in production, an in-memory store for development
// and tests).
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no object exists under the requested key.
var ErrNotFound = errors.New("object not found")

// Object is one stored blob plus its content type.
type Object struct {
	Key         string
	ContentType string
	Data        []byte
}

// ListPage is one cursor-paginated page of keys under a prefix.
type ListPage struct {
	Keys       []string
	NextCursor string
}

// ObjectStore is the single multi-writer, multi-reader source of truth for
// archive and extracted-file bytes. There is no cross-key transaction
// guarantee; consistency comes from idempotent writes.
type ObjectStore interface {
	Put(ctx context.Context, key string, contentType string, data []byte) error
	Get(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string, cursor string, limit int) (ListPage, error)
}
