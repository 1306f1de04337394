// Package gcs provides an ObjectStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/openscripture/helpserver/internal/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// Store reads and writes objects in a configured GCS bucket.
// Authentication is handled via Application Default Credentials.
type Store struct {
	client *gstorage.Client
	bucket string
}

// New creates a GCS-backed object store and verifies bucket access so a
// misconfigured deployment fails at startup rather than mid-pipeline.
func New(ctx context.Context, client *gstorage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		return nil, fmt.Errorf("get bucket %q attributes: %w", cfg.Bucket, err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads data to the bucket. Close finalizes the upload and must be
// checked: GCS reports most write failures there.
func (s *Store) Put(ctx context.Context, key string, contentType string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(data); err != nil {
		closeErr := w.Close()
		if closeErr != nil {
			return fmt.Errorf("write object %s: %w (close writer: %v)", key, err, closeErr)
		}
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for object %s: %w", key, err)
	}
	return nil
}

// Get downloads an object's bytes and content type.
func (s *Store) Get(ctx context.Context, key string) (storage.Object, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return storage.Object{}, storage.ErrNotFound
		}
		return storage.Object{}, fmt.Errorf("open object %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return storage.Object{}, fmt.Errorf("read object %s: %w", key, err)
	}
	return storage.Object{
		Key:         key,
		ContentType: r.Attrs.ContentType,
		Data:        data,
	}, nil
}

// Delete removes the object. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gstorage.ErrObjectNotExist) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// List pages keys under prefix using the bucket iterator's pagination token.
func (s *Store) List(ctx context.Context, prefix string, cursor string, limit int) (storage.ListPage, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &gstorage.Query{
		Prefix:      prefix,
		StartOffset: cursor,
	})
	page := storage.ListPage{}
	for limit <= 0 || len(page.Keys) < limit {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return page, nil
		}
		if err != nil {
			return storage.ListPage{}, fmt.Errorf("list prefix %s: %w", prefix, err)
		}
		if attrs.Name <= cursor {
			continue
		}
		page.Keys = append(page.Keys, attrs.Name)
	}
	page.NextCursor = page.Keys[len(page.Keys)-1]
	return page, nil
}
