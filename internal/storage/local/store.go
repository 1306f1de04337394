// Package local implements a filesystem-backed object store for single-node
// deployments.
package local

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openscripture/helpserver/internal/resource"
	"github.com/openscripture/helpserver/internal/storage"
)

// Config captures the parameters for the filesystem object store.
type Config struct {
	// BaseDir is the root directory where objects are stored.
	BaseDir string
}

// Store writes objects to the local filesystem. Object keys map directly to
// relative paths under the base directory; content types are not persisted
// and are re-inferred from the key on read.
type Store struct {
	baseDir string
}

// New creates a filesystem-backed object store, verifying the base directory
// exists and is writable so a misconfigured deployment fails at startup.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, fmt.Errorf("base directory path is not a directory")
		}
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	default:
		return nil, fmt.Errorf("stat base directory: %w", err)
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_probe")
	if err := os.WriteFile(probe, []byte("probe"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}

	return &Store{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// resolve maps an object key to an absolute path, rejecting traversal.
func (s *Store) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	full := filepath.Clean(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes base directory", key)
	}
	return full, nil
}

// Put writes the object bytes, creating parent directories as needed.
func (s *Store) Put(_ context.Context, key string, _ string, data []byte) error {
	full, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(full, data, 0o600); err != nil {
		return fmt.Errorf("write object %s: %w", key, err)
	}
	return nil
}

// Get reads the object or returns storage.ErrNotFound.
func (s *Store) Get(_ context.Context, key string) (storage.Object, error) {
	full, err := s.resolve(key)
	if err != nil {
		return storage.Object{}, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return storage.Object{}, storage.ErrNotFound
		}
		return storage.Object{}, fmt.Errorf("read object %s: %w", key, err)
	}
	return storage.Object{
		Key:         key,
		ContentType: resource.InferContentType(key).MIME(),
		Data:        data,
	}, nil
}

// Delete removes the object. Deleting an absent key is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	full, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// List walks the tree and returns keys under prefix in lexical order,
// resuming after cursor.
func (s *Store) List(_ context.Context, prefix string, cursor string, limit int) (storage.ListPage, error) {
	var keys []string
	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && key > cursor {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return storage.ListPage{}, fmt.Errorf("walk objects: %w", err)
	}

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
