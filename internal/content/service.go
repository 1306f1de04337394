// Package content implements the read-through path: cache chain in front,
// deduplicated origin sync behind misses.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openscripture/helpserver/internal/cache"
	"github.com/openscripture/helpserver/internal/dedup"
	"github.com/openscripture/helpserver/internal/resource"
	"github.com/openscripture/helpserver/internal/search"
	"github.com/openscripture/helpserver/internal/storage"
	"github.com/openscripture/helpserver/internal/syncer"
)

// ArchiveKind is the cache key kind for raw archive bytes.
const ArchiveKind = "archive"

// Service serves archive bytes, consulting the cache chain first and
// coalescing concurrent misses into a single origin sync.
type Service struct {
	chain  *cache.Chain
	group  *dedup.Group
	syncer *syncer.Syncer
	store  storage.ObjectStore
	index  search.Store
	schema string
	ttl    time.Duration
	logger *zap.Logger
}

// New constructs a Service. An empty schema falls back to the default
// cache key schema.
func New(
	chain *cache.Chain,
	syncer *syncer.Syncer,
	store storage.ObjectStore,
	index search.Store,
	schema string,
	ttl time.Duration,
	logger *zap.Logger,
) *Service {
	if schema == "" {
		schema = cache.DefaultSchema
	}
	return &Service{
		chain:  chain,
		group:  dedup.NewGroup(),
		syncer: syncer,
		store:  store,
		index:  index,
		schema: schema,
		ttl:    ttl,
		logger: logger,
	}
}

// GetArchive returns the archive bytes for ref. Cache misses trigger one
// origin sync shared by all concurrent callers for the same ref; the fetched
// bytes are written back through the chain before being returned. With
// bypass set the cache lookup is skipped but the write-back still happens.
func (s *Service) GetArchive(ctx context.Context, ref resource.Ref, bypass bool) ([]byte, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	key := cache.NewKey(ref, ArchiveKind).WithSchema(s.schema)

	var opts []cache.GetOption
	if bypass {
		opts = append(opts, cache.WithBypass())
	}
	entry, err := s.chain.Get(ctx, key, opts...)
	if err == nil {
		return entry.Value, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		return nil, err
	}

	return s.group.Do(ctx, key.String(), func(fetchCtx context.Context) ([]byte, error) {
		archive, err := s.syncer.Sync(fetchCtx, ref, "")
		if err != nil {
			return nil, err
		}
		if err := s.chain.Set(fetchCtx, key, archive.Data, s.ttl, cache.CategorySource); err != nil {
			// The bytes are already durable in the object store; a cache
			// write failure degrades to slower reads, not data loss.
			s.logger.Warn("cache write-back failed",
				zap.String("key", key.String()),
				zap.Error(err),
			)
		}
		return archive.Data, nil
	})
}

// Invalidate drops the cached archive entry for ref from every tier.
func (s *Service) Invalidate(ctx context.Context, ref resource.Ref) error {
	key := cache.NewKey(ref, ArchiveKind).WithSchema(s.schema)
	return s.chain.Delete(ctx, key)
}

// Purge removes every trace of the ref: cached entries, the stored archive,
// its extracted files, and their index documents. A later read re-syncs the
// whole release from the origin.
func (s *Service) Purge(ctx context.Context, ref resource.Ref) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if err := s.Invalidate(ctx, ref); err != nil {
		return fmt.Errorf("purge cache %s: %w", ref, err)
	}

	prefix := ref.PrefixKey()
	cursor := ""
	for {
		page, err := s.store.List(ctx, prefix, cursor, 256)
		if err != nil {
			return fmt.Errorf("purge list %s: %w", ref, err)
		}
		for _, key := range page.Keys {
			rel := strings.TrimPrefix(key, prefix)
			if err := s.index.DeleteByFile(ctx, ref.ArchiveKey(), rel); err != nil {
				return fmt.Errorf("purge index %s: %w", key, err)
			}
			if err := s.store.Delete(ctx, key); err != nil {
				return fmt.Errorf("purge object %s: %w", key, err)
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if err := s.store.Delete(ctx, ref.ArchiveKey()); err != nil {
		return fmt.Errorf("purge archive %s: %w", ref, err)
	}
	s.logger.Info("resource purged", zap.String("ref", ref.String()))
	return nil
}
