// Package syncer fetches archives from the origin, verifies integrity, and
// persists them into the durable object store.
package syncer

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openscripture/helpserver/internal/metrics"
	"github.com/openscripture/helpserver/internal/resource"
	"github.com/openscripture/helpserver/internal/storage"
)

// Downloader fetches archive bytes for a ref.
type Downloader interface {
	Download(ctx context.Context, ref resource.Ref) ([]byte, error)
}

// Syncer coordinates download, verification, and persistence.
type Syncer struct {
	downloader Downloader
	store      storage.ObjectStore
	hasher     resource.Hasher
	logger     *zap.Logger
}

// New constructs a Syncer.
func New(downloader Downloader, store storage.ObjectStore, hasher resource.Hasher, logger *zap.Logger) *Syncer {
	return &Syncer{
		downloader: downloader,
		store:      store,
		hasher:     hasher,
		logger:     logger,
	}
}

// Download fetches the archive for ref from the origin.
func (s *Syncer) Download(ctx context.Context, ref resource.Ref) (resource.Archive, error) {
	data, err := s.downloader.Download(ctx, ref)
	if err != nil {
		return resource.Archive{}, err
	}
	return resource.Archive{Ref: ref, Data: data}, nil
}

// Verify computes the archive checksum and reads its manifest. A supplied
// expected checksum must match exactly; an empty one adopts the computed
// value as canonical for that version.
func (s *Syncer) Verify(archive resource.Archive, expected string) (resource.Archive, error) {
	sum, err := s.hasher.Hash(archive.Data)
	if err != nil {
		return resource.Archive{}, fmt.Errorf("hash archive %s: %w", archive.Ref, err)
	}
	if expected != "" && expected != sum {
		return resource.Archive{}, &resource.IntegrityError{Ref: archive.Ref, Want: expected, Got: sum}
	}
	archive.Checksum = sum

	zr, err := zip.NewReader(bytes.NewReader(archive.Data), int64(len(archive.Data)))
	if err != nil {
		return resource.Archive{}, fmt.Errorf("read archive %s: %w", archive.Ref, err)
	}
	manifest := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		manifest = append(manifest, f.Name)
	}
	archive.Manifest = manifest
	return archive, nil
}

// Persist writes the archive bytes under the ref's deterministic key.
// Repeated identical writes overwrite the same key with identical bytes.
func (s *Syncer) Persist(ctx context.Context, archive resource.Archive) error {
	key := archive.Ref.ArchiveKey()
	if err := s.store.Put(ctx, key, resource.ContentTypeArchive.MIME(), archive.Data); err != nil {
		return fmt.Errorf("persist archive %s: %w", key, err)
	}
	s.logger.Info("archive persisted",
		zap.String("key", key),
		zap.String("checksum", archive.Checksum),
		zap.Int("files", len(archive.Manifest)),
	)
	return nil
}

// Sync runs download, verify, persist for one ref.
func (s *Syncer) Sync(ctx context.Context, ref resource.Ref, expectedChecksum string) (resource.Archive, error) {
	archive, err := s.Download(ctx, ref)
	if err != nil {
		metrics.ObserveSync("download_error")
		return resource.Archive{}, err
	}
	archive, err = s.Verify(archive, expectedChecksum)
	if err != nil {
		metrics.ObserveSync("verify_error")
		return resource.Archive{}, err
	}
	if err := s.Persist(ctx, archive); err != nil {
		metrics.ObserveSync("persist_error")
		return resource.Archive{}, err
	}
	metrics.ObserveSync("ok")
	return archive, nil
}

// Outcome is the per-item result of a batch sync.
type Outcome struct {
	Ref      resource.Ref `json:"ref"`
	Checksum string       `json:"checksum,omitempty"`
	Err      error        `json:"-"`
	Error    string       `json:"error,omitempty"`
}

// SyncBatch processes refs with bounded parallelism. One item's failure
// never aborts its siblings; the outcome slice is ordered like refs.
func (s *Syncer) SyncBatch(ctx context.Context, refs []resource.Ref, limit int) []Outcome {
	if limit <= 0 {
		limit = 4
	}
	outcomes := make([]Outcome, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, ref := range refs {
		g.Go(func() error {
			archive, err := s.Sync(gctx, ref, "")
			outcomes[i] = Outcome{Ref: ref, Err: err}
			if err != nil {
				outcomes[i].Error = err.Error()
				s.logger.Warn("sync failed", zap.String("ref", ref.String()), zap.Error(err))
				return nil
			}
			outcomes[i].Checksum = archive.Checksum
			return nil
		})
	}
	// Closures never return an error; Wait here is purely a join.
	_ = g.Wait()
	return outcomes
}
