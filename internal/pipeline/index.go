package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/openscripture/helpserver/internal/parse"
	"github.com/openscripture/helpserver/internal/resource"
	"github.com/openscripture/helpserver/internal/search"
	"github.com/openscripture/helpserver/internal/storage"
)

// IndexWorker parses one extracted file per message and upserts the
// resulting documents. Upserts are keyed by (archive key, file path, entry
// id) and applied atomically, so redelivery never duplicates documents and
// a failed attempt never replaces prior documents with a partial result.
type IndexWorker struct {
	store  storage.ObjectStore
	index  search.Store
	logger *zap.Logger
}

// NewIndexWorker constructs an IndexWorker.
func NewIndexWorker(store storage.ObjectStore, index search.Store, logger *zap.Logger) *IndexWorker {
	return &IndexWorker{store: store, index: index, logger: logger}
}

// Handle processes one index message.
func (w *IndexWorker) Handle(ctx context.Context, msg resource.Message) error {
	ref, relPath, err := splitExtractedKey(msg.Key)
	if err != nil {
		return &resource.QueueProcessingError{Key: msg.Key, Err: err}
	}

	obj, err := w.store.Get(ctx, msg.Key)
	if err != nil {
		return &resource.QueueProcessingError{Key: msg.Key, Err: fmt.Errorf("read extracted file: %w", err)}
	}

	file := resource.ExtractedFile{
		ArchiveKey:  ref.ArchiveKey(),
		Path:        relPath,
		ContentType: resource.InferContentType(msg.Key),
		Data:        obj.Data,
	}
	docs, err := parse.Documents(ref, file)
	if err != nil {
		return &resource.QueueProcessingError{Key: msg.Key, Err: err}
	}
	if len(docs) == 0 {
		w.logger.Debug("file produced no documents", zap.String("key", msg.Key))
		return nil
	}

	if err := w.index.Upsert(ctx, docs); err != nil {
		return &resource.QueueProcessingError{Key: msg.Key, Err: fmt.Errorf("upsert documents: %w", err)}
	}
	w.logger.Info("file indexed",
		zap.String("key", msg.Key),
		zap.Int("documents", len(docs)),
	)
	return nil
}

// splitExtractedKey separates an extracted-file key
// (org/lang/resource/version/relative/path) into its owning ref and the
// path relative to the archive root.
func splitExtractedKey(key string) (resource.Ref, string, error) {
	parts := strings.SplitN(key, "/", 5)
	if len(parts) != 5 || parts[4] == "" {
		return resource.Ref{}, "", fmt.Errorf("malformed extracted-file key %q", key)
	}
	ref := resource.Ref{
		Organization: parts[0],
		Language:     parts[1],
		Resource:     parts[2],
		Version:      parts[3],
	}
	if err := ref.Validate(); err != nil {
		return resource.Ref{}, "", err
	}
	return ref, parts[4], nil
}
