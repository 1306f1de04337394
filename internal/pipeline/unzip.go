package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/openscripture/helpserver/internal/resource"
	"github.com/openscripture/helpserver/internal/storage"
)

// UnzipWorker unpacks one archive per message: every file entry in the ZIP
// central directory is written back to the store under a derived key that
// preserves resource identity and relative path. The derived writes trigger
// indexing through suffix routing; no explicit done event is emitted.
type UnzipWorker struct {
	store  storage.ObjectStore
	logger *zap.Logger
}

// NewUnzipWorker constructs an UnzipWorker.
func NewUnzipWorker(store storage.ObjectStore, logger *zap.Logger) *UnzipWorker {
	return &UnzipWorker{store: store, logger: logger}
}

// Handle processes one unzip message. Failures return a
// QueueProcessingError so the runner retries and eventually dead-letters.
func (w *UnzipWorker) Handle(ctx context.Context, msg resource.Message) error {
	key := msg.Key
	if !strings.HasSuffix(key, ".zip") {
		return &resource.QueueProcessingError{Key: key, Err: fmt.Errorf("not an archive key")}
	}

	obj, err := w.store.Get(ctx, key)
	if err != nil {
		return &resource.QueueProcessingError{Key: key, Err: fmt.Errorf("read archive: %w", err)}
	}
	zr, err := zip.NewReader(bytes.NewReader(obj.Data), int64(len(obj.Data)))
	if err != nil {
		return &resource.QueueProcessingError{Key: key, Err: fmt.Errorf("open archive: %w", err)}
	}

	prefix := strings.TrimSuffix(key, ".zip")
	extracted := 0
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		name := normalizeEntryPath(entry.Name)
		if name == "" {
			continue
		}
		// An archive entry named *.zip would re-enter the unzip queue and
		// cycle forever; such entries are skipped.
		if strings.HasSuffix(name, ".zip") {
			w.logger.Warn("skipping nested archive entry",
				zap.String("archive", key),
				zap.String("entry", entry.Name),
			)
			continue
		}

		data, err := readEntry(entry)
		if err != nil {
			return &resource.QueueProcessingError{Key: key, Err: fmt.Errorf("read entry %s: %w", entry.Name, err)}
		}
		derived := prefix + "/" + name
		ct := resource.InferContentType(derived)
		if err := w.store.Put(ctx, derived, ct.MIME(), data); err != nil {
			return &resource.QueueProcessingError{Key: key, Err: fmt.Errorf("write entry %s: %w", derived, err)}
		}
		extracted++
	}

	w.logger.Info("archive unpacked",
		zap.String("key", key),
		zap.Int("files", extracted),
	)
	return nil
}

// normalizeEntryPath cleans an entry name and rejects traversal outside the
// archive prefix.
func normalizeEntryPath(name string) string {
	cleaned := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if cleaned == "." || strings.HasPrefix(cleaned, "../") || path.IsAbs(cleaned) {
		return ""
	}
	return strings.TrimPrefix(cleaned, "/")
}

func readEntry(entry *zip.File) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
