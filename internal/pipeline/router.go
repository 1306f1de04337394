// Package pipeline implements the event-triggered ingestion pipeline:
// object-create events are routed by filename suffix into an unzip queue or
// an index queue, whose workers unpack archives and build the search index.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/openscripture/helpserver/internal/queue"
	"github.com/openscripture/helpserver/internal/resource"
)

// Router turns object-create events into queue messages. `.zip` keys go to
// the unzip queue; extracted-file suffixes go to the index queue; everything
// else (cache envelopes included) is ignored.
type Router struct {
	unzipQueue queue.Queue
	indexQueue queue.Queue
	idGen      resource.IDGenerator
	clock      resource.Clock
	logger     *zap.Logger
}

// NewRouter constructs a Router.
func NewRouter(unzipQueue, indexQueue queue.Queue, idGen resource.IDGenerator, clock resource.Clock, logger *zap.Logger) *Router {
	return &Router{
		unzipQueue: unzipQueue,
		indexQueue: indexQueue,
		idGen:      idGen,
		clock:      clock,
		logger:     logger,
	}
}

// HandleCreate routes one created object key. Unroutable keys are not an
// error: the store holds plenty of objects the pipeline does not consume.
func (r *Router) HandleCreate(ctx context.Context, key string) error {
	target := r.target(key)
	if target == nil {
		return nil
	}

	id, err := r.idGen.NewID()
	if err != nil {
		return fmt.Errorf("route %s: %w", key, err)
	}
	msg := resource.Message{
		ID:         id,
		Key:        key,
		EnqueuedAt: r.clock.Now(),
	}
	if err := target.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("route %s to %s: %w", key, target.Name(), err)
	}
	r.logger.Debug("object routed",
		zap.String("key", key),
		zap.String("queue", target.Name()),
	)
	return nil
}

func (r *Router) target(key string) queue.Queue {
	if strings.HasPrefix(key, "cache/") {
		return nil
	}
	switch ct := resource.InferContentType(key); {
	case ct == resource.ContentTypeArchive:
		return r.unzipQueue
	case ct.Indexable():
		return r.indexQueue
	default:
		return nil
	}
}
