package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/openscripture/helpserver/internal/queue"
	"github.com/openscripture/helpserver/internal/resource"
)

// storageEvent is the subset of a GCS object-create notification the router
// needs.
type storageEvent struct {
	Name   string `json:"name"`
	Bucket string `json:"bucket"`
}

// EventSource consumes bucket create notifications from a queue and feeds
// the router. In single-process mode the memory store's hooks replace it;
// in production GCS publishes notifications to a Pub/Sub topic.
type EventSource struct {
	events queue.Queue
	router *Router
	logger *zap.Logger
}

// NewEventSource constructs an EventSource.
func NewEventSource(events queue.Queue, router *Router, logger *zap.Logger) *EventSource {
	return &EventSource{events: events, router: router, logger: logger}
}

// errBadEvent marks payloads that can never decode into an object key.
var errBadEvent = errors.New("undecodable storage event")

// Handle decodes one notification and routes the created key. The payload is
// either a bare object key or notification JSON carrying a name field.
// Undecodable payloads fail with errBadEvent; routing failures are transient.
func (s *EventSource) Handle(ctx context.Context, msg resource.Message) error {
	key := msg.Key
	if len(key) > 0 && key[0] == '{' {
		var event storageEvent
		if err := json.Unmarshal([]byte(key), &event); err != nil {
			return &resource.QueueProcessingError{Key: msg.Key, Err: fmt.Errorf("%w: %v", errBadEvent, err)}
		}
		if event.Name == "" {
			return &resource.QueueProcessingError{Key: msg.Key, Err: fmt.Errorf("%w: missing object name", errBadEvent)}
		}
		key = event.Name
	}
	if err := s.router.HandleCreate(ctx, key); err != nil {
		return &resource.QueueProcessingError{Key: key, Err: err}
	}
	return nil
}

// Run consumes the events queue until the context finishes. Routing
// failures nack for redelivery; decode failures are logged and acked away
// (a malformed notification never becomes parseable).
func (s *EventSource) Run(ctx context.Context) {
	for {
		batch, err := s.events.Receive(ctx, 16)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("event receive failed", zap.Error(err))
			continue
		}
		for _, msg := range batch {
			err := s.Handle(ctx, msg)
			if err != nil && !errors.Is(err, errBadEvent) {
				s.logger.Warn("event routing failed, will redeliver",
					zap.String("payload", msg.Key),
					zap.Int("attempt", msg.Attempts),
					zap.Error(err),
				)
				if nackErr := s.events.Nack(ctx, msg); nackErr != nil {
					s.logger.Error("event nack failed", zap.String("msg_id", msg.ID), zap.Error(nackErr))
				}
				continue
			}
			if err != nil {
				s.logger.Warn("storage event dropped", zap.String("payload", msg.Key), zap.Error(err))
			}
			if err := s.events.Ack(ctx, msg); err != nil {
				s.logger.Error("event ack failed", zap.String("msg_id", msg.ID), zap.Error(err))
			}
		}
	}
}
