// Package queue defines the message queue interface driving the ingestion
// pipeline. The abstraction keeps workers independent of the delivery
// mechanism (GCP Pub/Sub in production, an in-memory queue for development
// and tests).
package queue

import (
	"context"

	"github.com/openscripture/helpserver/internal/resource"
)

// Queue delivers messages at-least-once. Every delivery increments the
// message's Attempts counter; consumers must tolerate redelivery and
// out-of-order arrival.
type Queue interface {
	// Name identifies the queue in logs and metrics.
	Name() string

	// Enqueue publishes a message. The implementation assigns the ID when
	// empty.
	Enqueue(ctx context.Context, msg resource.Message) error

	// Receive blocks until at least one message is available (or ctx ends)
	// and returns up to max messages, each counted as one delivery attempt.
	Receive(ctx context.Context, max int) ([]resource.Message, error)

	// Ack settles a delivered message permanently.
	Ack(ctx context.Context, msg resource.Message) error

	// Nack returns a delivered message for redelivery.
	Nack(ctx context.Context, msg resource.Message) error
}
