// Package memory provides a queue implementation for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/openscripture/helpserver/internal/resource"
)

// Queue is an in-memory at-least-once queue. Nacked messages return to the
// ready list with their attempt counter intact; the counter increments on
// every delivery.
type Queue struct {
	name string

	mu       sync.Mutex
	cond     *sync.Cond
	ready    []resource.Message
	inflight map[string]resource.Message
}

// NewQueue constructs a named queue.
func NewQueue(name string) *Queue {
	q := &Queue{
		name:     name,
		inflight: make(map[string]resource.Message),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Name identifies the queue.
func (q *Queue) Name() string { return q.name }

// Enqueue appends the message to the ready list.
func (q *Queue) Enqueue(_ context.Context, msg resource.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	q.mu.Lock()
	q.ready = append(q.ready, msg)
	q.mu.Unlock()
	// Broadcast, not Signal: with several blocked receivers a single token
	// can land on one that another enqueue already woke, stranding the rest.
	q.cond.Broadcast()
	return nil
}

// Receive blocks for at least one ready message, then drains up to max.
// Each returned message has its delivery-attempt counter incremented.
func (q *Queue) Receive(ctx context.Context, max int) ([]resource.Message, error) {
	if max <= 0 {
		max = 1
	}
	stop := context.AfterFunc(ctx, func() { q.cond.Broadcast() })
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.ready) == 0 {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("receive canceled: %w", ctx.Err())
		}
		q.cond.Wait()
	}

	n := max
	if n > len(q.ready) {
		n = len(q.ready)
	}
	batch := make([]resource.Message, 0, n)
	for _, msg := range q.ready[:n] {
		msg.Attempts++
		q.inflight[msg.ID] = msg
		batch = append(batch, msg)
	}
	q.ready = append([]resource.Message(nil), q.ready[n:]...)
	return batch, nil
}

// Ack settles the delivery.
func (q *Queue) Ack(_ context.Context, msg resource.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, msg.ID)
	return nil
}

// Nack returns the delivery to the ready list for redelivery.
func (q *Queue) Nack(_ context.Context, msg resource.Message) error {
	q.mu.Lock()
	current, ok := q.inflight[msg.ID]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("nack %s: message not in flight", msg.ID)
	}
	delete(q.inflight, msg.ID)
	q.ready = append(q.ready, current)
	q.mu.Unlock()
	q.cond.Broadcast()
	return nil
}

// Depth reports ready (undelivered) message count.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// Inflight reports delivered-but-unsettled message count.
func (q *Queue) Inflight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}
