// Package pubsub adapts Google Cloud Pub/Sub to the queue interface.
package pubsub

import (
	"context"
	"fmt"
	"sync"

	gpubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/openscripture/helpserver/internal/resource"
)

// Config names the Pub/Sub resources backing one logical queue.
type Config struct {
	ProjectID      string
	TopicID        string
	SubscriptionID string
	// Buffer bounds how many deliveries are staged between the streaming
	// pull and Receive calls.
	Buffer int
}

// Queue is one Pub/Sub topic/subscription pair. The streaming pull runs in
// the background and stages deliveries in a bounded buffer; Ack/Nack settle
// against the retained message handles. Delivery attempts come from the
// server's DeliveryAttempt counter.
type Queue struct {
	name       string
	client     *gpubsub.Client
	publisher  *gpubsub.Publisher
	subscriber *gpubsub.Subscriber
	logger     *zap.Logger

	deliveries chan *gpubsub.Message

	mu      sync.Mutex
	handles map[string]*gpubsub.Message

	startOnce sync.Once
	cancel    context.CancelFunc
}

func fullTopicName(projectID, topicID string) string {
	return fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
}

func fullSubscriptionName(projectID, subID string) string {
	return fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
}

// New builds a queue over an existing Pub/Sub client.
func New(client *gpubsub.Client, cfg Config, logger *zap.Logger) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if cfg.TopicID == "" || cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("topic and subscription ids are required")
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	return &Queue{
		name:       cfg.TopicID,
		client:     client,
		publisher:  client.Publisher(fullTopicName(cfg.ProjectID, cfg.TopicID)),
		subscriber: client.Subscriber(fullSubscriptionName(cfg.ProjectID, cfg.SubscriptionID)),
		logger:     logger,
		deliveries: make(chan *gpubsub.Message, buffer),
		handles:    make(map[string]*gpubsub.Message),
	}, nil
}

// Name identifies the queue.
func (q *Queue) Name() string { return q.name }

// Enqueue publishes the message's object key and blocks until the server
// acknowledges the publish.
func (q *Queue) Enqueue(ctx context.Context, msg resource.Message) error {
	result := q.publisher.Publish(ctx, &gpubsub.Message{
		Data: []byte(msg.Key),
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish to %s: %w", q.name, err)
	}
	return nil
}

// Receive stages the streaming pull on first use, then returns up to max
// deliveries, blocking for at least one.
func (q *Queue) Receive(ctx context.Context, max int) ([]resource.Message, error) {
	q.startOnce.Do(q.startPull)
	if max <= 0 {
		max = 1
	}

	var batch []resource.Message
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("receive canceled: %w", ctx.Err())
	case m := <-q.deliveries:
		batch = append(batch, q.stage(m))
	}
	for len(batch) < max {
		select {
		case m := <-q.deliveries:
			batch = append(batch, q.stage(m))
		default:
			return batch, nil
		}
	}
	return batch, nil
}

func (q *Queue) stage(m *gpubsub.Message) resource.Message {
	attempts := 1
	if m.DeliveryAttempt != nil {
		attempts = *m.DeliveryAttempt
	}
	q.mu.Lock()
	q.handles[m.ID] = m
	q.mu.Unlock()
	return resource.Message{
		ID:         m.ID,
		Key:        string(m.Data),
		Attempts:   attempts,
		EnqueuedAt: m.PublishTime,
	}
}

func (q *Queue) startPull() {
	pullCtx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	go func() {
		err := q.subscriber.Receive(pullCtx, func(_ context.Context, m *gpubsub.Message) {
			select {
			case q.deliveries <- m:
			case <-pullCtx.Done():
				m.Nack()
			}
		})
		if err != nil && pullCtx.Err() == nil {
			q.logger.Error("pubsub streaming pull stopped", zap.String("queue", q.name), zap.Error(err))
		}
	}()
}

func (q *Queue) settle(msgID string) (*gpubsub.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.handles[msgID]
	if !ok {
		return nil, fmt.Errorf("message %s not in flight", msgID)
	}
	delete(q.handles, msgID)
	return m, nil
}

// Ack settles the delivery permanently.
func (q *Queue) Ack(_ context.Context, msg resource.Message) error {
	m, err := q.settle(msg.ID)
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	m.Ack()
	return nil
}

// Nack returns the delivery for redelivery.
func (q *Queue) Nack(_ context.Context, msg resource.Message) error {
	m, err := q.settle(msg.ID)
	if err != nil {
		return fmt.Errorf("nack: %w", err)
	}
	m.Nack()
	return nil
}

// Close stops the streaming pull.
func (q *Queue) Close() {
	if q.cancel != nil {
		q.cancel()
	}
}
