package pipeline

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openscripture/helpserver/internal/metrics"
	"github.com/openscripture/helpserver/internal/queue"
	"github.com/openscripture/helpserver/internal/resource"
)

// Handler processes one message.
type Handler interface {
	Handle(ctx context.Context, msg resource.Message) error
}

// RunnerConfig carries the operational retry parameters.
type RunnerConfig struct {
	BatchSize   int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 8
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 250 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	return c
}

// Runner drives one queue: it receives bounded batches, hands each message
// to the handler concurrently, acks successes, and nacks failures for
// redelivery with jittered exponential backoff. A message that has exhausted
// its delivery attempts is moved, untouched, to the paired dead-letter queue
// without blocking unrelated messages.
type Runner struct {
	queue      queue.Queue
	deadLetter queue.Queue
	handler    Handler
	cfg        RunnerConfig
	logger     *zap.Logger
}

// NewRunner constructs a Runner for one queue/dead-letter pair.
func NewRunner(q, deadLetter queue.Queue, handler Handler, cfg RunnerConfig, logger *zap.Logger) *Runner {
	return &Runner{
		queue:      q,
		deadLetter: deadLetter,
		handler:    handler,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// Run blocks, consuming messages until the context finishes.
func (r *Runner) Run(ctx context.Context) {
	for {
		batch, err := r.queue.Receive(ctx, r.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("queue receive failed",
				zap.String("queue", r.queue.Name()),
				zap.Error(err),
			)
			continue
		}

		var wg sync.WaitGroup
		for _, msg := range batch {
			wg.Add(1)
			go func(msg resource.Message) {
				defer wg.Done()
				r.process(ctx, msg)
			}(msg)
		}
		wg.Wait()
	}
}

func (r *Runner) process(ctx context.Context, msg resource.Message) {
	err := r.handler.Handle(ctx, msg)
	if err == nil {
		if ackErr := r.queue.Ack(ctx, msg); ackErr != nil {
			r.logger.Error("ack failed",
				zap.String("queue", r.queue.Name()),
				zap.String("msg_id", msg.ID),
				zap.Error(ackErr),
			)
		}
		metrics.ObservePipelineMessage(r.queue.Name(), "ok")
		return
	}

	if msg.Attempts >= r.cfg.MaxAttempts {
		r.moveToDeadLetter(ctx, msg, err)
		return
	}

	metrics.ObservePipelineMessage(r.queue.Name(), "retry")
	r.logger.Warn("message failed, will redeliver",
		zap.String("queue", r.queue.Name()),
		zap.String("key", msg.Key),
		zap.Int("attempt", msg.Attempts),
		zap.Error(err),
	)
	// The delay runs detached from the batch join: the receive loop keeps
	// draining unrelated messages while this one waits for its nack.
	delay := r.backoff(msg.Attempts)
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
		if nackErr := r.queue.Nack(ctx, msg); nackErr != nil {
			r.logger.Error("nack failed",
				zap.String("queue", r.queue.Name()),
				zap.String("msg_id", msg.ID),
				zap.Error(nackErr),
			)
		}
	}()
}

func (r *Runner) moveToDeadLetter(ctx context.Context, msg resource.Message, cause error) {
	r.logger.Error("message exhausted attempts, dead-lettering",
		zap.String("queue", r.queue.Name()),
		zap.String("key", msg.Key),
		zap.Int("attempts", msg.Attempts),
		zap.Error(cause),
	)
	if err := r.deadLetter.Enqueue(ctx, msg); err != nil {
		// Keep the message alive in the source queue rather than lose it.
		r.logger.Error("dead-letter enqueue failed",
			zap.String("queue", r.deadLetter.Name()),
			zap.String("msg_id", msg.ID),
			zap.Error(err),
		)
		if nackErr := r.queue.Nack(ctx, msg); nackErr != nil {
			r.logger.Error("nack after dead-letter failure",
				zap.String("queue", r.queue.Name()),
				zap.String("msg_id", msg.ID),
				zap.Error(nackErr),
			)
		}
		return
	}
	if err := r.queue.Ack(ctx, msg); err != nil {
		r.logger.Error("ack after dead-letter move failed",
			zap.String("queue", r.queue.Name()),
			zap.String("msg_id", msg.ID),
			zap.Error(err),
		)
	}
	metrics.ObserveDeadLetter(r.queue.Name())
	metrics.ObservePipelineMessage(r.queue.Name(), "dead_letter")
}

func (r *Runner) backoff(attempt int) time.Duration {
	delay := float64(r.cfg.BackoffBase) * math.Pow(2, float64(attempt-1))
	if delay > float64(r.cfg.BackoffMax) {
		delay = float64(r.cfg.BackoffMax)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
