package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/openscripture/helpserver/internal/metrics"
	"github.com/openscripture/helpserver/internal/resource"
)

// Config controls chain behavior.
type Config struct {
	// AwaitPromotions makes Get block on backfill writes before returning.
	// The default (false) promotes in the background: hits return
	// immediately and promotion failures are only logged.
	AwaitPromotions bool
}

// Chain probes an ordered list of tiers, fastest first. The last tier is the
// durable one; its write is awaited on Set while faster tiers are
// best-effort.
type Chain struct {
	tiers  []Tier
	cfg    Config
	clock  resource.Clock
	logger *zap.Logger
}

// NewChain composes tiers into a chain. At least one tier is required; the
// caller orders them by access cost.
func NewChain(tiers []Tier, cfg Config, clock resource.Clock, logger *zap.Logger) (*Chain, error) {
	if len(tiers) == 0 {
		return nil, errors.New("cache chain requires at least one tier")
	}
	return &Chain{tiers: tiers, cfg: cfg, clock: clock, logger: logger}, nil
}

// GetOption adjusts a single Get call.
type GetOption func(*getOptions)

type getOptions struct {
	bypass bool
}

// WithBypass forces the Get to report a miss unconditionally, so a caller
// can force-refresh without disabling caching for others. Set still
// persists during bypass.
func WithBypass() GetOption {
	return func(o *getOptions) { o.bypass = true }
}

// Get probes tiers strictly in order and returns the first unexpired hit.
// A hit at tier i backfills tiers 0..i-1 preserving the remaining TTL.
func (c *Chain) Get(ctx context.Context, key Key, opts ...GetOption) (Entry, error) {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.bypass {
		metrics.ObserveCacheRequest("bypass", "miss")
		return Entry{}, ErrNotFound
	}

	k := key.String()
	for i, tier := range c.tiers {
		entry, err := tier.Get(ctx, k)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				c.logger.Warn("cache tier read failed",
					zap.String("tier", tier.Name()),
					zap.String("key", k),
					zap.Error(err),
				)
			}
			metrics.ObserveCacheRequest(tier.Name(), "miss")
			continue
		}
		metrics.ObserveCacheRequest(tier.Name(), "hit")
		if i > 0 {
			c.promote(ctx, k, entry, c.tiers[:i])
		}
		return entry, nil
	}
	return Entry{}, ErrNotFound
}

// promote backfills faster tiers after a hit in a slower one. Failures are
// logged and never surfaced to the caller.
func (c *Chain) promote(ctx context.Context, key string, entry Entry, faster []Tier) {
	if c.cfg.AwaitPromotions {
		c.writeBack(ctx, key, entry, faster)
		return
	}
	// The promotion must survive the caller's request ending.
	bg := context.WithoutCancel(ctx)
	go c.writeBack(bg, key, entry, faster)
}

func (c *Chain) writeBack(ctx context.Context, key string, entry Entry, tiers []Tier) {
	for _, tier := range tiers {
		if err := tier.Set(ctx, key, entry); err != nil {
			metrics.ObserveCachePromotion(tier.Name(), "error")
			c.logger.Warn("cache promotion failed",
				zap.String("tier", tier.Name()),
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}
		metrics.ObserveCachePromotion(tier.Name(), "ok")
	}
}

// Set writes value under key with the given TTL. Transformed response
// categories are rejected before any tier is touched. The durable tier's
// write is awaited; faster tiers are best-effort.
func (c *Chain) Set(ctx context.Context, key Key, value []byte, ttl time.Duration, category Category) error {
	if category == CategoryTransformed {
		return resource.ErrCacheConfiguration
	}
	entry := Entry{
		Value:    value,
		Category: category,
		StoredAt: c.clock.Now(),
		TTL:      ttl,
		Version:  key.Schema,
	}

	k := key.String()
	durable := c.tiers[len(c.tiers)-1]
	if err := durable.Set(ctx, k, entry); err != nil {
		return err
	}
	for _, tier := range c.tiers[:len(c.tiers)-1] {
		if err := tier.Set(ctx, k, entry); err != nil {
			c.logger.Warn("cache tier write failed",
				zap.String("tier", tier.Name()),
				zap.String("key", k),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Delete removes the key from every tier.
func (c *Chain) Delete(ctx context.Context, key Key) error {
	var errs []error
	for _, tier := range c.tiers {
		if err := tier.Delete(ctx, key.String()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clear empties every tier.
func (c *Chain) Clear(ctx context.Context) error {
	var errs []error
	for _, tier := range c.tiers {
		if err := tier.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
