package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/openscripture/helpserver/internal/resource"
)

// RedisTier is the networked middle tier. Entries are stored as a JSON
// envelope with the remaining TTL mapped onto Redis server-side expiry, so
// promotion preserves the original deadline.
type RedisTier struct {
	client *redis.Client
	prefix string
	clock  resource.Clock
}

// NewRedisClient builds a client from connection parameters.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisTier wraps a Redis client as a cache tier. All keys are namespaced
// under prefix.
func NewRedisTier(client *redis.Client, prefix string, clock resource.Clock) *RedisTier {
	if prefix == "" {
		prefix = "helpserver"
	}
	return &RedisTier{client: client, prefix: prefix, clock: clock}
}

// Name identifies the tier in logs and metrics.
func (t *RedisTier) Name() string { return "redis" }

func (t *RedisTier) redisKey(key string) string {
	return t.prefix + ":" + key
}

// Get fetches and decodes the envelope. redis.Nil and expired entries are
// both reported as ErrNotFound.
func (t *RedisTier) Get(ctx context.Context, key string) (Entry, error) {
	payload, err := t.client.Get(ctx, t.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode cache envelope %s: %w", key, err)
	}
	if entry.Expired(t.clock.Now()) {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

// Set stores the envelope with the entry's remaining TTL as expiry.
func (t *RedisTier) Set(ctx context.Context, key string, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache envelope %s: %w", key, err)
	}
	expiry := entry.Remaining(t.clock.Now())
	if entry.TTL > 0 && expiry <= 0 {
		// Already past its deadline; storing it would resurrect a dead entry.
		return nil
	}
	if err := t.client.Set(ctx, t.redisKey(key), payload, expiry).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes the key.
func (t *RedisTier) Delete(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, t.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Clear scans and deletes everything under the tier prefix.
func (t *RedisTier) Clear(ctx context.Context) error {
	iter := t.client.Scan(ctx, 0, t.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := t.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis clear %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}
