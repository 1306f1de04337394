// Package cache implements the multi-tier, versioned cache chain fronting
// the origin resource host.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned on a cache miss. An entry past its TTL is a miss.
var ErrNotFound = errors.New("cache entry not found")

// Category tags what kind of payload an entry carries. Transformed
// (caller-shaped) responses are rejected at Set time so one client's
// output-format-specific payload never pollutes a cache shared across
// formats.
type Category string

// Entry categories.
const (
	CategorySource      Category = "source"
	CategoryTransformed Category = "transformed"
)

// Entry is one cached value plus the metadata needed for expiry and
// version discrimination.
type Entry struct {
	Value    []byte        `json:"value"`
	Category Category      `json:"category"`
	StoredAt time.Time     `json:"stored_at"`
	TTL      time.Duration `json:"ttl"`
	Version  string        `json:"version"`
}

// Expired reports whether the entry's TTL has elapsed at now.
// A zero TTL never expires.
func (e Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && !now.Before(e.StoredAt.Add(e.TTL))
}

// Remaining returns the TTL left at now, preserved across tier promotion.
func (e Entry) Remaining(now time.Time) time.Duration {
	if e.TTL <= 0 {
		return 0
	}
	left := e.StoredAt.Add(e.TTL).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Tier is one layer of the chain, ordered by access cost. Implementations:
// memory map, Redis, and the durable object store.
type Tier interface {
	Name() string
	Get(ctx context.Context, key string) (Entry, error)
	Set(ctx context.Context, key string, entry Entry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}
