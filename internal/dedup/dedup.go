// Package dedup coalesces concurrent identical-key fetches into one
// upstream call.
package dedup

import (
	"context"
	"sync"

	"github.com/openscripture/helpserver/internal/metrics"
)

// FetchFunc performs the upstream fetch on behalf of every attached caller.
type FetchFunc func(ctx context.Context) ([]byte, error)

// flight is one in-flight fetch. All callers for the key share it and
// observe the identical value or error. The fetch context is cancelled only
// when the last waiter detaches; one caller leaving does not abort a fetch
// others still depend on.
type flight struct {
	done    chan struct{}
	value   []byte
	err     error
	waiters int
	cancel  context.CancelFunc
}

// Group owns the pending-fetch map. Insertion is atomic, so exactly one
// caller becomes the fetch owner per key; the slot is released exactly once,
// on settlement.
type Group struct {
	mu      sync.Mutex
	flights map[string]*flight
}

// NewGroup creates an empty Group.
func NewGroup() *Group {
	return &Group{flights: make(map[string]*flight)}
}

// Do returns the result of fn for key, running it at most once across all
// concurrent callers. A caller whose context ends detaches with ctx.Err()
// without disturbing the shared fetch, unless it was the last waiter.
func (g *Group) Do(ctx context.Context, key string, fn FetchFunc) ([]byte, error) {
	g.mu.Lock()
	if f, ok := g.flights[key]; ok {
		f.waiters++
		g.mu.Unlock()
		metrics.ObserveDedup("coalesced")
		return g.wait(ctx, key, f)
	}

	// The fetch outlives any single caller; it is tied to its own context so
	// the last departing waiter can abandon it.
	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{
		done:    make(chan struct{}),
		waiters: 1,
		cancel:  cancel,
	}
	g.flights[key] = f
	g.mu.Unlock()
	metrics.ObserveDedup("owner")

	go func() {
		value, err := fn(fetchCtx)

		g.mu.Lock()
		f.value = value
		f.err = err
		delete(g.flights, key)
		g.mu.Unlock()

		close(f.done)
		cancel()
	}()

	return g.wait(ctx, key, f)
}

func (g *Group) wait(ctx context.Context, key string, f *flight) ([]byte, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		g.detach(key, f)
		return nil, ctx.Err()
	}
}

// detach removes one waiter; the last one out cancels the fetch.
func (g *Group) detach(key string, f *flight) {
	g.mu.Lock()
	f.waiters--
	abandoned := f.waiters == 0
	// Guard against a newer flight having taken the slot after settlement.
	if abandoned && g.flights[key] == f {
		delete(g.flights, key)
	}
	g.mu.Unlock()
	if abandoned {
		f.cancel()
	}
}

// Pending reports the number of in-flight keys.
func (g *Group) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.flights)
}

// Waiters reports how many callers are attached to the key's flight, the
// owner included. Zero means no flight is pending.
func (g *Group) Waiters(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.flights[key]
	if !ok {
		return 0
	}
	return f.waiters
}
