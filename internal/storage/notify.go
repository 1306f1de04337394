package storage

import (
	"context"
	"sync"
)

// Hooked decorates an ObjectStore with create notifications, standing in for
// bucket notifications when the process is the only writer. Hooks run
// synchronously on the writer's goroutine after a successful Put.
type Hooked struct {
	ObjectStore

	mu    sync.RWMutex
	hooks []func(key string)
}

// WithHooks wraps store so Subscribe'd hooks observe every stored key.
func WithHooks(store ObjectStore) *Hooked {
	return &Hooked{ObjectStore: store}
}

// Subscribe registers a hook invoked with the key of every stored object.
func (h *Hooked) Subscribe(fn func(key string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, fn)
}

// Put stores the object and fires create hooks on success.
func (h *Hooked) Put(ctx context.Context, key string, contentType string, data []byte) error {
	if err := h.ObjectStore.Put(ctx, key, contentType, data); err != nil {
		return err
	}
	h.mu.RLock()
	hooks := append([]func(string){}, h.hooks...)
	h.mu.RUnlock()
	for _, fn := range hooks {
		fn(key)
	}
	return nil
}
