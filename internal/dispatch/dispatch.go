// Package dispatch provides the bounded-concurrency task pool shared by
// every executor/invoker bound to the same pub/sub client (spec.md §4.5).
//
// Rather than a package-level singleton keyed by client id, Registry is an
// explicitly constructed, host-owned collection: an Application constructs
// one Registry and shares it with every CommandInvoker/CommandExecutor it
// creates, which achieves the same per-client-id pool sharing without
// hidden global mutable state.
package dispatch

import (
	"context"
	"sync"
)

type (
	// Registry hands out a shared, refcounted Pool per client id. The
	// first caller for a given client id decides its concurrency; later
	// callers join the same pool regardless of the concurrency they ask
	// for, matching a single MQTT client's single in-order session.
	Registry struct {
		mu    sync.Mutex
		pools map[string]*sharedPool
	}

	sharedPool struct {
		refs  int
		send  func(context.Context, func())
		close func()
	}

	// Handle is a lease on a client id's shared Pool. Release must be
	// called exactly once, typically from the owner's Close method.
	Handle struct {
		registry *Registry
		clientID string
		pool     *sharedPool
	}
)

// NewRegistry creates a new, empty dispatch registry.
func NewRegistry() *Registry {
	return &Registry{pools: map[string]*sharedPool{}}
}

// Get returns a Handle on the shared pool for clientID, creating it with
// the given concurrency (0 meaning unbounded, a goroutine per task) if it
// does not already exist.
func (r *Registry) Get(clientID string, concurrency uint) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pools[clientID]
	if !ok {
		send, closeFn := concurrent(concurrency)
		p = &sharedPool{send: send, close: closeFn}
		r.pools[clientID] = p
	}
	p.refs++

	return &Handle{registry: r, clientID: clientID, pool: p}
}

// Submit dispatches task to the pool, respecting its concurrency bound,
// and guarantees ack runs exactly once after task completes (normal or
// panicking). task may be nil, meaning "only ack": used when a pipeline
// has already produced its outcome synchronously and has no concurrent
// work left to bound. Submit blocks only long enough to hand the unit of
// work off, or until ctx is done.
func (h *Handle) Submit(ctx context.Context, task func(), ack func()) {
	if task == nil {
		ack()
		return
	}
	h.pool.send(ctx, func() {
		defer ack()
		task()
	})
}

// Release drops this handle's reference on the pool. Once the last handle
// for a client id is released, its pool is shut down and removed from the
// registry.
func (h *Handle) Release() {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()

	h.pool.refs--
	if h.pool.refs > 0 {
		return
	}
	h.pool.close()
	if cur, ok := h.registry.pools[h.clientID]; ok && cur == h.pool {
		delete(h.registry.pools, h.clientID)
	}
}

// concurrent returns a send function and a cleanup function implementing a
// worker pool of the given bound. A bound of 0 means unlimited concurrency:
// every task gets its own goroutine.
func concurrent(concurrency uint) (func(context.Context, func()), func()) {
	if concurrency == 0 {
		return func(_ context.Context, task func()) {
			go task()
		}, func() {}
	}

	queue := make(chan func())
	for i := uint(0); i < concurrency; i++ {
		go func() {
			for task := range queue {
				task()
			}
		}()
	}

	return func(ctx context.Context, task func()) {
		select {
		case queue <- task:
		case <-ctx.Done():
		}
	}, func() { close(queue) }
}
