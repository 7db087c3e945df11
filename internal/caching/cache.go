// Package caching implements the executor's response cache (spec.md §4.4):
// at-most-one execution per duplicate request, cost-weighted eviction, and
// a background expiry worker.
package caching

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/nimblerpc/core/errors"
	"github.com/nimblerpc/core/internal/container"
	"github.com/nimblerpc/core/internal/wallclock"
)

type (
	state int

	key struct {
		topic       string
		correlation string
	}

	entry[T any] struct {
		future            *Future[T]
		state             state
		requestTopic      string
		requestPayload    []byte
		commandExpiration time.Time
		size              int
		reuseEligible     bool
	}

	// Future is a single-shot promise for a cached response. A second
	// arrival for the same key is handed the same Future, so it observes
	// exactly the same outcome the first arrival's handler produces.
	Future[T any] struct {
		done chan struct{}
		val  T
		err  error
	}

	// Cache is a cost-weighted response cache keyed by (response-topic,
	// correlation-data); each CommandExecutor creates and owns its own. T is the stored response type
	// (the root package instantiates it with its outbound message type).
	Cache[T any] struct {
		mu      sync.Mutex
		clock   wallclock.WallClock
		entries map[key]*entry[T]
		expiryQ container.PriorityMap[key, *entry[T], int64]
		costQ   container.PriorityMap[key, *entry[T], float64]

		aggregateBytes int
		started        bool
		stopped        bool
		stopCh         chan struct{}
		doneCh         chan struct{}

		unitOverhead      int
		fixedProcMs       int64
		maxEntryCount     int
		maxAggregateBytes int
		maxWait           time.Duration
	}

	// Config overrides the cache's tunable constants; zero values fall
	// back to the defaults below.
	Config struct {
		UnitOverhead      int
		FixedProcMs       int64
		MaxEntryCount     int
		MaxAggregateBytes int
		MaxWait           time.Duration
	}
)

const (
	pending state = iota
	fulfilled
	evicted
)

// Default tunables, matching the magnitudes used by the teacher's cache
// implementation.
const (
	DefaultUnitOverhead      = 100
	DefaultFixedProcMs       = 10
	DefaultMaxEntryCount     = 10000
	DefaultMaxAggregateBytes = 10_000_000
	DefaultMaxWait           = time.Hour
)

// New creates a new response cache. Call Start before any Retrieve/Store.
func New[T any](clock wallclock.WallClock, cfg Config) *Cache[T] {
	if clock == nil {
		clock = wallclock.Instance
	}
	if cfg.UnitOverhead == 0 {
		cfg.UnitOverhead = DefaultUnitOverhead
	}
	if cfg.FixedProcMs == 0 {
		cfg.FixedProcMs = DefaultFixedProcMs
	}
	if cfg.MaxEntryCount == 0 {
		cfg.MaxEntryCount = DefaultMaxEntryCount
	}
	if cfg.MaxAggregateBytes == 0 {
		cfg.MaxAggregateBytes = DefaultMaxAggregateBytes
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = DefaultMaxWait
	}

	return &Cache[T]{
		clock:             clock,
		entries:           map[key]*entry[T]{},
		expiryQ:           container.NewPriorityMap[key, *entry[T], int64](),
		costQ:             container.NewPriorityMap[key, *entry[T], float64](),
		unitOverhead:      cfg.UnitOverhead,
		fixedProcMs:       cfg.FixedProcMs,
		maxEntryCount:     cfg.MaxEntryCount,
		maxAggregateBytes: cfg.MaxAggregateBytes,
		maxWait:           cfg.MaxWait,
	}
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// fulfill resolves the future exactly once. It must only be called while
// the cache holds its mutex and only ever for the entry that created it.
func (f *Future[T]) fulfill(val T, err error) {
	f.val = val
	f.err = err
	close(f.done)
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, &errors.Error{Message: "wait for cached response cancelled", Kind: errors.Cancellation}
	}
}

// Start begins background expiry processing. It is idempotent.
func (c *Cache[T]) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.expiryLoop()
}

// Stop halts background expiry processing and waits for it to exit.
func (c *Cache[T]) Stop() {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stopCh)
	done := c.doneCh
	c.mu.Unlock()

	<-done
}

// Retrieve returns the Future for an in-flight or completed response if
// one exists for (responseTopic, correlationData), or inserts a new
// Pending entry and returns its Future with false so the caller knows to
// run the handler and call Store. If reuseAcrossInvokers and cacheable are set and
// no exact match exists, an equivalent request (same topic and payload,
// cacheTTL not yet elapsed) may be reused instead of invoking the handler
// again (spec.md §4.4's optional equivalent-request reuse).
func (c *Cache[T]) Retrieve(
	responseTopic, correlationData string,
	requestPayload []byte,
	cacheable, reuseAcrossInvokers bool,
) (*Future[T], bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || c.stopped {
		return nil, false, &errors.Error{
			Message:      "cache is not running",
			Kind:         errors.StateInvalid,
			PropertyName: "Cache",
		}
	}

	k := key{responseTopic, correlationData}
	if e, ok := c.entries[k]; ok {
		return e.future, true, nil
	}

	if reuseAcrossInvokers && cacheable {
		now := c.clock.Now().UTC()
		if equiv, ok := c.costQ.Find(func(e *entry[T]) bool {
			return e.reuseEligible &&
				e.requestTopic == responseTopic &&
				bytes.Equal(e.requestPayload, requestPayload) &&
				now.Before(e.commandExpiration)
		}); ok {
			c.entries[k] = equiv
			return equiv.future, true, nil
		}
	}

	e := &entry[T]{future: newFuture[T](), state: pending, requestTopic: responseTopic, requestPayload: requestPayload}
	c.entries[k] = e
	return e.future, false, nil
}

// Store fulfills the pending entry for (responseTopic, correlationData)
// with the handler's outcome and runs eviction/trim. If the entry was
// already removed under memory pressure, Store drops the result silently
// (spec.md §4.4).
func (c *Cache[T]) Store(
	responseTopic, correlationData string,
	response T, handlerErr error,
	idempotent bool,
	commandExpiration time.Time,
	responseSize int,
	executionDuration time.Duration,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || c.stopped {
		return &errors.Error{
			Message:      "cache is not running",
			Kind:         errors.StateInvalid,
			PropertyName: "Cache",
		}
	}

	k := key{responseTopic, correlationData}
	e, ok := c.entries[k]
	if !ok {
		return nil
	}

	e.future.fulfill(response, handlerErr)
	e.state = fulfilled
	e.size = responseSize
	c.aggregateBytes += responseSize

	now := c.clock.Now().UTC()
	if !now.Before(commandExpiration) {
		c.removeLocked(k, e)
		return nil
	}

	e.commandExpiration = commandExpiration
	c.expiryQ.Set(k, e, commandExpiration.UnixNano())

	evictable := idempotent || now.After(commandExpiration)
	if evictable && handlerErr == nil {
		e.reuseEligible = idempotent
		cost := float64(c.unitOverhead + len(e.requestPayload) + responseSize)
		benefit := float64(c.fixedProcMs + executionDuration.Milliseconds())
		c.costQ.Set(k, e, benefit/cost)
	}

	c.trimLocked(now)
	return nil
}

// trimLocked removes expired entries, then removes lowest-score entries
// until both size bounds are satisfied. Must be called with c.mu held.
func (c *Cache[T]) trimLocked(now time.Time) {
	for {
		k, e, ok := c.expiryQ.Peek()
		if !ok || now.Before(e.commandExpiration) {
			break
		}
		c.removeLocked(k, e)
	}

	for len(c.entries) > c.maxEntryCount || c.aggregateBytes > c.maxAggregateBytes {
		k, e, ok := c.costQ.Pop()
		if !ok {
			break
		}
		// A pop from the cost queue may be stale if the entry was already
		// removed by the expiry path; tolerate it and keep going.
		if cur, exists := c.entries[k]; !exists || cur != e {
			continue
		}
		c.removeLocked(k, e)
	}
}

// removeLocked fully removes an entry from both indexes and the map. Must
// be called with c.mu held.
func (c *Cache[T]) removeLocked(k key, e *entry[T]) {
	delete(c.entries, k)
	c.expiryQ.Delete(k)
	c.costQ.Delete(k)
	if e.state == fulfilled {
		c.aggregateBytes -= e.size
	}
	e.state = evicted
}

// expiryLoop is the single background task that retires entries once
// their commandExpirationTime elapses.
func (c *Cache[T]) expiryLoop() {
	defer close(c.doneCh)

	for {
		c.mu.Lock()
		_, e, ok := c.expiryQ.Peek()
		wait := c.maxWait
		if ok {
			if d := e.commandExpiration.Sub(c.clock.Now().UTC()); d < wait {
				wait = max(d, 0)
			}
		}
		c.mu.Unlock()

		select {
		case <-c.stopCh:
			return
		case <-c.clock.After(wait):
		}

		c.mu.Lock()
		pk, pe, pok := c.expiryQ.Peek()
		if pok && !c.clock.Now().UTC().Before(pe.commandExpiration) {
			k2, e2, ok2 := c.expiryQ.Pop()
			if !ok2 || k2 != pk || e2 != pe {
				c.mu.Unlock()
				panic(&errors.Error{
					Message:      "response cache expiry queue is corrupted: pop did not match peek",
					Kind:         errors.InternalLogicError,
					PropertyName: "ExpiryQueue",
				})
			}
			if cur, exists := c.entries[k2]; exists && cur == e2 {
				c.removeLocked(k2, e2)
			} else {
				c.costQ.Delete(k2)
			}
		}
		c.mu.Unlock()
	}
}
