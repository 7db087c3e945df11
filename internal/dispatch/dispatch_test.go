package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySharesPoolForSameClientID(t *testing.T) {
	r := NewRegistry()

	h1 := r.Get("client-a", 1)
	h2 := r.Get("client-a", 99) // concurrency ignored: joins the existing pool
	assert.Same(t, h1.pool, h2.pool)

	h1.Release()
	h2.Release()
}

func TestRegistryGivesDistinctPoolsPerClientID(t *testing.T) {
	r := NewRegistry()

	h1 := r.Get("client-a", 1)
	h2 := r.Get("client-b", 1)
	assert.NotSame(t, h1.pool, h2.pool)

	h1.Release()
	h2.Release()
}

func TestRegistryRemovesPoolAfterLastRelease(t *testing.T) {
	r := NewRegistry()

	h1 := r.Get("client-a", 1)
	h2 := r.Get("client-a", 1)

	h1.Release()
	r.mu.Lock()
	_, stillPresent := r.pools["client-a"]
	r.mu.Unlock()
	assert.True(t, stillPresent, "pool must survive while a reference remains")

	h2.Release()
	r.mu.Lock()
	_, stillPresent = r.pools["client-a"]
	r.mu.Unlock()
	assert.False(t, stillPresent, "pool must be torn down once refcount reaches zero")
}

func TestHandleSubmitRespectsConcurrencyBound(t *testing.T) {
	r := NewRegistry()
	h := r.Get("client-a", 2)
	defer h.Release()

	var (
		mu      sync.Mutex
		running int
		maxSeen int
	)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		h.Submit(context.Background(), func() {
			mu.Lock()
			running++
			if running > maxSeen {
				maxSeen = running
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
		}, wg.Done)
	}

	wg.Wait()
	assert.LessOrEqual(t, maxSeen, 2)
}

func TestHandleSubmitUnboundedRunsEachTaskConcurrently(t *testing.T) {
	r := NewRegistry()
	h := r.Get("client-a", 0)
	defer h.Release()

	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		h.Submit(context.Background(), func() {
			n.Add(1)
		}, wg.Done)
	}
	wg.Wait()
	require.EqualValues(t, 5, n.Load())
}

func TestHandleSubmitNilTaskOnlyAcks(t *testing.T) {
	r := NewRegistry()
	h := r.Get("client-a", 1)
	defer h.Release()

	acked := make(chan struct{})
	h.Submit(context.Background(), nil, func() { close(acked) })

	select {
	case <-acked:
	case <-time.After(time.Second):
		t.Fatal("ack was not invoked for a nil task")
	}
}
