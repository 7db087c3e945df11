package caching

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimblerpc/core/errors"
	"github.com/nimblerpc/core/internal/wallclock"
)

func newTestCache(t *testing.T) *Cache[string] {
	t.Helper()
	c := New[string](wallclock.Instance, Config{})
	c.Start()
	t.Cleanup(c.Stop)
	return c
}

func TestCacheRetrieveInsertsPendingOnFirstArrival(t *testing.T) {
	c := newTestCache(t)

	future, hit, err := c.Retrieve("resp/topic", "corr-1", []byte("req"), false, false)
	require.NoError(t, err)
	assert.False(t, hit)
	require.NotNil(t, future)
}

func TestCacheRetrieveReturnsSharedFutureOnDuplicate(t *testing.T) {
	c := newTestCache(t)

	first, hit, err := c.Retrieve("resp/topic", "corr-1", []byte("req"), false, false)
	require.NoError(t, err)
	require.False(t, hit)

	second, hit, err := c.Retrieve("resp/topic", "corr-1", []byte("req"), false, false)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Same(t, first, second)
}

func TestCacheStoreFulfillsWaitingFuture(t *testing.T) {
	c := newTestCache(t)

	future, _, err := c.Retrieve("resp/topic", "corr-1", []byte("req"), true, false)
	require.NoError(t, err)

	err = c.Store("resp/topic", "corr-1", "the-response", nil, true, time.Now().Add(time.Hour), 13, time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	val, werr := future.Wait(ctx)
	require.NoError(t, werr)
	assert.Equal(t, "the-response", val)
}

func TestCacheStoreDropsSilentlyWhenEntryAlreadyGone(t *testing.T) {
	c := newTestCache(t)

	// No corresponding Retrieve call was ever made for this key.
	err := c.Store("resp/topic", "missing-corr", "x", nil, true, time.Now().Add(time.Hour), 1, 0)
	assert.NoError(t, err)
}

func TestCacheStoreRemovesAlreadyExpiredEntryImmediately(t *testing.T) {
	c := newTestCache(t)

	_, _, err := c.Retrieve("resp/topic", "corr-1", []byte("req"), true, false)
	require.NoError(t, err)

	err = c.Store("resp/topic", "corr-1", "v", nil, true, time.Now().Add(-time.Second), 1, 0)
	require.NoError(t, err)

	c.mu.Lock()
	_, stillPresent := c.entries[key{"resp/topic", "corr-1"}]
	c.mu.Unlock()
	assert.False(t, stillPresent)
}

func TestCacheOperationsFailBeforeStart(t *testing.T) {
	c := New[string](wallclock.Instance, Config{})

	_, _, err := c.Retrieve("t", "c", nil, false, false)
	require.Error(t, err)
	var protoErr *errors.Error
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, errors.StateInvalid, protoErr.Kind)

	err = c.Store("t", "c", "v", nil, false, time.Now(), 0, 0)
	require.Error(t, err)
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, errors.StateInvalid, protoErr.Kind)
}

func TestCacheOperationsFailAfterStop(t *testing.T) {
	c := New[string](wallclock.Instance, Config{})
	c.Start()
	c.Stop()

	_, _, err := c.Retrieve("t", "c", nil, false, false)
	require.Error(t, err)
}

func TestCacheTrimsOldestByScoreWhenOverEntryCount(t *testing.T) {
	c := New[string](wallclock.Instance, Config{MaxEntryCount: 2})
	c.Start()
	t.Cleanup(c.Stop)

	for i, corr := range []string{"a", "b", "c"} {
		_, _, err := c.Retrieve("resp/topic", corr, []byte("req"), true, false)
		require.NoError(t, err)
		err = c.Store("resp/topic", corr, "v", nil, true, time.Now().Add(time.Hour), 1, time.Duration(i)*time.Millisecond)
		require.NoError(t, err)
	}

	c.mu.Lock()
	count := len(c.entries)
	c.mu.Unlock()
	assert.LessOrEqual(t, count, 2)
}

func TestCacheRetrieveReusesEquivalentRequestAcrossInvokers(t *testing.T) {
	c := newTestCache(t)

	payload := []byte("same-request")

	_, hit, err := c.Retrieve("resp/topic", "corr-1", payload, true, true)
	require.NoError(t, err)
	require.False(t, hit)

	err = c.Store("resp/topic", "corr-1", "result", nil, true, time.Now().Add(time.Hour), len(payload), 0)
	require.NoError(t, err)

	future, hit, err := c.Retrieve("resp/topic", "corr-2", payload, true, true)
	require.NoError(t, err)
	require.True(t, hit)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	val, werr := future.Wait(ctx)
	require.NoError(t, werr)
	assert.Equal(t, "result", val)
}
