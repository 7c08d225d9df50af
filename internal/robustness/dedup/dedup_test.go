package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_SameInputsProduceSameFingerprint(t *testing.T) {
	a, err := Fingerprint("session-1", "tools/call", map[string]interface{}{"name": "echo"})
	require.NoError(t, err)
	b, err := Fingerprint("session-1", "tools/call", map[string]interface{}{"name": "echo"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFingerprint_DifferentSessionsDiffer(t *testing.T) {
	a, err := Fingerprint("session-1", "tools/call", map[string]interface{}{"name": "echo"})
	require.NoError(t, err)
	b, err := Fingerprint("session-2", "tools/call", map[string]interface{}{"name": "echo"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCache_ConcurrentCallsShareOneExecution(t *testing.T) {
	c, err := New(1000, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	var executions int32
	fp, err := Fingerprint("", "slow_method", nil)
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	results := make([]interface{}, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			res, err := c.Do(context.Background(), fp, func(ctx context.Context) (interface{}, error) {
				atomic.AddInt32(&executions, 1)
				time.Sleep(20 * time.Millisecond)
				return "the-one-result", nil
			})
			require.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&executions), "exactly one of the N concurrent calls should have actually executed")
	for _, r := range results {
		assert.Equal(t, "the-one-result", r)
	}
}

func TestCache_SequentialCallsAfterCompletionReuseCachedResult(t *testing.T) {
	c, err := New(1000, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	var executions int32
	fp, err := Fingerprint("", "m", nil)
	require.NoError(t, err)

	run := func() {
		_, err := c.Do(context.Background(), fp, func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&executions, 1)
			return "x", nil
		})
		require.NoError(t, err)
	}
	run()
	run()
	assert.Equal(t, int32(1), atomic.LoadInt32(&executions))
}
