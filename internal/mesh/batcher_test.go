package mesh

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalescerMergesDuplicateKeysIntoOneDispatch(t *testing.T) {
	var mu sync.Mutex
	dispatches := 0

	c := NewCoalescer(10, 20*time.Millisecond, func(keys []string) ([]BatchResult, error) {
		mu.Lock()
		dispatches++
		mu.Unlock()
		results := make([]BatchResult, len(keys))
		for i, k := range keys {
			results[i] = BatchResult{Value: "resolved:" + k}
		}
		return results, nil
	})

	var wg sync.WaitGroup
	results := make([]interface{}, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Submit("same-key")
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "resolved:same-key", r)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, dispatches, "duplicate concurrent keys must share a single upstream dispatch")
}

func TestCoalescerFlushesOnTimeoutBelowBatchSize(t *testing.T) {
	c := NewCoalescer(10, 15*time.Millisecond, func(keys []string) ([]BatchResult, error) {
		results := make([]BatchResult, len(keys))
		for i, k := range keys {
			results[i] = BatchResult{Value: k}
		}
		return results, nil
	})

	v, err := c.Submit("solo")
	require.NoError(t, err)
	assert.Equal(t, "solo", v)
}

func TestCoalescerFlushesOnBatchSizeBeforeTimeout(t *testing.T) {
	c := NewCoalescer(2, time.Hour, func(keys []string) ([]BatchResult, error) {
		results := make([]BatchResult, len(keys))
		for i, k := range keys {
			results[i] = BatchResult{Value: k}
		}
		return results, nil
	})

	var wg sync.WaitGroup
	wg.Add(2)
	var a, b interface{}
	go func() { defer wg.Done(); a, _ = c.Submit("x") }()
	go func() { defer wg.Done(); b, _ = c.Submit("y") }()
	wg.Wait()

	assert.Equal(t, "x", a)
	assert.Equal(t, "y", b)
}
