package mesh

import (
	"sync"
	"time"
)

// Request batching defaults, from original_source/api/service_mesh.py's
// ServiceMesh.batch_config. No pack library models per-key request
// coalescing, so this is hand-rolled.
const (
	DefaultBatchSize    = 10
	DefaultBatchTimeout = 100 * time.Millisecond
)

// BatchFunc executes a resolved batch of keys and returns one result (or
// error) per key, indexed by position.
type BatchFunc func(keys []string) ([]BatchResult, error)

// BatchResult is one key's outcome within a dispatched batch.
type BatchResult struct {
	Value interface{}
	Err   error
}

type pendingCall struct {
	key    string
	result chan BatchResult
}

// Coalescer groups concurrent calls to Submit under the same dispatch
// window into one BatchFunc invocation, merging duplicate in-flight keys
// into a single upstream call (spec's request batching/coalescing).
type Coalescer struct {
	mu        sync.Mutex
	size      int
	timeout   time.Duration
	dispatch  BatchFunc
	pending   []pendingCall
	inFlight  map[string][]chan BatchResult
	timer     *time.Timer
}

// NewCoalescer returns a Coalescer flushing at size items or timeout,
// whichever comes first.
func NewCoalescer(size int, timeout time.Duration, dispatch BatchFunc) *Coalescer {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if timeout <= 0 {
		timeout = DefaultBatchTimeout
	}
	return &Coalescer{
		size:     size,
		timeout:  timeout,
		dispatch: dispatch,
		inFlight: make(map[string][]chan BatchResult),
	}
}

// Submit enqueues key for the next batch dispatch and blocks until that
// batch resolves. Concurrent Submit calls for the same key while a batch
// is pending share one upstream slot.
func (c *Coalescer) Submit(key string) (interface{}, error) {
	c.mu.Lock()

	ch := make(chan BatchResult, 1)
	if waiters, ok := c.inFlight[key]; ok {
		c.inFlight[key] = append(waiters, ch)
		c.mu.Unlock()
		res := <-ch
		return res.Value, res.Err
	}

	c.inFlight[key] = []chan BatchResult{ch}
	c.pending = append(c.pending, pendingCall{key: key, result: ch})

	if len(c.pending) >= c.size {
		batch := c.pending
		c.pending = nil
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		c.mu.Unlock()
		c.flush(batch)
	} else {
		if c.timer == nil {
			c.timer = time.AfterFunc(c.timeout, c.flushPending)
		}
		c.mu.Unlock()
	}

	res := <-ch
	return res.Value, res.Err
}

func (c *Coalescer) flushPending() {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.timer = nil
	c.mu.Unlock()

	if len(batch) > 0 {
		c.flush(batch)
	}
}

func (c *Coalescer) flush(batch []pendingCall) {
	keys := make([]string, len(batch))
	for i, call := range batch {
		keys[i] = call.key
	}

	results, err := c.dispatch(keys)

	c.mu.Lock()
	waiters := make(map[string][]chan BatchResult, len(batch))
	for _, call := range batch {
		waiters[call.key] = c.inFlight[call.key]
		delete(c.inFlight, call.key)
	}
	c.mu.Unlock()

	if err != nil {
		for _, call := range batch {
			for _, ch := range waiters[call.key] {
				ch <- BatchResult{Err: err}
			}
		}
		return
	}

	for i, call := range batch {
		var res BatchResult
		if i < len(results) {
			res = results[i]
		}
		for _, ch := range waiters[call.key] {
			ch <- res
		}
	}
}
