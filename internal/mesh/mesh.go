// Package mesh implements C4: the service mesh layer fronting external
// dependencies (scraper, ML sentiment service) with registration,
// health-aware load balancing, circuit breaking, request coalescing, and
// autoscaling hints.
//
// Grounded on other_examples' kdeps resilient_client.go (circuit
// breaker + connection pool shape) and on
// original_source/api/service_mesh.py's ServiceMesh class, which the
// spec's Open Question resolves as the authoritative source of default
// thresholds over the competing CircuitBreakerManager class.
package mesh

import (
	"context"
	"sync"
	"time"

	"github.com/worthit/pipeline/internal/errors"
	"github.com/worthit/pipeline/internal/models"
)

// Mesh composes a Registry and LoadBalancer per service, and exposes a
// single Do entry point that picks an instance, respects its breaker,
// and records the outcome. Concurrent Do calls for the same service and
// request key are coalesced onto a single upstream invocation through a
// per-service Coalescer.
type Mesh struct {
	registry   *Registry
	balancer   *LoadBalancer
	autoscaler *Autoscaler

	mu           sync.Mutex
	coalescers   map[string]*Coalescer
	pendingCalls map[string]func() error
}

// New returns a mesh using the given load-balancing strategy.
func New(strategy Strategy) *Mesh {
	return &Mesh{
		registry:     NewRegistry(),
		balancer:     NewLoadBalancer(strategy),
		autoscaler:   NewAutoscaler(),
		coalescers:   make(map[string]*Coalescer),
		pendingCalls: make(map[string]func() error),
	}
}

// Register adds a backend instance to the mesh.
func (m *Mesh) Register(inst models.ServiceInstance) {
	m.registry.Register(inst)
	m.autoscaler.SetInstanceCount(inst.ServiceName, m.registry.Count(inst.ServiceName))
}

// Deregister removes a backend instance from the mesh.
func (m *Mesh) Deregister(inst models.ServiceInstance) {
	m.registry.Deregister(inst)
	m.autoscaler.SetInstanceCount(inst.ServiceName, m.registry.Count(inst.ServiceName))
}

// Heartbeat refreshes liveness and load gauges for an instance.
func (m *Mesh) Heartbeat(serviceName, instanceID string, activeConnections int64, responseTime time.Duration) {
	m.registry.Heartbeat(serviceName, instanceID, activeConnections, responseTime)
	total := int64(0)
	for _, inst := range m.registry.All(serviceName) {
		total += inst.ActiveConnections
	}
	capacity := float64(m.registry.Count(serviceName))
	if capacity > 0 {
		m.autoscaler.Observe(serviceName, float64(total)/capacity/100)
	}
}

// Call is the function signature a caller supplies to Do: it executes
// against the chosen instance and reports success/failure to the
// circuit breaker.
type Call func(ctx context.Context, inst models.ServiceInstance) error

// Do selects a healthy instance of serviceName, runs fn against it, and
// records the outcome on that instance's circuit breaker. If every
// registered instance is excluded because its breaker has tripped, it
// returns errors.CircuitOpen without invoking fn; if there are simply no
// live instances (none registered, or all heartbeat-expired), it returns
// errors.NoHealthyInstance (I5: an open circuit rejects calls without
// attempting them).
//
// key identifies the request for coalescing purposes (e.g. the product
// URL a scraper call fetches): concurrent Do calls for the same
// serviceName and key that land in the same dispatch window share a
// single invocation of fn, the spec's request-batching contract for
// mesh calls.
func (m *Mesh) Do(ctx context.Context, serviceName, key string, fn Call) error {
	candidates, circuitOpen := m.registry.Healthy(serviceName)
	if len(candidates) == 0 && circuitOpen {
		return errors.New(errors.CircuitOpen, "circuit open for every instance of "+serviceName)
	}

	inst, err := m.balancer.Select(serviceName, candidates)
	if err != nil {
		return err
	}

	breaker := m.registry.Breaker(inst.ID())
	m.registerPendingCall(serviceName, key, func() error { return fn(ctx, inst) })

	_, callErr := m.coalescerFor(serviceName).Submit(key)
	if callErr != nil {
		breaker.RecordFailure()
		return callErr
	}
	breaker.RecordSuccess()
	return nil
}

// coalescerFor returns the Coalescer for serviceName, creating it on
// first use. Its dispatch function looks up and runs whichever fn was
// last registered for each key in the flushed batch.
func (m *Mesh) coalescerFor(serviceName string) *Coalescer {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.coalescers[serviceName]
	if ok {
		return c
	}
	c = NewCoalescer(DefaultBatchSize, DefaultBatchTimeout, func(keys []string) ([]BatchResult, error) {
		results := make([]BatchResult, len(keys))
		for i, key := range keys {
			fn := m.takePendingCall(serviceName, key)
			var err error
			if fn != nil {
				err = fn()
			}
			results[i] = BatchResult{Err: err}
		}
		return results, nil
	})
	m.coalescers[serviceName] = c
	return c
}

func (m *Mesh) registerPendingCall(serviceName, key string, fn func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingCalls[serviceName+"\x00"+key] = fn
}

func (m *Mesh) takePendingCall(serviceName, key string) func() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := serviceName + "\x00" + key
	fn := m.pendingCalls[k]
	delete(m.pendingCalls, k)
	return fn
}

// CircuitStates exposes a snapshot of every tracked breaker, for
// diagnostics/metrics endpoints.
func (m *Mesh) CircuitStates() map[string]models.CircuitState {
	return m.registry.CircuitStates()
}

// ScalingHint returns the autoscaler's current recommendation for a
// service, derived from recent Heartbeat utilization samples.
func (m *Mesh) ScalingHint(serviceName string) ScaleDecision {
	return m.autoscaler.Evaluate(serviceName)
}

// Instances lists every registered instance of a service, healthy or
// not, for admin/metrics listing.
func (m *Mesh) Instances(serviceName string) []models.ServiceInstance {
	return m.registry.All(serviceName)
}
