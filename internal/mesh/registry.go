package mesh

import (
	"sort"
	"sync"
	"time"

	"github.com/worthit/pipeline/internal/models"
)

// heartbeatExpiry: an instance that hasn't heartbeat in this long is
// dropped from the rotation as unhealthy, independent of its circuit
// state.
const heartbeatExpiry = 90 * time.Second

// Registry holds the live set of ServiceInstance records per service
// name, each paired with its own CircuitBreaker.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]map[string]models.ServiceInstance
	breakers  map[string]*CircuitBreaker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[string]map[string]models.ServiceInstance),
		breakers:  make(map[string]*CircuitBreaker),
	}
}

// Register adds or replaces an instance record.
func (r *Registry) Register(inst models.ServiceInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inst.Status == "" {
		inst.Status = models.InstanceHealthy
	}
	if inst.LastHeartbeat.IsZero() {
		inst.LastHeartbeat = time.Now()
	}

	bucket, ok := r.instances[inst.ServiceName]
	if !ok {
		bucket = make(map[string]models.ServiceInstance)
		r.instances[inst.ServiceName] = bucket
	}
	bucket[inst.ID()] = inst

	if _, ok := r.breakers[inst.ID()]; !ok {
		r.breakers[inst.ID()] = NewCircuitBreaker()
	}
}

// Deregister removes an instance from the rotation.
func (r *Registry) Deregister(inst models.ServiceInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bucket, ok := r.instances[inst.ServiceName]; ok {
		delete(bucket, inst.ID())
	}
	delete(r.breakers, inst.ID())
}

// Heartbeat refreshes an instance's liveness timestamp and connection
// gauges.
func (r *Registry) Heartbeat(serviceName, id string, activeConnections int64, responseTime time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.instances[serviceName]
	if !ok {
		return
	}
	inst, ok := bucket[id]
	if !ok {
		return
	}
	inst.LastHeartbeat = time.Now()
	inst.ActiveConnections = activeConnections
	inst.LastResponseTime = responseTime
	bucket[id] = inst
}

// Healthy returns the instances of a service that are not expired and
// whose circuit breaker currently permits calls, sorted by instance id
// so strategies relying on a stable ordering (round_robin's rotating
// index, least_connections' tie-break) see the same candidate order on
// every call. circuitOpen reports whether every non-expired instance
// was excluded solely because its breaker is open, as opposed to there
// being no live instances at all; Do uses this to tell CircuitOpen
// apart from NoHealthyInstance.
func (r *Registry) Healthy(serviceName string) (out []models.ServiceInstance, circuitOpen bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.instances[serviceName]
	out = make([]models.ServiceInstance, 0, len(bucket))
	now := time.Now()
	live, broken := 0, 0
	for id, inst := range bucket {
		if now.Sub(inst.LastHeartbeat) > heartbeatExpiry {
			continue
		}
		live++
		breaker := r.breakers[id]
		if breaker != nil && !breaker.Allow() {
			inst.Status = models.InstanceCircuitBroken
			broken++
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, live > 0 && broken == live
}

// All returns every registered instance of a service, healthy or not,
// for admin/metrics listing.
func (r *Registry) All(serviceName string) []models.ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.instances[serviceName]
	out := make([]models.ServiceInstance, 0, len(bucket))
	for _, inst := range bucket {
		out = append(out, inst)
	}
	return out
}

// Breaker returns the circuit breaker for a given instance id, creating
// one if it doesn't exist yet.
func (r *Registry) Breaker(id string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[id]
	if !ok {
		b = NewCircuitBreaker()
		r.breakers[id] = b
	}
	return b
}

// CircuitStates returns a snapshot of every tracked breaker's state,
// keyed by instance id.
func (r *Registry) CircuitStates() map[string]models.CircuitState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]models.CircuitState, len(r.breakers))
	for id, b := range r.breakers {
		out[id] = b.State(id)
	}
	return out
}

// Count returns how many instances of a service are currently
// registered, healthy or not.
func (r *Registry) Count(serviceName string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances[serviceName])
}
