package mesh

import (
	"sync/atomic"

	"github.com/worthit/pipeline/internal/errors"
	"github.com/worthit/pipeline/internal/models"
)

// Strategy is a load-balancing selection policy over a healthy instance
// set, mirroring the four strategies the original ServiceMesh supports.
type Strategy string

const (
	StrategyRoundRobin      Strategy = "round_robin"
	StrategyLeastConns      Strategy = "least_connections"
	StrategyWeighted        Strategy = "weighted"
	StrategyResponseTime    Strategy = "response_time"
)

// LoadBalancer selects one instance from a healthy set per call,
// rotating a per-service atomic counter for round_robin.
type LoadBalancer struct {
	strategy Strategy
	counters map[string]*uint64
}

// NewLoadBalancer returns a balancer using the given strategy, defaulting
// to round_robin when empty.
func NewLoadBalancer(strategy Strategy) *LoadBalancer {
	if strategy == "" {
		strategy = StrategyRoundRobin
	}
	return &LoadBalancer{strategy: strategy, counters: make(map[string]*uint64)}
}

// Select picks one instance out of candidates for serviceName. Callers
// must pass only instances the Registry considers healthy.
func (lb *LoadBalancer) Select(serviceName string, candidates []models.ServiceInstance) (models.ServiceInstance, error) {
	if len(candidates) == 0 {
		return models.ServiceInstance{}, errors.New(errors.NoHealthyInstance, "no healthy instance available for "+serviceName)
	}

	switch lb.strategy {
	case StrategyLeastConns:
		return lb.leastConnections(candidates), nil
	case StrategyWeighted:
		return lb.weighted(candidates), nil
	case StrategyResponseTime:
		return lb.fastestResponse(candidates), nil
	default:
		return lb.roundRobin(serviceName, candidates), nil
	}
}

func (lb *LoadBalancer) roundRobin(serviceName string, candidates []models.ServiceInstance) models.ServiceInstance {
	counter, ok := lb.counters[serviceName]
	if !ok {
		var c uint64
		counter = &c
		lb.counters[serviceName] = counter
	}
	n := atomic.AddUint64(counter, 1)
	return candidates[(n-1)%uint64(len(candidates))]
}

func (lb *LoadBalancer) leastConnections(candidates []models.ServiceInstance) models.ServiceInstance {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.ActiveConnections < best.ActiveConnections {
			best = c
		}
	}
	return best
}

// weighted picks an instance proportionally to Weight. An instance with
// weight 0 (or negative) is ineligible and never selected; if every
// candidate is weight-ineligible it falls back to the first candidate so
// Select never returns an empty choice from a non-empty input.
func (lb *LoadBalancer) weighted(candidates []models.ServiceInstance) models.ServiceInstance {
	eligible := make([]models.ServiceInstance, 0, len(candidates))
	total := 0
	for _, c := range candidates {
		if c.Weight <= 0 {
			continue
		}
		eligible = append(eligible, c)
		total += c.Weight
	}
	if len(eligible) == 0 {
		return candidates[0]
	}

	target := int(pseudoCounter()) % total
	cursor := 0
	for _, c := range eligible {
		cursor += c.Weight
		if target < cursor {
			return c
		}
	}
	return eligible[len(eligible)-1]
}

func (lb *LoadBalancer) fastestResponse(candidates []models.ServiceInstance) models.ServiceInstance {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.LastResponseTime < best.LastResponseTime {
			best = c
		}
	}
	return best
}

var weightedCounter uint64

// pseudoCounter gives the weighted strategy a monotonic, goroutine-safe
// cursor without depending on math/rand's global lock.
func pseudoCounter() uint64 {
	return atomic.AddUint64(&weightedCounter, 1)
}
