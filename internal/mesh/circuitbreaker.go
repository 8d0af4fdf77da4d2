package mesh

import (
	"sync"
	"time"

	"github.com/worthit/pipeline/internal/models"
)

// Circuit breaker defaults, taken from original_source/api/service_mesh.py's
// ServiceMesh.circuit_breaker_config — the authoritative source per
// spec §9's Open Question resolution, not the competing
// CircuitBreakerManager class values.
const (
	defaultFailureThreshold        = 5
	defaultResetTimeout            = 60 * time.Second
	defaultHalfOpenTimeout         = 30 * time.Second
	defaultSuccessThreshold        = 2
	defaultErrorThresholdPercent   = 50.0
	defaultMinRequestThreshold     = 20
	defaultSlidingWindowSize       = 100
	defaultSlidingWindowTime       = 60 * time.Second
)

// CircuitBreaker is a per-service-instance failure detector. It
// serializes all state transitions behind one lock per instance, so
// concurrent failure/success reports are totally ordered (spec §5).
type CircuitBreaker struct {
	mu sync.Mutex

	state models.CircuitBreakerState

	consecutiveFailures  int
	halfOpenSuccesses    int
	recoveryAttempts     int
	lastFailure          time.Time
	lastStateChange      time.Time

	window []windowSample
}

type windowSample struct {
	at      time.Time
	success bool
}

// NewCircuitBreaker returns a breaker starting in the closed state.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{
		state:           models.CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// Allow reports whether a call may proceed. In open state, once
// defaultResetTimeout has elapsed since the last failure it transitions
// to half_open and allows a probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case models.CircuitClosed:
		return true
	case models.CircuitOpen:
		if time.Since(cb.lastStateChange) >= defaultResetTimeout {
			cb.transition(models.CircuitHalfOpen)
			cb.recoveryAttempts++
			return true
		}
		return false
	case models.CircuitHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful call. In half_open, successThreshold
// consecutive successes close the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.recordSample(true)

	switch cb.state {
	case models.CircuitHalfOpen:
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= defaultSuccessThreshold {
			cb.consecutiveFailures = 0
			cb.transition(models.CircuitClosed)
		}
	case models.CircuitClosed:
		cb.consecutiveFailures = 0
	}
}

// RecordFailure reports a failed call. Any failure while half_open trips
// back to open; in closed, consecutiveFailures >= failureThreshold, or a
// sliding-window error rate >= errorThresholdPercent with at least
// minRequestThreshold samples, trips to open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.recordSample(false)
	cb.consecutiveFailures++
	cb.lastFailure = time.Now()

	if cb.state == models.CircuitHalfOpen {
		cb.transition(models.CircuitOpen)
		return
	}

	if cb.consecutiveFailures >= defaultFailureThreshold {
		cb.transition(models.CircuitOpen)
		return
	}

	if cb.windowTrips() {
		cb.transition(models.CircuitOpen)
	}
}

func (cb *CircuitBreaker) recordSample(success bool) {
	now := time.Now()
	cb.window = append(cb.window, windowSample{at: now, success: success})

	cutoff := now.Add(-defaultSlidingWindowTime)
	start := 0
	for start < len(cb.window) && cb.window[start].at.Before(cutoff) {
		start++
	}
	cb.window = cb.window[start:]

	if len(cb.window) > defaultSlidingWindowSize {
		cb.window = cb.window[len(cb.window)-defaultSlidingWindowSize:]
	}
}

func (cb *CircuitBreaker) windowTrips() bool {
	if len(cb.window) < defaultMinRequestThreshold {
		return false
	}
	failures := 0
	for _, s := range cb.window {
		if !s.success {
			failures++
		}
	}
	rate := float64(failures) / float64(len(cb.window)) * 100
	return rate >= defaultErrorThresholdPercent
}

func (cb *CircuitBreaker) transition(to models.CircuitBreakerState) {
	cb.state = to
	cb.lastStateChange = time.Now()
	cb.halfOpenSuccesses = 0
}

// State returns a snapshot of the breaker's bookkeeping for a given
// service id.
func (cb *CircuitBreaker) State(serviceID string) models.CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return models.CircuitState{
		ServiceID:            serviceID,
		State:                cb.state,
		ConsecutiveFailures:  cb.consecutiveFailures,
		LastFailure:          cb.lastFailure,
		LastStateChange:      cb.lastStateChange,
		HalfOpenSuccessCount: cb.halfOpenSuccesses,
		RecoveryAttemptCount: cb.recoveryAttempts,
	}
}
