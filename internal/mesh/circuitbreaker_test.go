package mesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/worthit/pipeline/internal/models"
)

func TestCircuitBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker()
	for i := 0; i < defaultFailureThreshold; i++ {
		assert.True(t, cb.Allow())
		cb.RecordFailure()
	}
	assert.Equal(t, models.CircuitOpen, cb.State("svc").State)
	assert.False(t, cb.Allow())
}

func TestCircuitBreakerHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cb := NewCircuitBreaker()
	cb.state = models.CircuitHalfOpen
	cb.lastStateChange = time.Now()

	for i := 0; i < defaultSuccessThreshold; i++ {
		cb.RecordSuccess()
	}
	assert.Equal(t, models.CircuitClosed, cb.State("svc").State)
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker()
	cb.state = models.CircuitHalfOpen
	cb.lastStateChange = time.Now()

	cb.RecordFailure()
	assert.Equal(t, models.CircuitOpen, cb.State("svc").State)
}

func TestCircuitBreakerTransitionsToHalfOpenAfterResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker()
	cb.state = models.CircuitOpen
	cb.lastStateChange = time.Now().Add(-defaultResetTimeout - time.Second)

	assert.True(t, cb.Allow())
	assert.Equal(t, models.CircuitHalfOpen, cb.State("svc").State)
}

func TestCircuitBreakerClosedResetsFailureCountOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker()
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	assert.Equal(t, 0, cb.State("svc").ConsecutiveFailures)
}
