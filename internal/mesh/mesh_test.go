package mesh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipelineerrors "github.com/worthit/pipeline/internal/errors"
	"github.com/worthit/pipeline/internal/models"
)

func TestDoReturnsNoHealthyInstanceWithoutRegisteredBackends(t *testing.T) {
	m := New(StrategyRoundRobin)
	err := m.Do(context.Background(), "scraper", "req-1", func(ctx context.Context, inst models.ServiceInstance) error {
		t.Fatal("fn must not run without a healthy instance")
		return nil
	})
	require.Error(t, err)
}

func TestDoRecordsFailureOnBreaker(t *testing.T) {
	m := New(StrategyRoundRobin)
	inst := models.ServiceInstance{ServiceName: "scraper", Host: "a", Port: 1}
	m.Register(inst)

	boom := errors.New("boom")
	err := m.Do(context.Background(), "scraper", "req-1", func(ctx context.Context, i models.ServiceInstance) error {
		return boom
	})
	assert.Equal(t, boom, err)

	states := m.CircuitStates()
	assert.Equal(t, 1, states[inst.ID()].ConsecutiveFailures)
}

func TestDoRecordsSuccessOnBreaker(t *testing.T) {
	m := New(StrategyRoundRobin)
	inst := models.ServiceInstance{ServiceName: "scraper", Host: "a", Port: 1}
	m.Register(inst)

	err := m.Do(context.Background(), "scraper", "req-1", func(ctx context.Context, i models.ServiceInstance) error {
		return nil
	})
	require.NoError(t, err)
}

func TestDoReturnsCircuitOpenOnceBreakerTrips(t *testing.T) {
	m := New(StrategyRoundRobin)
	inst := models.ServiceInstance{ServiceName: "scraper", Host: "a", Port: 1}
	m.Register(inst)

	boom := errors.New("boom")
	for i := 0; i < defaultFailureThreshold; i++ {
		err := m.Do(context.Background(), "scraper", "req-1", func(ctx context.Context, i models.ServiceInstance) error {
			return boom
		})
		require.Error(t, err)
	}

	err := m.Do(context.Background(), "scraper", "req-1", func(ctx context.Context, i models.ServiceInstance) error {
		t.Fatal("fn must not run once the circuit is open")
		return nil
	})
	require.Error(t, err)
	var appErr *pipelineerrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, pipelineerrors.CircuitOpen, appErr.Kind)
}

func TestDoCoalescesConcurrentCallsForSameKey(t *testing.T) {
	m := New(StrategyRoundRobin)
	m.Register(models.ServiceInstance{ServiceName: "scraper", Host: "a", Port: 1})

	var calls int32
	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Do(context.Background(), "scraper", "same-url", func(ctx context.Context, inst models.ServiceInstance) error {
				atomic.AddInt32(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				return nil
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "concurrent Do calls for the same key must share one upstream invocation")
}
