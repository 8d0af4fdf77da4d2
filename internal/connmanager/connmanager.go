// Package connmanager implements C1: a process-wide, lazily-initialized
// holder of the pooled Redis connection shared by the task queue, the
// service mesh's circuit/registry state, and the cache middleware.
//
// Grounded on original_source/worker/redis/connection.py for the retry
// cadence, health-check interval, and recovery backoff, translated from
// a Python asyncio singleton into an explicit, dependency-injected Go
// type per spec §9's redesign note on global singletons.
package connmanager

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/worthit/pipeline/internal/errors"
	"github.com/worthit/pipeline/internal/models"
)

const (
	healthCheckInterval  = 60 * time.Second
	cleanupInterval      = 300 * time.Second
	consecutiveFailTrip  = 3
	getClientMaxAttempts = 3
	getClientMinBackoff  = 2 * time.Second
	getClientMaxBackoff  = 10 * time.Second
	recoveryAttempts     = 3
)

// Manager owns one pooled *redis.Client and the background health-check
// and cleanup tasks that keep it alive. Safe for concurrent use; intended
// to be constructed once per process and dependency-injected into C2/C4/C5.
type Manager struct {
	mu       sync.RWMutex
	url      string
	ssl      bool
	client   *redis.Client

	connErrors int
	metrics    models.RedisMetrics

	shuttingDown bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// New constructs a Manager for the given Redis URL. ssl forces the
// plaintext "redis://" scheme to "rediss://" when the caller's
// environment toggle requires TLS and the URL didn't already ask for it;
// it never places an explicit ssl option alongside the rediss:// scheme.
func New(redisURL string, ssl bool) *Manager {
	normalized := redisURL
	if ssl && strings.HasPrefix(normalized, "redis://") {
		normalized = "rediss://" + strings.TrimPrefix(normalized, "redis://")
	}
	return &Manager{url: normalized, ssl: ssl}
}

// Start begins the background health-check and cleanup loops. Call once
// after New; GetClient also lazily initializes if Start was never called.
func (m *Manager) Start(ctx context.Context) error {
	if _, err := m.GetClient(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(2)
	go m.healthCheckLoop(runCtx)
	go m.cleanupLoop(runCtx)

	return nil
}

// GetClient returns a ready client, retrying connection/timeout/OS-level
// errors up to getClientMaxAttempts times with exponential backoff
// between getClientMinBackoff and getClientMaxBackoff. Idempotent and
// safe for concurrent callers.
func (m *Manager) GetClient(ctx context.Context) (*redis.Client, error) {
	m.mu.Lock()
	m.metrics.ConnectionAttempts++
	m.mu.Unlock()

	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client != nil && m.ping(ctx, client) {
		return client, nil
	}

	backoff := getClientMinBackoff
	var lastErr error
	for attempt := 1; attempt <= getClientMaxAttempts; attempt++ {
		client, err := m.initialize(ctx)
		if err == nil {
			return client, nil
		}
		if appErr, ok := errors.As(err); ok && appErr.Kind == errors.Config {
			return nil, appErr
		}
		lastErr = err
		slog.Error("redis connection attempt failed", "attempt", attempt, "error", err)
		if attempt == getClientMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.Timeout)
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > getClientMaxBackoff {
			backoff = getClientMaxBackoff
		}
	}

	m.mu.Lock()
	m.metrics.ConnectionFailures++
	if lastErr != nil {
		m.metrics.LastError = lastErr.Error()
	}
	m.mu.Unlock()

	return nil, errors.New(errors.ConnectionUnavailable, fmt.Sprintf("redis unavailable after %d attempts: %v", getClientMaxAttempts, lastErr))
}

func (m *Manager) initialize(ctx context.Context) (*redis.Client, error) {
	opts, err := redis.ParseURL(m.url)
	if err != nil {
		return nil, errors.Wrap(err, errors.Config)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.DialTimeout = 10 * time.Second
	opts.ReadTimeout = 15 * time.Second
	opts.WriteTimeout = 15 * time.Second
	opts.MaxRetries = 0 // retries handled by GetClient

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	m.mu.Lock()
	if m.client != nil {
		m.client.Close()
	}
	m.client = client
	now := time.Now()
	m.metrics.LastConnectionTime = &now
	m.metrics.IsConnected = true
	m.mu.Unlock()

	slog.Info("redis client initialized", "ssl", m.ssl)
	return client, nil
}

func (m *Manager) ping(ctx context.Context, client *redis.Client) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return client.Ping(pingCtx).Err() == nil
}

// healthCheckLoop pings the store at a fixed interval; three consecutive
// failures trigger recovery.
func (m *Manager) healthCheckLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			client := m.client
			m.mu.RUnlock()
			if client == nil {
				continue
			}

			ok := m.ping(ctx, client)
			now := time.Now()

			m.mu.Lock()
			m.metrics.HealthChecks++
			m.metrics.LastHealthCheck = &now
			if ok {
				m.connErrors = 0
			} else {
				m.connErrors++
			}
			errCount := m.connErrors
			m.metrics.ConnectionErrors = int64(errCount)
			m.mu.Unlock()

			if errCount >= consecutiveFailTrip {
				slog.Warn("redis health check failing, initiating recovery", "consecutive_failures", errCount)
				m.recover(ctx)
			}
		}
	}
}

// recover closes and rebuilds the client with exponential backoff
// (1s, 2s, 4s, capped at three attempts), resetting failure counters on
// success.
func (m *Manager) recover(ctx context.Context) {
	m.mu.Lock()
	m.metrics.RecoveryAttempts++
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	m.mu.Unlock()

	backoff := 1 * time.Second
	for attempt := 0; attempt < recoveryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if _, err := m.initialize(ctx); err == nil {
			m.mu.Lock()
			m.connErrors = 0
			m.metrics.ConnectionErrors = 0
			m.metrics.SuccessfulRecoveries++
			m.mu.Unlock()
			slog.Info("redis connection recovered")
			return
		}

		backoff *= 2
	}

	slog.Error("redis recovery exhausted all attempts")
}

// cleanupLoop periodically recycles the pool.
func (m *Manager) cleanupLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			client := m.client
			m.mu.RUnlock()
			if client != nil {
				client.Conn(ctx)
			}
		}
	}
}

// Metrics returns a snapshot of the connection manager's rolling counters.
func (m *Manager) Metrics() models.RedisMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := m.metrics
	return snap
}

// Shutdown cancels background tasks and drains the client with a
// per-step timeout. Safe to call once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return nil
	}
	m.shuttingDown = true
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		slog.Warn("timeout waiting for connection manager background tasks")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		closeCtx, closeCancel := context.WithTimeout(ctx, 5*time.Second)
		defer closeCancel()
		_ = closeCtx
		err := m.client.Close()
		m.client = nil
		m.metrics.IsConnected = false
		return err
	}
	return nil
}
