package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worthit/pipeline/internal/cache"
)

func newTestApp(t *testing.T) (*fiber.App, *int32) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	c := cache.New(client)
	var upstreamCalls int32

	app := fiber.New()
	app.Get("/api/v1/tasks/:id", ResponseCache(c), func(ctx *fiber.Ctx) error {
		atomic.AddInt32(&upstreamCalls, 1)
		return ctx.JSON(fiber.Map{"status": "completed", "task_id": ctx.Params("id")})
	})
	return app, &upstreamCalls
}

func TestResponseCacheServesSecondRequestFromCache(t *testing.T) {
	app, calls := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/42", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/42", nil)
	resp2, err := app.Test(req2)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp2.StatusCode)

	assert.Equal(t, int32(1), atomic.LoadInt32(calls), "a cache hit must not reach the handler")
}

func TestResponseCacheDistinguishesDifferentPaths(t *testing.T) {
	app, calls := newTestApp(t)

	for _, id := range []string{"1", "2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/"+id, nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestResponseCacheIgnoresNonGetMethods(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	c := cache.New(client)

	var calls int32
	app := fiber.New()
	app.Post("/api/v1/tasks/:id", ResponseCache(c), func(ctx *fiber.Ctx) error {
		atomic.AddInt32(&calls, 1)
		return ctx.SendStatus(fiber.StatusOK)
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/42", nil)
			_, err := app.Test(req)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "non-GET requests must always reach the handler")
}
