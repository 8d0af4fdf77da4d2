package handlers

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/worthit/pipeline/internal/cache"
	"github.com/worthit/pipeline/internal/mesh"
)

func TestHandleMetricsServesPrometheusExposition(t *testing.T) {
	q := newTestQueue(t)
	c := cache.New(newTestRedisClient(t))
	m := mesh.New(mesh.StrategyRoundRobin)

	h := NewMetricsHandler(q, c, m)

	app := newTestApp()
	app.Get("/metrics", h.HandleMetrics)

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
}
