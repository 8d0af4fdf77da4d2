// Package handlers holds the gateway's HTTP endpoints: health, task
// submission, the Telegram webhook, and Prometheus metrics.
package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/worthit/pipeline/internal/config"
	"github.com/worthit/pipeline/internal/connmanager"
	"github.com/worthit/pipeline/internal/mesh"
	"github.com/worthit/pipeline/internal/queue"
)

// HealthHandler reports gateway readiness: Redis connectivity, queue
// depth, and how many scraper/sentiment instances the mesh has
// registered. Circuit-breaker state is not included.
type HealthHandler struct {
	config *config.Config
	conn   *connmanager.Manager
	queue  *queue.Queue
	mesh   *mesh.Mesh
}

// NewHealthHandler wires the collaborators a health check inspects.
func NewHealthHandler(cfg *config.Config, conn *connmanager.Manager, q *queue.Queue, m *mesh.Mesh) *HealthHandler {
	return &HealthHandler{config: cfg, conn: conn, queue: q, mesh: m}
}

// HandleHealth reports GET /health.
func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	metrics := h.conn.Metrics()

	queueDepth := int64(-1)
	if length, err := h.queue.Length(c.Context()); err == nil {
		queueDepth = length
	}

	status := "ok"
	if !metrics.IsConnected {
		status = "degraded"
	}

	return c.JSON(fiber.Map{
		"status":            status,
		"timestamp":         time.Now(),
		"environment":       h.config.Server.Environment,
		"redis_connected":   metrics.IsConnected,
		"redis_metrics":     metrics,
		"queue_depth":       queueDepth,
		"scraper_instances": len(h.mesh.Instances("scraper")),
		"sentiment_instances": len(h.mesh.Instances("sentiment")),
	})
}
