package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/worthit/pipeline/internal/cache"
	"github.com/worthit/pipeline/internal/mesh"
	"github.com/worthit/pipeline/internal/models"
	"github.com/worthit/pipeline/internal/queue"
)

var (
	queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_queue_depth",
		Help: "Number of tasks currently queued for processing.",
	})
	cacheHitRatioGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_cache_hit_ratio",
		Help: "Fraction of cache lookups served from Redis over the sampled window.",
	})
	circuitOpenGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_circuit_open",
		Help: "1 if the named service's circuit breaker is open or half-open, 0 if closed.",
	}, []string{"service"})
)

func init() {
	prometheus.MustRegister(queueDepthGauge, cacheHitRatioGauge, circuitOpenGauge)
}

// MetricsHandler serves GET /metrics: a Prometheus scrape endpoint
// fronted by Fiber via adaptor.HTTPHandler, sampling queue depth,
// cache hit ratio, and mesh circuit state on every scrape.
type MetricsHandler struct {
	queue *queue.Queue
	cache *cache.Cache
	mesh  *mesh.Mesh
}

// NewMetricsHandler wires the collaborators sampled on each scrape.
func NewMetricsHandler(q *queue.Queue, c *cache.Cache, m *mesh.Mesh) *MetricsHandler {
	return &MetricsHandler{queue: q, cache: c, mesh: m}
}

// HandleMetrics refreshes the gauges and delegates to the Prometheus
// HTTP handler for encoding.
func (h *MetricsHandler) HandleMetrics(c *fiber.Ctx) error {
	if depth, err := h.queue.Length(c.Context()); err == nil {
		queueDepthGauge.Set(float64(depth))
	}

	if ratio, err := h.cache.HitRatio(c.Context()); err == nil {
		cacheHitRatioGauge.Set(ratio)
	}

	for service, state := range h.mesh.CircuitStates() {
		value := 0.0
		if state.State != models.CircuitClosed {
			value = 1.0
		}
		circuitOpenGauge.WithLabelValues(service).Set(value)
	}

	return adaptor.HTTPHandler(promhttp.Handler())(c)
}
