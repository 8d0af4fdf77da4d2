// Package worker implements C3: the dispatch pool that pulls tasks off
// the queue and routes them to the scraper/sentiment pipeline or the
// Telegram update handler.
//
// Grounded on the teacher's pond-based worker pool (internal/workers/pool.go)
// for the submission/shutdown shape, and on original_source/worker/worker.py
// for the dispatch loop and per-task-type branching.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/alitto/pond"

	"github.com/worthit/pipeline/internal/errors"
	"github.com/worthit/pipeline/internal/mesh"
	"github.com/worthit/pipeline/internal/models"
	"github.com/worthit/pipeline/internal/notifier"
	"github.com/worthit/pipeline/internal/queue"
)

// pollInterval is how long Run waits after a failed dequeue before
// retrying, mirroring worker.py's brief sleep on loop errors. An empty
// dequeue is retried immediately, since Dequeue already blocks.
const pollInterval = time.Second

// autoscaleInterval is how often Run's control loop samples this
// worker's pool utilization into the mesh autoscaler and acts on the
// resulting recommendation, well under the autoscaler's 60s metrics
// window and 300s cooldown so samples actually accumulate between acts.
const autoscaleInterval = 15 * time.Second

// autoscaledServices lists the mesh services this worker drives load
// through and is therefore responsible for heartbeating/scaling.
var autoscaledServices = []string{"scraper", "sentiment"}

// ArchivePersister writes a finished task to long-retention storage.
// Matches *database.ArchiveRepository's Save method; kept as an
// interface so the worker package doesn't need a database import.
type ArchivePersister interface {
	Save(ctx context.Context, task *models.Task) error
}

// Pool drives a bounded pond worker pool consuming tasks from the
// queue and dispatching them by TaskType.
type Pool struct {
	pool     *pond.WorkerPool
	queue    *queue.Queue
	mesh     *mesh.Mesh
	notifier notifier.ChatNotifier
	scraper  *Scraper
	ml       *MLProcessor
	archive  ArchivePersister
	log      *slog.Logger
}

// Config selects pool sizing for New.
type Config struct {
	MaxWorkers   int
	MaxCapacity  int
}

// New builds a Pool with the given concurrency bounds and collaborators.
// archive may be nil to skip long-retention persistence.
func New(cfg Config, q *queue.Queue, m *mesh.Mesh, n notifier.ChatNotifier, scraper *Scraper, ml *MLProcessor, archive ArchivePersister, log *slog.Logger) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 100
	}
	return &Pool{
		pool: pond.New(
			cfg.MaxWorkers,
			cfg.MaxCapacity,
			pond.MinWorkers(1),
			pond.IdleTimeout(30*time.Second),
		),
		queue:    q,
		mesh:     m,
		notifier: n,
		scraper:  scraper,
		ml:       ml,
		archive:  archive,
		log:      log,
	}
}

// Run blocks, dequeuing tasks and submitting each to the pool for
// dispatch, until ctx is canceled.
func (p *Pool) Run(ctx context.Context) {
	p.log.Info("worker pool started")
	go p.runAutoscaleLoop(ctx)
	for {
		select {
		case <-ctx.Done():
			p.pool.StopAndWait()
			return
		default:
		}

		task, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.log.Error("dequeue failed", "error", err)
			time.Sleep(pollInterval)
			continue
		}
		if task == nil {
			continue
		}

		t := task
		p.pool.Submit(func() {
			p.dispatch(ctx, t)
		})
	}
}

// Stopped reports the number of tasks the pool is still draining.
func (p *Pool) Stopped() int {
	return int(p.pool.WaitingTasks())
}

func (p *Pool) runAutoscaleLoop(ctx context.Context) {
	ticker := time.NewTicker(autoscaleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.autoscaleTick()
		}
	}
}

// autoscaleTick heartbeats this worker's current pool utilization against
// every registered instance of the services it drives calls through,
// then acts on the mesh's resulting recommendation: scale_up registers a
// new instance on the next free port, scale_down deregisters the
// least-utilized instance.
func (p *Pool) autoscaleTick() {
	busyPct := int64(float64(p.pool.RunningWorkers()) / float64(p.pool.MaxWorkers()) * 100)

	for _, service := range autoscaledServices {
		instances := p.mesh.Instances(service)
		for _, inst := range instances {
			p.mesh.Heartbeat(service, inst.ID(), busyPct, 0)
		}

		switch p.mesh.ScalingHint(service) {
		case mesh.ScaleUp:
			p.scaleUp(service, instances)
		case mesh.ScaleDown:
			p.scaleDown(service, instances)
		}
	}
}

func (p *Pool) scaleUp(service string, instances []models.ServiceInstance) {
	if len(instances) == 0 {
		return
	}
	template := instances[0]
	nextPort := template.Port
	for _, inst := range instances {
		if inst.Port > nextPort {
			nextPort = inst.Port
		}
	}
	nextPort++

	p.mesh.Register(models.ServiceInstance{
		ServiceName: service,
		Host:        template.Host,
		Port:        nextPort,
		Status:      models.InstanceHealthy,
		Weight:      1,
	})
	p.log.Info("mesh scaled up", "service", service, "host", template.Host, "port", nextPort)
}

func (p *Pool) scaleDown(service string, instances []models.ServiceInstance) {
	if len(instances) <= 1 {
		return
	}
	least := instances[0]
	for _, inst := range instances[1:] {
		if inst.ActiveConnections < least.ActiveConnections {
			least = inst
		}
	}
	p.mesh.Deregister(least)
	p.log.Info("mesh scaled down", "service", service, "host", least.Host, "port", least.Port)
}

func (p *Pool) dispatch(ctx context.Context, task *models.Task) {
	switch task.TaskType {
	case models.TaskTelegramUpdate:
		p.processTelegramUpdate(ctx, task)
	case models.TaskProductAnalysis:
		p.processProductAnalysis(ctx, task)
	default:
		p.fail(ctx, task, errors.New(errors.Validation, "unknown task type"))
	}
}

func (p *Pool) fail(ctx context.Context, task *models.Task, err error) {
	p.log.Error("task failed", "task_id", task.ID, "error", err)
	category := "other"
	if appErr, ok := errors.As(err); ok {
		category = errors.ChatMessageKey(appErr.Kind)
	}
	patchErr := &models.TaskError{Category: category, Message: err.Error()}
	if uerr := p.queue.UpdateStatus(ctx, task.ID, models.StatusFailed, queue.StatusPatch{Error: patchErr}); uerr != nil {
		p.log.Error("failed to record task failure", "task_id", task.ID, "error", uerr)
	}
	if task.ChatID != "" {
		_ = p.notifier.NotifyFailure(ctx, task.ChatID, category)
	}
}
