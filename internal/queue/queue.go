// Package queue implements C2: a durable, priority-aware FIFO of Task
// records backed by Redis lists, plus per-task status records addressed
// by id.
//
// Grounded on other_examples' muaviaUsmani-Bananas Redis queue (pipelined
// writes; Dequeue uses a plain BRPOP, without that queue's BRPopLPush
// processing-list handoff) and on
// original_source/worker/queue.py, which fixes the base queue name
// ("worthit_tasks") used here for the normal-priority list.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/worthit/pipeline/internal/errors"
	"github.com/worthit/pipeline/internal/models"
)

const (
	highPriorityKey = "worthit_tasks_high"
	normalKey       = "worthit_tasks"
	statusKeyPrefix = "task:"

	dequeueTimeout = 5 * time.Second
	// normalDequeueRatio: every Nth dequeue must come from normal if
	// non-empty, preventing high-priority starvation of normal tasks.
	normalDequeueRatio = 4
)

// Queue is the Redis-backed priority task queue.
type Queue struct {
	client       *redis.Client
	dequeueCount int64
}

// New wraps an established Redis client as a Queue.
func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

func keyFor(p models.Priority) string {
	if p == models.PriorityHigh {
		return highPriorityKey
	}
	return normalKey
}

func statusKey(id string) string {
	return statusKeyPrefix + id
}

// Enqueue assigns an id if absent, sets status=pending and the creation
// timestamp, pushes the task onto its priority list, and writes the
// status record — atomically, via a pipelined transaction.
func (q *Queue) Enqueue(ctx context.Context, task *models.Task) (string, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Priority == "" {
		task.Priority = models.PriorityNormal
	}
	task.Status = models.StatusPending
	task.CreatedAt = time.Now()

	body, err := json.Marshal(task)
	if err != nil {
		return "", errors.Wrap(err, errors.Internal)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, keyFor(task.Priority), body)
		pipe.Set(ctx, statusKey(task.ID), body, 0)
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ConnectionUnavailable)
	}

	return task.ID, nil
}

// Dequeue blocks on a tail-pop across the high then normal lists with a
// bounded timeout, honoring the anti-starvation ratio: every
// normalDequeueRatio'th call checks normal first if non-empty. On
// success it marks the task processing and returns it; on timeout it
// returns (nil, nil) and the caller loops.
func (q *Queue) Dequeue(ctx context.Context) (*models.Task, error) {
	q.dequeueCount++
	order := []string{highPriorityKey, normalKey}
	if q.dequeueCount%normalDequeueRatio == 0 {
		if n, _ := q.client.LLen(ctx, normalKey).Result(); n > 0 {
			order = []string{normalKey, highPriorityKey}
		}
	}

	popCtx, cancel := context.WithTimeout(ctx, dequeueTimeout)
	defer cancel()

	result, err := q.client.BRPop(popCtx, dequeueTimeout, order...).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if popCtx.Err() != nil {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ConnectionUnavailable)
	}

	var task models.Task
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return nil, errors.Wrap(err, errors.Internal)
	}

	now := time.Now()
	task.Status = models.StatusProcessing
	task.StartTime = &now

	if err := q.writeStatus(ctx, &task); err != nil {
		return nil, err
	}

	return &task, nil
}

// GetByID returns the current status record for a task, or nil if
// unknown.
func (q *Queue) GetByID(ctx context.Context, id string) (*models.Task, error) {
	val, err := q.client.Get(ctx, statusKey(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ConnectionUnavailable)
	}

	var task models.Task
	if err := json.Unmarshal([]byte(val), &task); err != nil {
		return nil, errors.Wrap(err, errors.Internal)
	}
	return &task, nil
}

// StatusPatch is the set of fields UpdateStatus may merge into a stored
// task record.
type StatusPatch struct {
	RetryCount *int
	Error      *models.TaskError
	Result     *models.AnalysisResult
}

// UpdateStatus merges status and an optional patch into the stored
// record. A transition into a terminal state records the end timestamp.
// Once a task reaches a terminal state, further calls are no-ops: neither
// the status nor the patch is written (I2: no regression from terminal
// state).
func (q *Queue) UpdateStatus(ctx context.Context, id string, status models.TaskStatus, patch StatusPatch) error {
	task, err := q.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return errors.New(errors.NotFound, "unknown task id")
	}

	if isTerminal(task.Status) {
		return nil
	}

	task.Status = status
	if isTerminal(status) {
		now := time.Now()
		task.EndTime = &now
	}
	if patch.RetryCount != nil {
		task.RetryCount = *patch.RetryCount
	}
	if patch.Error != nil {
		task.Error = patch.Error
	}
	if patch.Result != nil {
		task.Result = patch.Result
	}

	return q.writeStatus(ctx, task)
}

func (q *Queue) writeStatus(ctx context.Context, task *models.Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return errors.Wrap(err, errors.Internal)
	}
	if err := q.client.Set(ctx, statusKey(task.ID), body, 0).Err(); err != nil {
		return errors.Wrap(err, errors.ConnectionUnavailable)
	}
	return nil
}

// Requeue re-enqueues a task at the tail of its priority list after a
// retryable failure, incrementing its retry counter.
func (q *Queue) Requeue(ctx context.Context, task *models.Task) error {
	task.RetryCount++
	task.Status = models.StatusPending
	task.StartTime = nil

	body, err := json.Marshal(task)
	if err != nil {
		return errors.Wrap(err, errors.Internal)
	}

	_, err = q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, keyFor(task.Priority), body)
		pipe.Set(ctx, statusKey(task.ID), body, 0)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.ConnectionUnavailable)
	}
	return nil
}

func isTerminal(s models.TaskStatus) bool {
	return s == models.StatusCompleted || s == models.StatusFailed
}

// Length returns the combined length of both priority lists.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	high, err := q.client.LLen(ctx, highPriorityKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, errors.ConnectionUnavailable)
	}
	normal, err := q.client.LLen(ctx, normalKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, errors.ConnectionUnavailable)
	}
	return high + normal, nil
}
