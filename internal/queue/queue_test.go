package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/worthit/pipeline/internal/models"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client)
}

func TestEnqueueAssignsIDAndPendingStatus(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, &models.Task{
		TaskType: models.TaskProductAnalysis,
		Data:     map[string]interface{}{"url": "https://example.com/p"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	task, err := q.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, task.Status)
}

func TestHighPriorityDequeuedBeforeNormal(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, &models.Task{TaskType: models.TaskProductAnalysis, Priority: models.PriorityNormal})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, &models.Task{TaskType: models.TaskProductAnalysis, Priority: models.PriorityNormal})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, &models.Task{TaskType: models.TaskProductAnalysis, Priority: models.PriorityNormal})
	require.NoError(t, err)
	highID, err := q.Enqueue(ctx, &models.Task{TaskType: models.TaskProductAnalysis, Priority: models.PriorityHigh})
	require.NoError(t, err)

	task, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, highID, task.ID)
	require.Equal(t, models.StatusProcessing, task.Status)
}

func TestDequeueOnEmptyQueueReturnsNilWithoutError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	q := New(client)

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()

	task, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Nil(t, task)
}

func TestUpdateStatusDoesNotRegressFromTerminalState(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, &models.Task{TaskType: models.TaskProductAnalysis})
	require.NoError(t, err)

	require.NoError(t, q.UpdateStatus(ctx, id, models.StatusCompleted, StatusPatch{}))
	require.NoError(t, q.UpdateStatus(ctx, id, models.StatusFailed, StatusPatch{}))

	task, err := q.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, task.Status, "a completed task must never regress to failed")
}

func TestUpdateStatusIsIdempotent(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, &models.Task{TaskType: models.TaskProductAnalysis})
	require.NoError(t, err)

	require.NoError(t, q.UpdateStatus(ctx, id, models.StatusProcessing, StatusPatch{}))
	require.NoError(t, q.UpdateStatus(ctx, id, models.StatusProcessing, StatusPatch{}))

	task, err := q.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.StatusProcessing, task.Status)
}
