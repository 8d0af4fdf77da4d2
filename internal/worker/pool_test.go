package worker

import (
	"context"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worthit/pipeline/internal/mesh"
	"github.com/worthit/pipeline/internal/models"
	"github.com/worthit/pipeline/internal/queue"
)

type fakeNotifier struct {
	successes []*models.AnalysisResult
	failures  []string
}

func (f *fakeNotifier) NotifySuccess(ctx context.Context, chatID string, result *models.AnalysisResult) error {
	f.successes = append(f.successes, result)
	return nil
}

func (f *fakeNotifier) NotifyFailure(ctx context.Context, chatID string, category string) error {
	f.failures = append(f.failures, category)
	return nil
}

func newTestPool(t *testing.T) (*Pool, *queue.Queue, *fakeNotifier) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q := queue.New(client)
	notif := &fakeNotifier{}
	p := New(Config{}, q, mesh.New(mesh.StrategyRoundRobin), notif, NewScraper("tok"), NewMLProcessor("tok"), nil, slog.Default())
	return p, q, notif
}

func TestDispatchUnknownTaskTypeFailsWithValidationCategory(t *testing.T) {
	p, q, notif := newTestPool(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, &models.Task{TaskType: "bogus", ChatID: "42"})
	require.NoError(t, err)

	task, err := q.GetByID(ctx, id)
	require.NoError(t, err)
	p.dispatch(ctx, task)

	updated, err := q.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, updated.Status)
	require.Len(t, notif.failures, 1)
	assert.Equal(t, "invalid_url", notif.failures[0])
}

func TestProcessProductAnalysisFailsFastWithoutURL(t *testing.T) {
	p, q, notif := newTestPool(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, &models.Task{TaskType: models.TaskProductAnalysis, ChatID: "42"})
	require.NoError(t, err)
	task, err := q.GetByID(ctx, id)
	require.NoError(t, err)

	p.processProductAnalysis(ctx, task)

	updated, err := q.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, updated.Status)
	assert.Len(t, notif.failures, 1)
}

func TestProcessTelegramUpdateMarksCompleted(t *testing.T) {
	p, q, _ := newTestPool(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, &models.Task{TaskType: models.TaskTelegramUpdate})
	require.NoError(t, err)
	task, err := q.GetByID(ctx, id)
	require.NoError(t, err)

	p.processTelegramUpdate(ctx, task)

	updated, err := q.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, updated.Status)
}
