package handlers

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/worthit/pipeline/internal/middleware"
	"github.com/worthit/pipeline/internal/models"
	"github.com/worthit/pipeline/internal/queue"
	"github.com/worthit/pipeline/internal/security"
)

func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler()})
}

func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	return queue.New(newTestRedisClient(t))
}

func TestHandleAnalyzeEnqueuesPendingTask(t *testing.T) {
	q := newTestQueue(t)
	h := NewAnalyzeHandler(q, security.NewFraudDetector(), nil)

	app := newTestApp()
	app.Post("/analyze", h.HandleAnalyze)

	body, _ := json.Marshal(models.AnalyzeRequest{URL: "https://www.amazon.it/dp/B08N5WRWNW"})
	req := httptest.NewRequest("POST", "/analyze", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	var out models.AnalyzeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "pending", out.Status)
	require.NotEmpty(t, out.TaskID)
}

func TestHandleAnalyzeRejectsInvalidURL(t *testing.T) {
	q := newTestQueue(t)
	h := NewAnalyzeHandler(q, security.NewFraudDetector(), nil)

	app := newTestApp()
	app.Post("/analyze", h.HandleAnalyze)

	body, _ := json.Marshal(models.AnalyzeRequest{URL: "not-a-url"})
	req := httptest.NewRequest("POST", "/analyze", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.NotEqual(t, fiber.StatusAccepted, resp.StatusCode)
}

func TestHandleGetTaskReturnsNotFoundForUnknownID(t *testing.T) {
	q := newTestQueue(t)
	h := NewAnalyzeHandler(q, security.NewFraudDetector(), nil)

	app := newTestApp()
	app.Get("/tasks/:id", h.HandleGetTask)

	req := httptest.NewRequest("GET", "/tasks/"+genValidUUID(), nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHandleGetTaskReturnsEnqueuedTask(t *testing.T) {
	q := newTestQueue(t)
	h := NewAnalyzeHandler(q, security.NewFraudDetector(), nil)

	app := newTestApp()
	app.Post("/analyze", h.HandleAnalyze)
	app.Get("/tasks/:id", h.HandleGetTask)

	body, _ := json.Marshal(models.AnalyzeRequest{URL: "https://www.amazon.it/dp/B08N5WRWNW"})
	postReq := httptest.NewRequest("POST", "/analyze", bytes.NewReader(body))
	postReq.Header.Set("Content-Type", "application/json")
	postResp, err := app.Test(postReq)
	require.NoError(t, err)

	var posted models.AnalyzeResponse
	require.NoError(t, json.NewDecoder(postResp.Body).Decode(&posted))

	getResp, err := app.Test(httptest.NewRequest("GET", "/tasks/"+posted.TaskID, nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, getResp.StatusCode)

	var fetched models.AnalyzeResponse
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&fetched))
	require.Equal(t, posted.TaskID, fetched.TaskID)
	require.Equal(t, "pending", fetched.Status)
}

func genValidUUID() string {
	return "00000000-0000-0000-0000-000000000000"
}
