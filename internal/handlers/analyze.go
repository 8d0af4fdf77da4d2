package handlers

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/worthit/pipeline/internal/errors"
	"github.com/worthit/pipeline/internal/models"
	"github.com/worthit/pipeline/internal/queue"
	"github.com/worthit/pipeline/internal/security"
	"github.com/worthit/pipeline/internal/validation"
)

// FraudSignalPersister persists a scored submission for audit. Matches
// *database.FraudSignalRepository's Save method; an interface here
// keeps handlers free of a direct database import.
type FraudSignalPersister interface {
	Save(ctx context.Context, signal security.FraudSignal) error
}

// AnalyzeHandler serves POST /analyze and GET /tasks/:id: task
// submission and status polling over the queue.
type AnalyzeHandler struct {
	queue     *queue.Queue
	fraud     *security.FraudDetector
	fraudRepo FraudSignalPersister
}

// NewAnalyzeHandler wires the queue, fraud detector, and (optionally) a
// repository to persist every fraud score for later audit. fraudRepo
// may be nil to skip persistence.
func NewAnalyzeHandler(q *queue.Queue, fraud *security.FraudDetector, fraudRepo FraudSignalPersister) *AnalyzeHandler {
	return &AnalyzeHandler{queue: q, fraud: fraud, fraudRepo: fraudRepo}
}

// HandleAnalyze enqueues a product_analysis task for the submitted URL.
func (h *AnalyzeHandler) HandleAnalyze(c *fiber.Ctx) error {
	var req models.AnalyzeRequest
	if err := c.BodyParser(&req); err != nil {
		return errors.New(errors.Validation, "request body must be valid JSON")
	}

	if err := validation.ValidateProductURL(req.URL); err != nil {
		return err
	}

	task := &models.Task{
		TaskType: models.TaskProductAnalysis,
		Data:     map[string]interface{}{"url": req.URL},
		Priority: models.PriorityNormal,
	}

	taskID, err := h.queue.Enqueue(c.Context(), task)
	if err != nil {
		return err
	}

	if h.fraud != nil {
		chatID := c.Get("X-Chat-ID")
		signal := h.fraud.Score(taskID, chatID, req.URL)

		if h.fraudRepo != nil {
			if err := h.fraudRepo.Save(c.Context(), signal); err != nil {
				slog.Error("failed to persist fraud signal", "task_id", taskID, "error", err)
			}
		}

		if signal.Flagged() {
			if err := h.queue.UpdateStatus(c.Context(), taskID, models.StatusFailed, queue.StatusPatch{
				Error: &models.TaskError{Category: "other", Message: "submission flagged by fraud detection"},
			}); err != nil {
				return err
			}
			return c.Status(fiber.StatusAccepted).JSON(models.AnalyzeResponse{Status: "rejected", TaskID: taskID})
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(models.AnalyzeResponse{
		Status:     "pending",
		TaskID:     taskID,
		ETASeconds: 30,
	})
}

// HandleGetTask serves GET /tasks/:id.
func (h *AnalyzeHandler) HandleGetTask(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := validation.ValidateTaskID(id); err != nil {
		return err
	}

	task, err := h.queue.GetByID(c.Context(), id)
	if err != nil {
		return err
	}
	if task == nil {
		return errors.New(errors.NotFound, "unknown task id")
	}

	resp := models.AnalyzeResponse{
		Status: string(task.Status),
		TaskID: task.ID,
		Result: task.Result,
	}
	return c.JSON(resp)
}
