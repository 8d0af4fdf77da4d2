package handlers

import (
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"

	"github.com/worthit/pipeline/internal/errors"
	"github.com/worthit/pipeline/internal/models"
	"github.com/worthit/pipeline/internal/queue"
)

// WebhookHandler serves POST /webhook: Telegram pushes bot updates here,
// which are enqueued as telegram_update tasks and, when the update
// carries a /analyze command, a chained product_analysis task.
type WebhookHandler struct {
	queue *queue.Queue
}

// NewWebhookHandler wires the queue.
func NewWebhookHandler(q *queue.Queue) *WebhookHandler {
	return &WebhookHandler{queue: q}
}

// HandleWebhook parses an incoming Telegram update and enqueues work.
func (h *WebhookHandler) HandleWebhook(c *fiber.Ctx) error {
	var update tgbotapi.Update
	if err := c.BodyParser(&update); err != nil {
		return errors.New(errors.Validation, "invalid telegram update payload")
	}

	if update.Message == nil {
		return c.SendStatus(fiber.StatusOK)
	}

	chatID := strconv.FormatInt(update.Message.Chat.ID, 10)

	if _, err := h.queue.Enqueue(c.Context(), &models.Task{
		TaskType: models.TaskTelegramUpdate,
		ChatID:   chatID,
		Priority: models.PriorityHigh,
		Data:     map[string]interface{}{"text": update.Message.Text},
	}); err != nil {
		return err
	}

	if url, ok := extractProductURL(update.Message.Text); ok {
		if _, err := h.queue.Enqueue(c.Context(), &models.Task{
			TaskType: models.TaskProductAnalysis,
			ChatID:   chatID,
			Priority: models.PriorityNormal,
			Data:     map[string]interface{}{"url": url},
		}); err != nil {
			return err
		}
	}

	return c.SendStatus(fiber.StatusOK)
}

// extractProductURL pulls a bare URL out of a /analyze command or a
// plain pasted link, the two ways worker.py's bot commands accept a
// product.
func extractProductURL(text string) (string, bool) {
	const cmdPrefix = "/analyze "
	if len(text) > len(cmdPrefix) && text[:len(cmdPrefix)] == cmdPrefix {
		return text[len(cmdPrefix):], true
	}
	if len(text) > 8 && (text[:7] == "http://" || text[:8] == "https://") {
		return text, true
	}
	return "", false
}
