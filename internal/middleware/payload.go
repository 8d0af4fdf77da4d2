package middleware

import (
	"strings"
	"time"

	"github.com/worthit/pipeline/internal/models"

	"github.com/gofiber/fiber/v2"
)

const maxPayloadBytes = 1 << 20 // 1 MiB, per spec §6

// PayloadGuard rejects bodies over 1 MiB with 413 and non-JSON content
// types with 415, before the request reaches a handler or the cache
// middleware. These two statuses are literal per spec §6 and bypass the
// generic error-kind mapping in ErrorHandler.
func PayloadGuard() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodGet || c.Method() == fiber.MethodHead {
			return c.Next()
		}

		requestID := FromContext(c)

		if len(c.Body()) > maxPayloadBytes {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(models.ErrorResponse{
				Status:    "error",
				Error:     "VALIDATION",
				Message:   "request body exceeds 1 MiB limit",
				Code:      fiber.StatusRequestEntityTooLarge,
				RequestID: requestID,
				Timestamp: time.Now(),
			})
		}

		if len(c.Body()) > 0 {
			ct := c.Get(fiber.HeaderContentType)
			if !strings.HasPrefix(ct, fiber.MIMEApplicationJSON) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(models.ErrorResponse{
					Status:    "error",
					Error:     "VALIDATION",
					Message:   "content type must be application/json",
					Code:      fiber.StatusUnsupportedMediaType,
					RequestID: requestID,
					Timestamp: time.Now(),
				})
			}
		}

		return c.Next()
	}
}
