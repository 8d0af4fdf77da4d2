package middleware

import (
	"log/slog"
	"time"

	"github.com/worthit/pipeline/internal/errors"
	"github.com/worthit/pipeline/internal/models"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandler is the centralized Fiber error handler. Every response it
// produces carries {status, message, request_id} per spec §7; stack
// traces and internal identifiers never reach the caller.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID := FromContext(c)

		slog.Error("Request failed",
			"error", err,
			"method", c.Method(),
			"path", c.Path(),
			"request_id", requestID,
		)

		if appErr, ok := errors.As(err); ok {
			return c.Status(appErr.StatusCode()).JSON(models.ErrorResponse{
				Status:    "error",
				Error:     string(appErr.Kind),
				Message:   appErr.Message,
				Code:      appErr.StatusCode(),
				Timestamp: appErr.Timestamp,
				RequestID: requestID,
			})
		}

		if fiberErr, ok := err.(*fiber.Error); ok {
			kind := errors.Internal
			switch fiberErr.Code {
			case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge, fiber.StatusUnsupportedMediaType:
				kind = errors.Validation
			case fiber.StatusNotFound:
				kind = errors.NotFound
			case fiber.StatusServiceUnavailable:
				kind = errors.ConnectionUnavailable
			case fiber.StatusGatewayTimeout:
				kind = errors.Timeout
			}

			return c.Status(fiberErr.Code).JSON(models.ErrorResponse{
				Status:    "error",
				Error:     string(kind),
				Message:   fiberErr.Message,
				Code:      fiberErr.Code,
				Timestamp: time.Now(),
				RequestID: requestID,
			})
		}

		return c.Status(fiber.StatusInternalServerError).JSON(models.ErrorResponse{
			Status:    "error",
			Error:     string(errors.Internal),
			Message:   "An unexpected error occurred",
			Code:      fiber.StatusInternalServerError,
			Timestamp: time.Now(),
			RequestID: requestID,
		})
	}
}
