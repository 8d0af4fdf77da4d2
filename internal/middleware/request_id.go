package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// requestIDHeader is the cross-component tracing header ErrorHandler and
// downstream services key their request_id field on (spec §7).
const requestIDHeader = "X-Request-ID"

const requestIDLocal = "requestID"

// RequestID stamps every request with a tracing id: the caller's own
// X-Request-ID if it sent one (so a request can be traced across the
// gateway and worker), otherwise a freshly generated uuid. The id is
// stashed in Locals for FromContext and echoed back on the response.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Locals(requestIDLocal, requestID)
		c.Set(requestIDHeader, requestID)

		return c.Next()
	}
}

// FromContext returns the request id RequestID attached to c, falling
// back to the raw header in case a handler runs before the middleware
// (e.g. in tests that call a handler directly).
func FromContext(c *fiber.Ctx) string {
	if v, ok := c.Locals(requestIDLocal).(string); ok && v != "" {
		return v
	}
	return c.Get(requestIDHeader)
}
