package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/worthit/pipeline/internal/cache"
)

// ResponseCache fronts a GET route with C5's fingerprinted response
// cache: a hit short-circuits the handler chain with the stored body, a
// miss runs the handler and, on a 200 response, stores it under the
// request's fingerprint for next time. Concurrent misses for the same
// fingerprint are not coalesced: each one runs the handler chain and
// writes the cache entry.
func ResponseCache(c *cache.Cache) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if ctx.Method() != fiber.MethodGet {
			return ctx.Next()
		}

		query := make(map[string][]string)
		ctx.Context().QueryArgs().VisitAll(func(key, value []byte) {
			k := string(key)
			query[k] = append(query[k], string(value))
		})
		fingerprint := cache.Fingerprint(ctx.Path(), query)

		entry, hit, err := c.Get(ctx.Context(), ctx.Path(), fingerprint)
		if err != nil {
			slog.Warn("response cache lookup failed", "path", ctx.Path(), "error", err)
		}
		if hit {
			ctx.Set(fiber.HeaderContentType, entry.ContentType)
			return ctx.Status(fiber.StatusOK).SendString(entry.Body)
		}

		if err := ctx.Next(); err != nil {
			return err
		}

		if ctx.Response().StatusCode() != fiber.StatusOK {
			return nil
		}

		body := append([]byte(nil), ctx.Response().Body()...)
		contentType := string(ctx.Response().Header.ContentType())
		if err := c.Set(ctx.Context(), fingerprint, contentType, body); err != nil {
			slog.Warn("response cache write failed", "path", ctx.Path(), "error", err)
		}
		return nil
	}
}
