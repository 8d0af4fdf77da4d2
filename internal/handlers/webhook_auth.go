package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/worthit/pipeline/internal/errors"
	"github.com/worthit/pipeline/internal/security"
)

// WebhookSecretGuard rejects webhook calls that don't carry the
// configured X-Webhook-Secret header. A nil credential (no record
// provisioned yet) disables the check, since a fresh deployment has no
// way to have rotated one in yet.
func WebhookSecretGuard(cred *security.CredentialRecord) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cred == nil {
			return c.Next()
		}
		if !cred.Verify(c.Get("X-Webhook-Secret")) {
			return errors.New(errors.Validation, "invalid webhook secret")
		}
		return c.Next()
	}
}
