package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyKeyLocal  = "idempotency_key"

	maxIdempotencyKeyLen = 128
)

// IdempotencyKey extracts the Idempotency-Key header for unsafe methods and
// stashes it in locals for the handlers. Execution-level dedup happens in the
// engine against the relational key store; this layer only validates shape,
// so a crashed process or a second instance cannot disagree with the ledger
// about whether a key ran.
func IdempotencyKey(required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" {
			if required {
				return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
			}
			return c.Next()
		}
		if len(key) > maxIdempotencyKeyLen {
			return fiber.NewError(fiber.StatusBadRequest, "Idempotency-Key too long")
		}

		c.Locals(idempotencyKeyLocal, key)
		return c.Next()
	}
}
