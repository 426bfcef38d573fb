package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/campsuite/campsuite/internal/storedvalue"
)

// RegisterStoredValueRoutes wires the stored-value endpoints. The rate
// limiter guards the PIN-bearing redemption path only.
func RegisterStoredValueRoutes(r fiber.Router, h *storedvalue.Handler, redeemLimiter fiber.Handler) {
	sv := r.Group("/stored-value")

	sv.Post("/issue", h.Issue)
	sv.Post("/redeem", redeemLimiter, h.Redeem)
	sv.Get("/holds/:holdId", h.Hold)
	sv.Post("/holds/:holdId/capture", h.CaptureHold)
	sv.Post("/holds/:holdId/release", h.ReleaseHold)
	sv.Post("/accounts/:accountId/adjust", h.Adjust)
	sv.Get("/accounts/:accountId/balance", h.Balance)
	sv.Get("/accounts/:accountId/entries", h.Entries)
	sv.Get("/codes/:code/balance", h.BalanceByCode)
}
