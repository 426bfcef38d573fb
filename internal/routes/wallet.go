package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/campsuite/campsuite/internal/wallet"
)

// RegisterWalletRoutes wires guest-wallet endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	w := r.Group("/wallets")

	w.Get("/:guestId/balance", h.Balance)
	w.Get("/:guestId/transactions", h.Transactions)
	w.Post("/:guestId/credit", h.Credit)
	w.Post("/:guestId/refund-credit", h.RefundCredit)
	w.Post("/:guestId/debit", h.Debit)
}
