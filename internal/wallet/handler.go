package wallet

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/campsuite/campsuite/internal/storedvalue"
)

// Handler exposes guest-wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a guest-wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type creditRequest struct {
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id"`
	Channel       string `json:"channel"`
}

// Credit grants store credit to a guest's wallet.
func (h *Handler) Credit(c *fiber.Ctx) error {
	return h.credit(c, h.service.AddCredit)
}

// RefundCredit routes a refund into a guest's wallet.
func (h *Handler) RefundCredit(c *fiber.Ctx) error {
	return h.credit(c, h.service.CreditFromRefund)
}

func (h *Handler) credit(c *fiber.Ctx, apply func(ctx context.Context, in CreditInput) (storedvalue.CreditResult, error)) error {
	var req creditRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := apply(c.UserContext(), CreditInput{
		TenantID:       c.Get("X-Tenant-ID"),
		GuestID:        c.Params("guestId"),
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		Reason:         req.Reason,
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
		Channel:        req.Channel,
		Actor:          actorFromCtx(c),
		IdempotencyKey: c.Get("Idempotency-Key"),
	})
	if err != nil {
		return storedvalue.MapError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"account_id":    res.AccountID,
		"balance_cents": res.BalanceCents,
		"entry_id":      res.EntryID,
	})
}

type debitRequest struct {
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id"`
	HoldOnly      bool   `json:"hold_only"`
	Channel       string `json:"channel"`
}

// Debit spends wallet funds toward a charge, optionally as a hold.
func (h *Handler) Debit(c *fiber.Ctx) error {
	var req debitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.DebitForPayment(c.UserContext(), DebitInput{
		TenantID:       c.Get("X-Tenant-ID"),
		GuestID:        c.Params("guestId"),
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
		HoldOnly:       req.HoldOnly,
		Channel:        req.Channel,
		Actor:          actorFromCtx(c),
		IdempotencyKey: c.Get("Idempotency-Key"),
	})
	if err != nil {
		return storedvalue.MapError(err)
	}

	body := fiber.Map{
		"account_id":      res.AccountID,
		"balance_cents":   res.BalanceCents,
		"available_cents": res.AvailableCents,
	}
	if res.HoldID != "" {
		body["hold_id"] = res.HoldID
		body["hold_expires_at"] = res.HoldExpiresAt
	}
	return c.Status(http.StatusCreated).JSON(body)
}

// Balance returns the guest's wallet balances.
func (h *Handler) Balance(c *fiber.Ctx) error {
	res, err := h.service.Balance(c.UserContext(), c.Get("X-Tenant-ID"), c.Params("guestId"))
	if err != nil {
		return storedvalue.MapError(err)
	}
	return c.JSON(fiber.Map{
		"account_id":      res.AccountID,
		"balance_cents":   res.BalanceCents,
		"available_cents": res.AvailableCents,
		"currency":        res.Currency,
	})
}

// Transactions returns a page of the wallet's ledger history.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	entries, total, err := h.service.Transactions(c.UserContext(), c.Get("X-Tenant-ID"), c.Params("guestId"), limit, offset)
	if err != nil {
		return storedvalue.MapError(err)
	}

	items := make([]fiber.Map, 0, len(entries))
	for _, e := range entries {
		items = append(items, fiber.Map{
			"id":             e.ID,
			"direction":      e.Direction,
			"amount_cents":   e.AmountCents,
			"currency":       e.Currency,
			"reference_type": e.ReferenceType,
			"reference_id":   e.ReferenceID,
			"reason":         e.Reason,
			"created_at":     e.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{
		"transactions": items,
		"total":        total,
		"limit":        limit,
		"offset":       offset,
	})
}

func actorFromCtx(c *fiber.Ctx) storedvalue.Actor {
	actorType, _ := c.Locals("actor_type").(string)
	actorID, _ := c.Locals("actor_id").(string)
	if actorType == "" {
		actorType = "guest"
	}
	return storedvalue.Actor{Type: actorType, ID: actorID}
}
