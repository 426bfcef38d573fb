package storedvalue

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/campsuite/campsuite/internal/idempotency"
)

// Handler exposes the stored-value endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a stored-value handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type issueRequest struct {
	TenantID    string            `json:"tenant_id"`
	Type        string            `json:"type"`
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	ExpiresAt   *time.Time        `json:"expires_at"`
	Code        string            `json:"code"`
	PIN         string            `json:"pin"`
	GeneratePIN bool              `json:"generate_pin"`
	Metadata    map[string]string `json:"metadata"`
	Channel     string            `json:"channel"`
}

// Issue creates a stored-value account and returns its redemption code. A
// generated PIN appears in this response only.
func (h *Handler) Issue(c *fiber.Ctx) error {
	var req issueRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.Issue(c.UserContext(), IssueInput{
		TenantID:       tenantID(c, req.TenantID),
		Type:           AccountType(req.Type),
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		ExpiresAt:      req.ExpiresAt,
		Code:           req.Code,
		PIN:            req.PIN,
		GeneratePIN:    req.GeneratePIN,
		Metadata:       req.Metadata,
		Channel:        req.Channel,
		Actor:          actor(c),
		IdempotencyKey: idempotencyKey(c),
	})
	if err != nil {
		return MapError(err)
	}

	body := fiber.Map{
		"account_id":    res.AccountID,
		"balance_cents": res.BalanceCents,
		"currency":      res.Currency,
		"code":          res.Code,
		"pin_required":  res.PINRequired,
	}
	if res.ExpiresAt != nil {
		body["expires_at"] = res.ExpiresAt
	}
	if res.PIN != "" {
		body["pin"] = res.PIN
	}
	return c.Status(http.StatusCreated).JSON(body)
}

type redeemRequest struct {
	TenantID      string `json:"tenant_id"`
	AccountID     string `json:"account_id"`
	Code          string `json:"code"`
	PIN           string `json:"pin"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id"`
	HoldOnly      bool   `json:"hold_only"`
	Channel       string `json:"channel"`
}

// Redeem spends funds, or reserves them when hold_only is set.
func (h *Handler) Redeem(c *fiber.Ctx) error {
	var req redeemRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.Redeem(c.UserContext(), RedeemInput{
		TenantID:       tenantID(c, req.TenantID),
		AccountID:      req.AccountID,
		Code:           req.Code,
		PIN:            req.PIN,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
		HoldOnly:       req.HoldOnly,
		Channel:        req.Channel,
		Actor:          actor(c),
		IdempotencyKey: idempotencyKey(c),
	})
	if err != nil {
		return MapError(err)
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

// CaptureHold converts an open hold into a completed redemption.
func (h *Handler) CaptureHold(c *fiber.Ctx) error {
	res, err := h.service.CaptureHold(c.UserContext(), HoldActionInput{
		HoldID:         c.Params("holdId"),
		Actor:          actor(c),
		IdempotencyKey: idempotencyKey(c),
	})
	if err != nil {
		return MapError(err)
	}
	return c.JSON(holdActionBody(res))
}

// ReleaseHold cancels an open hold, restoring available balance.
func (h *Handler) ReleaseHold(c *fiber.Ctx) error {
	res, err := h.service.ReleaseHold(c.UserContext(), HoldActionInput{
		HoldID:         c.Params("holdId"),
		Actor:          actor(c),
		IdempotencyKey: idempotencyKey(c),
	})
	if err != nil {
		return MapError(err)
	}
	return c.JSON(holdActionBody(res))
}

type adjustRequest struct {
	DeltaCents int64  `json:"delta_cents"`
	Reason     string `json:"reason"`
	Channel    string `json:"channel"`
}

// Adjust applies a signed manual correction to an account's balance.
func (h *Handler) Adjust(c *fiber.Ctx) error {
	var req adjustRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.Adjust(c.UserContext(), AdjustInput{
		AccountID:      c.Params("accountId"),
		DeltaCents:     req.DeltaCents,
		Reason:         req.Reason,
		Channel:        req.Channel,
		Actor:          actor(c),
		IdempotencyKey: idempotencyKey(c),
	})
	if err != nil {
		return MapError(err)
	}
	return c.JSON(fiber.Map{
		"account_id":    res.AccountID,
		"balance_cents": res.BalanceCents,
	})
}

// Hold returns a hold's current state, useful for polling a checkout that
// reserved funds.
func (h *Handler) Hold(c *fiber.Ctx) error {
	hold, err := h.service.GetHold(c.UserContext(), c.Params("holdId"))
	if err != nil {
		return MapError(err)
	}
	return c.JSON(fiber.Map{
		"hold_id":        hold.ID,
		"account_id":     hold.AccountID,
		"amount_cents":   hold.AmountCents,
		"status":         hold.Status,
		"expires_at":     hold.ExpiresAt,
		"reference_type": hold.ReferenceType,
		"reference_id":   hold.ReferenceID,
		"created_at":     hold.CreatedAt,
	})
}

// Balance returns the ledger-derived balances for an account.
func (h *Handler) Balance(c *fiber.Ctx) error {
	res, err := h.service.BalanceByAccount(c.UserContext(), c.Params("accountId"))
	if err != nil {
		return MapError(err)
	}
	return c.JSON(balanceBody(res))
}

// BalanceByCode resolves a redemption code to its balances. No PIN is
// required for a lookup.
func (h *Handler) BalanceByCode(c *fiber.Ctx) error {
	res, err := h.service.BalanceByCode(c.UserContext(), c.Params("code"))
	if err != nil {
		return MapError(err)
	}
	return c.JSON(balanceBody(res))
}

// Entries returns a page of an account's ledger history, newest first.
func (h *Handler) Entries(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	entries, total, err := h.service.ListEntries(c.UserContext(), c.Params("accountId"), limit, offset)
	if err != nil {
		return MapError(err)
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
			"channel":        e.Channel,
			"reason":         e.Reason,
			"created_at":     e.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{
		"entries": items,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

func holdActionBody(res HoldActionResult) fiber.Map {
	return fiber.Map{
		"account_id":    res.AccountID,
		"hold_id":       res.HoldID,
		"status":        res.Status,
		"balance_cents": res.BalanceCents,
	}
}

func balanceBody(res BalanceResult) fiber.Map {
	return fiber.Map{
		"account_id":      res.AccountID,
		"balance_cents":   res.BalanceCents,
		"available_cents": res.AvailableCents,
		"currency":        res.Currency,
	}
}

func idempotencyKey(c *fiber.Ctx) string {
	if key, _ := c.Locals("idempotency_key").(string); key != "" {
		return key
	}
	return c.Get("Idempotency-Key")
}

func tenantID(c *fiber.Ctx, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return c.Get("X-Tenant-ID")
}

func actor(c *fiber.Ctx) Actor {
	actorType, _ := c.Locals("actor_type").(string)
	actorID, _ := c.Locals("actor_id").(string)
	if actorType == "" {
		actorType = "staff"
	}
	return Actor{Type: actorType, ID: actorID}
}

// MapError translates engine errors into fiber errors with the right HTTP
// status. The wallet handlers reuse it so both surfaces report consistently.
func MapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrCurrencyMismatch),
		errors.Is(err, ErrMissingIdentifier),
		errors.Is(err, ErrMissingTenant),
		errors.Is(err, ErrPINFormat),
		errors.Is(err, ErrInsufficientBalance):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrPINRequired),
		errors.Is(err, ErrInvalidPIN),
		errors.Is(err, ErrAccountNotActive):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrCodeNotFound),
		errors.Is(err, ErrHoldNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrHoldNotOpen),
		errors.Is(err, ErrHoldExpired),
		errors.Is(err, ErrCodeExists),
		errors.Is(err, idempotency.ErrInFlight),
		errors.Is(err, idempotency.ErrPayloadMismatch):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
