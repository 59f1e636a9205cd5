package posting

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/splitledger/splitledger/internal/ledger"
	"github.com/splitledger/splitledger/internal/money"
	"github.com/splitledger/splitledger/internal/validation"
)

// Handler exposes posting endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a posting handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type entryRequest struct {
	AccountType string `json:"account_type" validate:"required"`
	EntityID    string `json:"entity_id"`
	EntryType   string `json:"entry_type" validate:"required,oneof=debit credit"`
	AmountCents int64  `json:"amount_cents" validate:"gte=0"`
}

type postRequest struct {
	LedgerID    string            `json:"ledger_id" validate:"required,uuid"`
	ReferenceID string            `json:"reference_id" validate:"required,max=255"`
	Type        string            `json:"type" validate:"required"`
	Currency    string            `json:"currency" validate:"required,len=3"`
	Category    string            `json:"category"`
	Entries     []entryRequest    `json:"entries" validate:"required,min=2,dive"`
	Tags        map[string]string `json:"tags"`
}

// Post records one economic event as a balanced set of entries.
func (h *Handler) Post(c *fiber.Ctx) error {
	var req postRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation failed",
			"details": validation.Describe(err),
		})
	}

	ledgerID, _ := uuid.Parse(req.LedgerID)
	entries := make([]ledger.EntryInput, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, ledger.EntryInput{
			AccountType: ledger.AccountType(e.AccountType),
			EntityID:    e.EntityID,
			Type:        ledger.EntryType(e.EntryType),
			Amount:      money.Cents(e.AmountCents),
		})
	}

	res, err := h.service.Post(c.UserContext(), PostInput{
		LedgerID:    ledgerID,
		ReferenceID: req.ReferenceID,
		Type:        ledger.TransactionType(req.Type),
		Currency:    req.Currency,
		Category:    req.Category,
		Entries:     entries,
		Metadata:    ledger.Metadata{Tags: req.Tags},
	})
	if err != nil {
		return mapPostError(err)
	}

	status := http.StatusCreated
	if res.Status == StatusDuplicate {
		status = http.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"transaction_id": res.TransactionID,
		"status":         res.Status,
		"amount_cents":   res.Amount,
	})
}

type saleRequest struct {
	LedgerID            string            `json:"ledger_id" validate:"required,uuid"`
	ReferenceID         string            `json:"reference_id" validate:"required,max=255"`
	Currency            string            `json:"currency" validate:"required,len=3"`
	CreatorID           string            `json:"creator_id" validate:"required,max=255"`
	CreatorAmountCents  int64             `json:"creator_amount_cents" validate:"gte=0"`
	PlatformAmountCents int64             `json:"platform_amount_cents" validate:"gte=0"`
	Tags                map[string]string `json:"tags"`
}

// PostSale records a revenue-split sale.
func (h *Handler) PostSale(c *fiber.Ctx) error {
	var req saleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation failed",
			"details": validation.Describe(err),
		})
	}

	ledgerID, _ := uuid.Parse(req.LedgerID)
	res, err := h.service.PostSale(c.UserContext(), SaleInput{
		LedgerID:       ledgerID,
		ReferenceID:    req.ReferenceID,
		Currency:       req.Currency,
		CreatorID:      req.CreatorID,
		CreatorAmount:  money.Cents(req.CreatorAmountCents),
		PlatformAmount: money.Cents(req.PlatformAmountCents),
		Tags:           req.Tags,
	})
	if err != nil {
		return mapPostError(err)
	}

	status := http.StatusCreated
	if res.Status == StatusDuplicate {
		status = http.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"transaction_id": res.TransactionID,
		"status":         res.Status,
		"amount_cents":   res.Amount,
	})
}

// Balance reports a derived account balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	ledgerID, err := uuid.Parse(c.Params("ledger_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid ledger id")
	}
	accountType := ledger.AccountType(c.Params("account_type"))
	entityID := c.Query("entity_id")

	balance, err := h.service.Balance(c.UserContext(), ledgerID, accountType, entityID)
	if err != nil {
		return mapPostError(err)
	}
	return c.JSON(fiber.Map{
		"ledger_id":     ledgerID,
		"account_type":  accountType,
		"entity_id":     entityID,
		"balance_cents": balance,
		"balance":       balance.ToMajor(),
	})
}

func mapPostError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, ledger.ErrUnknownAccountType):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrUnbalanced):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
