package refund

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/splitledger/splitledger/internal/ledger"
	"github.com/splitledger/splitledger/internal/money"
	"github.com/splitledger/splitledger/internal/validation"
)

// Handler exposes the refund endpoint.
type Handler struct {
	service *Service
}

// NewHandler constructs a refund handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type refundRequest struct {
	LedgerID            string `json:"ledger_id" validate:"required,uuid"`
	OriginalReferenceID string `json:"original_reference_id" validate:"required,max=255"`
	AmountCents         int64  `json:"amount_cents" validate:"gte=0"`
	RefundFrom          string `json:"refund_from" validate:"omitempty,oneof=both platform_only creator_only"`
	Reason              string `json:"reason"`
	IdempotencyKey      string `json:"idempotency_key" validate:"max=255"`
	ExecuteProcessor    bool   `json:"execute_processor"`
}

// Refund posts a full or partial refund against an original sale.
func (h *Handler) Refund(c *fiber.Ctx) error {
	var req refundRequest
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
	res, err := h.service.Refund(c.UserContext(), Input{
		LedgerID:            ledgerID,
		OriginalReferenceID: req.OriginalReferenceID,
		Amount:              money.Cents(req.AmountCents),
		From:                ledger.RefundFrom(req.RefundFrom),
		Reason:              req.Reason,
		IdempotencyKey:      req.IdempotencyKey,
		ExecuteProcessor:    req.ExecuteProcessor,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ledger.ErrNotFound):
			return fiber.NewError(http.StatusNotFound, "original transaction not found")
		case errors.Is(err, ledger.ErrAlreadyFullyRefunded),
			errors.Is(err, ledger.ErrExceedsRefundable):
			return c.Status(http.StatusConflict).JSON(fiber.Map{
				"error":                   err.Error(),
				"original_transaction_id": res.OriginalTxID,
			})
		case errors.Is(err, ErrProcessorFailed):
			return fiber.NewError(http.StatusBadGateway, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}

	if res.Duplicate {
		return c.Status(http.StatusConflict).JSON(fiber.Map{
			"transaction_id":        res.TransactionID,
			"refunded_amount_cents": res.Amount,
			"idempotent":            true,
		})
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transaction_id":        res.TransactionID,
		"refunded_amount_cents": res.Amount,
		"breakdown": fiber.Map{
			"from_creator":  res.FromCreator,
			"from_platform": res.FromPlatform,
		},
		"is_full_refund": res.IsFullRefund,
	})
}
