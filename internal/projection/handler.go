package projection

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/splitledger/splitledger/internal/ledger"
	"github.com/splitledger/splitledger/internal/money"
	"github.com/splitledger/splitledger/internal/validation"
)

const defaultHorizon = 90 * 24 * time.Hour

// Handler exposes the shadow ledger: obligation registration, status
// transitions, and the read-only projection endpoints.
type Handler struct {
	service *Service
	repo    Repository
	store   ledger.Store
}

// NewHandler constructs a projection handler.
func NewHandler(service *Service, repo Repository, store ledger.Store) *Handler {
	return &Handler{service: service, repo: repo, store: store}
}

// Obligations lists pending shadow-ledger obligations up to a horizon date.
func (h *Handler) Obligations(c *fiber.Ctx) error {
	ledgerID, err := uuid.Parse(c.Params("ledger_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid ledger id")
	}

	horizon := time.Now().UTC().Add(defaultHorizon)
	if raw := c.Query("horizon_date"); raw != "" {
		horizon, err = time.Parse(time.DateOnly, raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "horizon_date must be YYYY-MM-DD")
		}
	}

	obligations, err := h.service.Obligations(c.UserContext(), ledgerID, horizon)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	items := make([]fiber.Map, 0, len(obligations.Items))
	for _, it := range obligations.Items {
		items = append(items, fiber.Map{
			"id":            it.ID,
			"expected_date": it.ExpectedDate.Format(time.DateOnly),
			"amount_cents":  it.Amount,
			"counterparty":  it.Counterparty,
		})
	}

	return c.JSON(fiber.Map{
		"pending_total_cents": obligations.PendingTotal,
		"pending_count":       obligations.PendingCount,
		"items":               items,
	})
}

// BreachRisk compares cash on hand against all pending obligations.
func (h *Handler) BreachRisk(c *fiber.Ctx) error {
	ledgerID, err := uuid.Parse(c.Params("ledger_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid ledger id")
	}

	cash, err := h.store.AccountBalance(c.UserContext(), ledgerID, ledger.AccountCash, "")
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	obligations, err := h.service.Obligations(c.UserContext(), ledgerID, time.Now().UTC().AddDate(10, 0, 0))
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	risk := ComputeBreachRisk(cash, obligations.PendingTotal)
	resp := fiber.Map{
		"at_risk":             risk.AtRisk,
		"shortfall_cents":     risk.Shortfall,
		"cash_cents":          cash,
		"pending_total_cents": obligations.PendingTotal,
	}
	if risk.CoverageRatio != nil {
		resp["coverage_ratio"] = *risk.CoverageRatio
	}
	return c.JSON(resp)
}

type createObligationRequest struct {
	LedgerID     string `json:"ledger_id" validate:"required,uuid"`
	ExpectedDate string `json:"expected_date" validate:"required,datetime=2006-01-02"`
	AmountCents  int64  `json:"amount_cents" validate:"required,gt=0"`
	Currency     string `json:"currency" validate:"omitempty,len=3"`
	Counterparty string `json:"counterparty" validate:"required,max=255"`
}

// Create registers a projected obligation. Nothing posts to the real ledger.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createObligationRequest
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
	expected, _ := time.Parse(time.DateOnly, req.ExpectedDate)
	pt := ProjectedTransaction{
		ID:           uuid.New(),
		LedgerID:     ledgerID,
		ExpectedDate: expected,
		Amount:       money.Cents(req.AmountCents),
		Currency:     req.Currency,
		Counterparty: req.Counterparty,
		Status:       StatusPending,
	}
	if err := h.repo.Create(c.UserContext(), pt); err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"id": pt.ID})
}

type setStatusRequest struct {
	LedgerID string `json:"ledger_id" validate:"required,uuid"`
	Status   string `json:"status" validate:"required,oneof=fulfilled cancelled"`
}

// SetStatus transitions an obligation out of pending.
func (h *Handler) SetStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid obligation id")
	}

	var req setStatusRequest
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
	if err := h.repo.SetStatus(c.UserContext(), ledgerID, id, Status(req.Status)); err != nil {
		if errors.Is(err, ErrObligationNotFound) {
			return fiber.NewError(http.StatusNotFound, "obligation not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.SendStatus(http.StatusNoContent)
}
