package authorization

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/splitledger/splitledger/internal/money"
	"github.com/splitledger/splitledger/internal/validation"
)

// Handler exposes preflight evaluation plus policy and instrument
// registration.
type Handler struct {
	service *Service
	repo    Repository
}

// NewHandler constructs an authorization handler.
func NewHandler(service *Service, repo Repository) *Handler {
	return &Handler{service: service, repo: repo}
}

type preflightRequest struct {
	LedgerID       string `json:"ledger_id" validate:"required,uuid"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=255"`
	AmountCents    int64  `json:"amount_cents" validate:"required,gt=0"`
	Currency       string `json:"currency" validate:"omitempty,len=3"`
	Counterparty   string `json:"counterparty" validate:"max=255"`
	InstrumentID   string `json:"instrument_id" validate:"omitempty,uuid"`
	ExpectedDate   string `json:"expected_date" validate:"omitempty,datetime=2006-01-02"`
	Category       string `json:"category" validate:"max=255"`
}

// Preflight evaluates a proposed transaction against the ledger's policies
// without moving any money.
func (h *Handler) Preflight(c *fiber.Ctx) error {
	var req preflightRequest
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
	proposed := ProposedTransaction{
		AmountCents:  money.Cents(req.AmountCents),
		Currency:     req.Currency,
		Counterparty: req.Counterparty,
		Category:     req.Category,
	}
	if req.InstrumentID != "" {
		id, _ := uuid.Parse(req.InstrumentID)
		proposed.InstrumentID = &id
	}
	if req.ExpectedDate != "" {
		d, _ := time.Parse("2006-01-02", req.ExpectedDate)
		proposed.ExpectedDate = &d
	}

	decision, err := h.service.Preflight(c.UserContext(), Input{
		LedgerID:       ledgerID,
		IdempotencyKey: req.IdempotencyKey,
		Proposed:       proposed,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	violations := decision.Violations
	if violations == nil {
		violations = []Violation{}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"decision":          decision.Verdict,
		"violated_policies": violations,
		"expires_at":        decision.ExpiresAt,
		"cached":            decision.Cached,
	})
}

type createPolicyRequest struct {
	LedgerID string       `json:"ledger_id" validate:"required,uuid"`
	Type     string       `json:"type" validate:"required,oneof=require_instrument budget_cap projection_guard"`
	Severity string       `json:"severity" validate:"required,oneof=hard soft"`
	Priority int          `json:"priority" validate:"gte=0"`
	Config   PolicyConfig `json:"config"`
}

// CreatePolicy registers a new active policy for a ledger.
func (h *Handler) CreatePolicy(c *fiber.Ctx) error {
	var req createPolicyRequest
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
	p, err := h.repo.CreatePolicy(c.UserContext(), Policy{
		LedgerID: ledgerID,
		Type:     PolicyType(req.Type),
		Config:   req.Config,
		Severity: Severity(req.Severity),
		Priority: req.Priority,
		Active:   true,
	})
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"policy_id": p.ID,
		"type":      p.Type,
		"severity":  p.Severity,
		"priority":  p.Priority,
	})
}

type createInstrumentRequest struct {
	LedgerID string `json:"ledger_id" validate:"required,uuid"`
	Name     string `json:"name" validate:"required,max=255"`
}

// CreateInstrument registers an authorizing instrument such as a purchase
// order.
func (h *Handler) CreateInstrument(c *fiber.Ctx) error {
	var req createInstrumentRequest
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
	ins, err := h.repo.CreateInstrument(c.UserContext(), Instrument{
		LedgerID: ledgerID,
		Name:     req.Name,
		Status:   InstrumentActive,
	})
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"instrument_id": ins.ID,
		"status":        ins.Status,
	})
}

// InvalidateInstrument marks an instrument unusable for future preflights.
// Cached decisions that relied on it are unaffected until they expire.
func (h *Handler) InvalidateInstrument(c *fiber.Ctx) error {
	ledgerID, err := uuid.Parse(c.Query("ledger_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "ledger_id must be a uuid")
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "instrument id must be a uuid")
	}

	if err := h.repo.InvalidateInstrument(c.UserContext(), ledgerID, id); err != nil {
		if errors.Is(err, ErrInstrumentNotFound) {
			return fiber.NewError(http.StatusNotFound, "instrument not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.SendStatus(http.StatusNoContent)
}
