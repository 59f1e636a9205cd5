package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/splitledger/splitledger/internal/projection"
)

// RegisterProjectionRoutes wires the shadow-ledger endpoints.
func RegisterProjectionRoutes(r fiber.Router, h *projection.Handler) {
	r.Post("/obligations", h.Create)
	r.Patch("/obligations/:id", h.SetStatus)
	r.Get("/ledgers/:ledger_id/obligations", h.Obligations)
	r.Get("/ledgers/:ledger_id/breach-risk", h.BreachRisk)
}
