package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/splitledger/splitledger/internal/authorization"
)

// RegisterAuthorizationRoutes wires preflight evaluation and the policy and
// instrument registries.
func RegisterAuthorizationRoutes(r fiber.Router, h *authorization.Handler) {
	r.Post("/preflight", h.Preflight)
	r.Post("/policies", h.CreatePolicy)
	r.Post("/instruments", h.CreateInstrument)
	r.Delete("/instruments/:id", h.InvalidateInstrument)
}
