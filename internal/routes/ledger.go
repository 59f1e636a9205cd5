package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/splitledger/splitledger/internal/posting"
	"github.com/splitledger/splitledger/internal/refund"
)

// RegisterLedgerRoutes wires posting, refund, and balance endpoints.
func RegisterLedgerRoutes(r fiber.Router, postings *posting.Handler, refunds *refund.Handler) {
	r.Post("/transactions", postings.Post)
	r.Post("/sales", postings.PostSale)
	r.Post("/refunds", refunds.Refund)
	r.Get("/ledgers/:ledger_id/accounts/:account_type/balance", postings.Balance)
}
