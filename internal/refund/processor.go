package refund

import (
	"context"

	"github.com/google/uuid"

	"github.com/splitledger/splitledger/internal/money"
)

// ProcessorRefund is the request sent to an external payment processor to
// move real-world money back to the payer.
type ProcessorRefund struct {
	LedgerID            uuid.UUID
	OriginalReferenceID string
	Amount              money.Cents
	Currency            string
	Reason              string
}

// Processor executes refunds against an external payment processor. The call
// happens before the ledger posting is finalized: a processor failure aborts
// the ledger write entirely.
type Processor interface {
	Refund(ctx context.Context, req ProcessorRefund) (trace string, err error)
}

// StaticProcessor approves every refund without contacting anything. It stands
// in for a real processor integration in development and tests.
type StaticProcessor struct{}

// Refund returns a synthetic trace id.
func (StaticProcessor) Refund(_ context.Context, _ ProcessorRefund) (string, error) {
	return "static_" + uuid.NewString()[:8], nil
}
