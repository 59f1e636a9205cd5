package authorization

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists policies, instruments, and authorization decisions.
type Repository interface {
	// FindDecision loads the decision cached for (ledgerID, key), expired or
	// not; the service decides what an expired decision means.
	FindDecision(ctx context.Context, ledgerID uuid.UUID, key string) (Decision, error)

	// DeleteDecision removes an expired decision so a fresh one can replace it.
	DeleteDecision(ctx context.Context, ledgerID uuid.UUID, key string) error

	// SaveDecision inserts the decision under the unique
	// (ledger_id, idempotency_key) constraint. When a concurrent evaluation
	// won the insert race, the winner's row is returned with Cached=true.
	SaveDecision(ctx context.Context, d Decision) (Decision, error)

	// ActivePolicies lists the ledger's active policies in ascending
	// priority order.
	ActivePolicies(ctx context.Context, ledgerID uuid.UUID) ([]Policy, error)

	// CreatePolicy registers a policy.
	CreatePolicy(ctx context.Context, p Policy) (Policy, error)

	// CreateInstrument registers an authorizing instrument.
	CreateInstrument(ctx context.Context, ins Instrument) (Instrument, error)

	// GetInstrument loads an instrument by id within the ledger.
	GetInstrument(ctx context.Context, ledgerID, id uuid.UUID) (Instrument, error)

	// InvalidateInstrument marks an instrument unusable.
	InvalidateInstrument(ctx context.Context, ledgerID, id uuid.UUID) error
}
