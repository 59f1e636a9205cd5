package projection

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/splitledger/splitledger/internal/money"
)

// ErrObligationNotFound indicates the projected transaction does not exist in
// the ledger.
var ErrObligationNotFound = errors.New("projected transaction not found")

// Status tracks the lifecycle of a projected obligation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
	StatusCancelled Status = "cancelled"
)

// ProjectedTransaction is a ghost entry: a future expected cash movement
// derived from a contract or subscription cadence. It never participates in
// real balance computation.
type ProjectedTransaction struct {
	ID           uuid.UUID
	LedgerID     uuid.UUID
	ExpectedDate time.Time
	Amount       money.Cents
	Currency     string
	Counterparty string
	Status       Status
	CreatedAt    time.Time
}

// Repository reads and maintains projected transactions. It has no access to
// accounts, transactions, or entries; the shadow ledger is a parallel,
// non-authoritative record.
type Repository interface {
	// Create registers a projected obligation. Called by the intent
	// projection collaborator, not by the read path.
	Create(ctx context.Context, pt ProjectedTransaction) error

	// PendingThrough lists pending obligations expected on or before the
	// horizon, oldest first.
	PendingThrough(ctx context.Context, ledgerID uuid.UUID, horizon time.Time) ([]ProjectedTransaction, error)

	// SetStatus transitions an obligation to fulfilled or cancelled.
	SetStatus(ctx context.Context, ledgerID, id uuid.UUID, status Status) error
}
