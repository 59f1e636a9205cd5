package projection

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/splitledger/splitledger/internal/money"
)

// Obligations summarizes the pending shadow-ledger obligations of a ledger.
type Obligations struct {
	PendingTotal money.Cents
	PendingCount int
	Items        []ProjectedTransaction
}

// BreachRisk reports whether current cash covers projected obligations.
// CoverageRatio is nil when there are no pending obligations, meaning fully
// covered.
type BreachRisk struct {
	AtRisk        bool
	Shortfall     money.Cents
	CoverageRatio *float64
}

// Service is the read-side projector over the shadow ledger. It never writes
// to real balances; a query failure degrades to a neutral empty result so the
// caller's primary request still succeeds.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService constructs a projector.
func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Obligations sums pending obligations expected on or before the horizon.
func (s *Service) Obligations(ctx context.Context, ledgerID uuid.UUID, horizon time.Time) (Obligations, error) {
	items, err := s.repo.PendingThrough(ctx, ledgerID, horizon)
	if err != nil {
		s.logger.Warn("obligation query failed, degrading to empty result",
			slog.String("ledger_id", ledgerID.String()), slog.Any("error", err))
		return Obligations{}, nil
	}

	var total money.Cents
	for _, it := range items {
		total += it.Amount
	}
	return Obligations{PendingTotal: total, PendingCount: len(items), Items: items}, nil
}

// ComputeBreachRisk compares cash on hand to the pending obligation total.
func ComputeBreachRisk(cashBalance, pendingTotal money.Cents) BreachRisk {
	if pendingTotal <= 0 {
		return BreachRisk{}
	}

	risk := BreachRisk{AtRisk: cashBalance < pendingTotal}
	if risk.AtRisk {
		risk.Shortfall = pendingTotal - cashBalance
	}
	ratio := float64(cashBalance) / float64(pendingTotal)
	risk.CoverageRatio = &ratio
	return risk
}
