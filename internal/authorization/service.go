package authorization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/splitledger/splitledger/internal/ledger"
	"github.com/splitledger/splitledger/internal/notification"
	"github.com/splitledger/splitledger/internal/projection"
)

// DefaultDecisionTTL bounds how long a cached decision keeps answering
// retries of the same idempotency key.
const DefaultDecisionTTL = 2 * time.Hour

const maxIdempotencyKeyLen = 255

// Service evaluates proposed transactions against the ledger's configured
// policies before any posting occurs. It is advisory only: it never mutates
// balances, reserves funds, or executes transfers.
type Service struct {
	repo      Repository
	store     ledger.Store
	projector *projection.Service
	notifier  notification.Notifier
	logger    *slog.Logger
	ttl       time.Duration
	now       func() time.Time
}

// NewService constructs a preflight authorization service.
func NewService(repo Repository, store ledger.Store, projector *projection.Service, notifier notification.Notifier, logger *slog.Logger, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultDecisionTTL
	}
	return &Service{
		repo:      repo,
		store:     store,
		projector: projector,
		notifier:  notifier,
		logger:    logger,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Input is one preflight evaluation request.
type Input struct {
	LedgerID       uuid.UUID
	IdempotencyKey string
	Proposed       ProposedTransaction
}

// Preflight runs the evaluation pipeline: idempotency check, policy load,
// per-policy evaluation in priority order, severity resolution, persistence.
// Retries within the TTL return the cached decision unchanged even if
// policies were edited in between.
func (s *Service) Preflight(ctx context.Context, in Input) (Decision, error) {
	if err := s.validate(in); err != nil {
		return Decision{}, err
	}

	now := s.now().UTC()

	existing, err := s.repo.FindDecision(ctx, in.LedgerID, in.IdempotencyKey)
	switch {
	case err == nil && existing.ExpiresAt.After(now):
		existing.Cached = true
		return existing, nil
	case err == nil:
		// Expired: delete and evaluate fresh.
		if err := s.repo.DeleteDecision(ctx, in.LedgerID, in.IdempotencyKey); err != nil {
			return Decision{}, fmt.Errorf("delete expired decision: %w", err)
		}
	case !errors.Is(err, ErrDecisionNotFound):
		return Decision{}, err
	}

	policies, err := s.repo.ActivePolicies(ctx, in.LedgerID)
	if err != nil {
		return Decision{}, err
	}

	var violations []Violation
	for _, p := range policies {
		v, evalErr := s.evaluate(ctx, p, in)
		if evalErr != nil {
			// Fail open: a single policy's evaluation failure must not block
			// the transaction. The balance invariant is never relaxed this
			// way; only advisory checks are.
			s.logger.Warn("policy evaluation failed, skipping",
				slog.String("ledger_id", in.LedgerID.String()),
				slog.String("policy_id", p.ID.String()),
				slog.String("policy_type", string(p.Type)),
				slog.Any("error", evalErr))
			continue
		}
		if v != nil {
			violations = append(violations, *v)
		}
	}

	decision := Decision{
		LedgerID:       in.LedgerID,
		IdempotencyKey: in.IdempotencyKey,
		Proposed:       in.Proposed,
		Verdict:        Resolve(violations),
		Violations:     violations,
		ExpiresAt:      now.Add(s.ttl),
	}

	saved, err := s.repo.SaveDecision(ctx, decision)
	if err != nil {
		return Decision{}, err
	}

	if !saved.Cached && saved.Verdict == VerdictBlocked {
		s.notifier.NotifyBestEffort(ctx, notification.Event{
			Kind:     notification.KindPreflightBlocked,
			LedgerID: in.LedgerID.String(),
			Subject:  in.IdempotencyKey,
			Detail: map[string]string{
				"amount_cents": fmt.Sprintf("%d", in.Proposed.AmountCents),
				"counterparty": in.Proposed.Counterparty,
			},
		})
	}
	return saved, nil
}

func (s *Service) validate(in Input) error {
	if in.LedgerID == uuid.Nil {
		return fmt.Errorf("%w: ledger id is required", ErrInvalidInput)
	}
	if in.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrInvalidInput)
	}
	if len(in.IdempotencyKey) > maxIdempotencyKeyLen {
		return fmt.Errorf("%w: idempotency key exceeds %d characters", ErrInvalidInput, maxIdempotencyKeyLen)
	}
	if in.Proposed.AmountCents <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	return nil
}

func (s *Service) evaluate(ctx context.Context, p Policy, in Input) (*Violation, error) {
	switch p.Type {
	case PolicyRequireInstrument:
		return s.evalRequireInstrument(ctx, p, in)
	case PolicyBudgetCap:
		return s.evalBudgetCap(ctx, p, in)
	case PolicyProjectionGuard:
		return s.evalProjectionGuard(ctx, p, in)
	default:
		s.logger.Warn("unknown policy type skipped",
			slog.String("policy_id", p.ID.String()),
			slog.String("policy_type", string(p.Type)))
		return nil, nil
	}
}

func (s *Service) evalRequireInstrument(ctx context.Context, p Policy, in Input) (*Violation, error) {
	if in.Proposed.InstrumentID != nil {
		ins, err := s.repo.GetInstrument(ctx, in.LedgerID, *in.Proposed.InstrumentID)
		if errors.Is(err, ErrInstrumentNotFound) {
			return violation(p, fmt.Sprintf("authorizing instrument %s does not exist", in.Proposed.InstrumentID)), nil
		}
		if err != nil {
			return nil, err
		}
		if ins.Status != InstrumentActive {
			return violation(p, fmt.Sprintf("authorizing instrument %s is %s", ins.ID, ins.Status)), nil
		}
		return nil, nil
	}

	if in.Proposed.AmountCents > p.Config.ThresholdCents {
		return violation(p, fmt.Sprintf("amount %d exceeds threshold %d and no authorizing instrument was supplied",
			in.Proposed.AmountCents, p.Config.ThresholdCents)), nil
	}
	return nil, nil
}

func (s *Service) evalBudgetCap(ctx context.Context, p Policy, in Input) (*Violation, error) {
	loc := time.UTC
	if p.Config.Timezone != "" {
		parsed, err := time.LoadLocation(p.Config.Timezone)
		if err == nil {
			loc = parsed
		} else {
			s.logger.Warn("invalid policy timezone, using UTC",
				slog.String("policy_id", p.ID.String()),
				slog.String("timezone", p.Config.Timezone))
		}
	}

	start, end, err := PeriodBounds(p.Config.Period, s.now(), loc)
	if err != nil {
		return nil, err
	}

	spent, err := s.store.PeriodExpenseTotal(ctx, in.LedgerID, p.Config.Category, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}

	projected := spent + in.Proposed.AmountCents
	if projected > p.Config.CapCents {
		return violation(p, fmt.Sprintf("projected %s spend %d exceeds cap %d",
			p.Config.Period, projected, p.Config.CapCents)), nil
	}
	return nil, nil
}

func (s *Service) evalProjectionGuard(ctx context.Context, p Policy, in Input) (*Violation, error) {
	cash, err := s.store.AccountBalance(ctx, in.LedgerID, ledger.AccountCash, "")
	if err != nil {
		return nil, err
	}

	// All pending obligations count, regardless of how far out they fall.
	obligations, err := s.projector.Obligations(ctx, in.LedgerID, s.now().AddDate(10, 0, 0))
	if err != nil {
		return nil, err
	}

	coverage := 1.0
	if obligations.PendingTotal > 0 {
		coverage = float64(cash-in.Proposed.AmountCents) / float64(obligations.PendingTotal)
	}
	if coverage < p.Config.MinCoverageRatio {
		return violation(p, fmt.Sprintf("post-spend coverage %.2f is below required %.2f (cash %d, pending obligations %d)",
			coverage, p.Config.MinCoverageRatio, cash, obligations.PendingTotal)), nil
	}
	return nil, nil
}

func violation(p Policy, reason string) *Violation {
	return &Violation{PolicyID: p.ID, PolicyType: p.Type, Severity: p.Severity, Reason: reason}
}
