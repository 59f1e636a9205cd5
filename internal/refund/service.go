package refund

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/splitledger/splitledger/internal/ledger"
	"github.com/splitledger/splitledger/internal/money"
	"github.com/splitledger/splitledger/internal/notification"
)

var (
	// ErrInvalidInput indicates a malformed refund request.
	ErrInvalidInput = errors.New("invalid refund input")

	// ErrProcessorFailed indicates the external processor refused the refund;
	// nothing was written to the ledger.
	ErrProcessorFailed = errors.New("processor refund failed")

	// ErrReconciliationRequired indicates the processor refund succeeded but
	// the ledger write failed afterwards. Real-world money has moved without
	// a matching ledger record; the discrepancy is surfaced for manual
	// reconciliation, never silently swallowed.
	ErrReconciliationRequired = errors.New("processor refunded but ledger write failed, manual reconciliation required")
)

// Service resolves how much of an original transaction remains refundable and
// posts reversing entries through the store's atomic refund operation.
type Service struct {
	store     ledger.Store
	processor Processor
	notifier  notification.Notifier
	logger    *slog.Logger
}

// NewService constructs a refund service. The processor is optional; when nil
// only ledger accounting is performed.
func NewService(store ledger.Store, processor Processor, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{store: store, processor: processor, notifier: notifier, logger: logger}
}

// Input describes one refund intent.
type Input struct {
	LedgerID            uuid.UUID
	OriginalReferenceID string
	Amount              money.Cents // zero means "refund whatever remains"
	From                ledger.RefundFrom
	Reason              string
	IdempotencyKey      string
	ExecuteProcessor    bool
}

// Result reports the committed refund.
type Result struct {
	TransactionID uuid.UUID
	Amount        money.Cents
	FromCreator   money.Cents
	FromPlatform  money.Cents
	IsFullRefund  bool
	Duplicate     bool
	OriginalTxID  uuid.UUID
}

// Refund validates the request, optionally executes the processor-side
// refund, and posts the reversing entries atomically. Identical retries of
// the same refund intent collapse onto one transaction through the derived
// reference id; distinct partial refunds of the same sale each post.
func (s *Service) Refund(ctx context.Context, in Input) (Result, error) {
	if err := s.validate(in); err != nil {
		return Result{}, err
	}

	original, err := s.store.FindByReference(ctx, in.LedgerID, in.OriginalReferenceID)
	if err != nil {
		return Result{}, err
	}
	if original.Status == ledger.StatusReversed {
		return Result{OriginalTxID: original.ID}, fmt.Errorf("%w: transaction %s", ledger.ErrAlreadyFullyRefunded, original.ID)
	}

	refunded, err := s.store.RefundedTotal(ctx, in.LedgerID, original.ID)
	if err != nil {
		return Result{}, err
	}
	remaining := original.Amount - refunded
	if remaining <= 0 {
		return Result{OriginalTxID: original.ID}, fmt.Errorf("%w: transaction %s", ledger.ErrAlreadyFullyRefunded, original.ID)
	}

	amount := in.Amount
	if amount == 0 {
		amount = remaining
	}
	if amount > remaining {
		return Result{OriginalTxID: original.ID}, fmt.Errorf("%w: requested %d, remaining %d", ledger.ErrExceedsRefundable, amount, remaining)
	}

	referenceID := s.referenceID(in, original.ID)

	// A retried intent must not re-charge the processor: the ledger write
	// dedupes on the reference id, but real-world money would move again.
	existing, err := s.store.FindByReference(ctx, in.LedgerID, referenceID)
	switch {
	case err == nil:
		return duplicateResult(existing, original.ID), nil
	case !errors.Is(err, ledger.ErrNotFound):
		return Result{}, err
	}

	trace := ""
	if in.ExecuteProcessor && s.processor != nil {
		trace, err = s.processor.Refund(ctx, ProcessorRefund{
			LedgerID:            in.LedgerID,
			OriginalReferenceID: in.OriginalReferenceID,
			Amount:              amount,
			Currency:            original.Currency,
			Reason:              in.Reason,
		})
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrProcessorFailed, err)
		}
	}

	outcome, err := s.store.CreateRefund(ctx, ledger.RefundRequest{
		LedgerID:            in.LedgerID,
		OriginalReferenceID: in.OriginalReferenceID,
		ReferenceID:         referenceID,
		Amount:              amount,
		From:                in.From,
		Reason:              in.Reason,
		ProcessorTrace:      trace,
	})
	if err != nil {
		if trace != "" {
			s.logger.Error("ledger refund failed after processor success",
				slog.String("ledger_id", in.LedgerID.String()),
				slog.String("original_reference_id", in.OriginalReferenceID),
				slog.String("processor_trace", trace),
				slog.Any("error", err))
			s.notifier.NotifyBestEffort(ctx, notification.Event{
				Kind:     notification.KindReconciliationRequired,
				LedgerID: in.LedgerID.String(),
				Subject:  in.OriginalReferenceID,
				Detail:   map[string]string{"processor_trace": trace, "error": err.Error()},
			})
			return Result{}, fmt.Errorf("%w: %v", ErrReconciliationRequired, err)
		}
		return Result{OriginalTxID: original.ID}, err
	}

	return Result{
		TransactionID: outcome.TransactionID,
		Amount:        outcome.Amount,
		FromCreator:   outcome.FromCreator,
		FromPlatform:  outcome.FromPlatform,
		IsFullRefund:  outcome.IsFullRefund,
		Duplicate:     outcome.Duplicate,
		OriginalTxID:  outcome.OriginalTxID,
	}, nil
}

func (s *Service) validate(in Input) error {
	if in.LedgerID == uuid.Nil {
		return fmt.Errorf("%w: ledger id is required", ErrInvalidInput)
	}
	if in.OriginalReferenceID == "" {
		return fmt.Errorf("%w: original reference id is required", ErrInvalidInput)
	}
	if in.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
	}
	switch in.From {
	case ledger.RefundBoth, ledger.RefundPlatformOnly, ledger.RefundCreatorOnly, "":
		return nil
	default:
		return fmt.Errorf("%w: unknown refund_from %q", ErrInvalidInput, in.From)
	}
}

// referenceID derives the refund's own reference id. A caller-supplied
// idempotency key wins; otherwise a content hash of the refund intent makes
// identical retries collapse while distinct partial refunds stay distinct.
func (s *Service) referenceID(in Input, originalTxID uuid.UUID) string {
	if in.IdempotencyKey != "" {
		return in.IdempotencyKey
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%s", originalTxID, in.Amount, in.From, in.Reason)))
	return "refund_" + hex.EncodeToString(sum[:12])
}

// duplicateResult maps an already-committed refund transaction onto the
// result a fresh posting of the same intent would have produced.
func duplicateResult(existing ledger.Transaction, originalTxID uuid.UUID) Result {
	res := Result{
		TransactionID: existing.ID,
		Amount:        existing.Amount,
		Duplicate:     true,
		OriginalTxID:  originalTxID,
	}
	if r := existing.Metadata.Refund; r != nil {
		res.FromCreator = r.FromCreator
		res.FromPlatform = r.FromPlatform
	}
	return res
}
