package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/splitledger/splitledger/internal/ledger"
	"github.com/splitledger/splitledger/internal/money"
)

const maxReferenceIDLen = 255

// ErrInvalidInput indicates a malformed posting request, rejected before any
// storage I/O.
var ErrInvalidInput = errors.New("invalid posting input")

// Service validates economic events and commits them to the ledger store.
type Service struct {
	store  ledger.Store
	logger *slog.Logger
}

// NewService constructs a posting service.
func NewService(store ledger.Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// PostInput describes one economic event to record.
type PostInput struct {
	LedgerID    uuid.UUID
	ReferenceID string
	Type        ledger.TransactionType
	Currency    string
	Category    string
	Entries     []ledger.EntryInput
	Metadata    ledger.Metadata
}

// Status values reported by Post.
const (
	StatusCreated   = "created"
	StatusDuplicate = "duplicate"
)

// PostResult reports the committed (or deduplicated) transaction.
type PostResult struct {
	TransactionID uuid.UUID
	Status        string
	Amount        money.Cents
}

// Post validates the event and commits it atomically. A retried reference id
// returns the original transaction with StatusDuplicate rather than an error,
// so webhook retries converge on one result.
func (s *Service) Post(ctx context.Context, in PostInput) (PostResult, error) {
	if err := s.validate(in); err != nil {
		return PostResult{}, err
	}

	amount, err := ledger.BalancedEntries(in.Entries)
	if err != nil {
		return PostResult{}, err
	}

	out, err := s.store.CreateTransaction(ctx, ledger.NewTransaction{
		LedgerID:    in.LedgerID,
		Type:        in.Type,
		ReferenceID: in.ReferenceID,
		Amount:      amount,
		Currency:    in.Currency,
		Category:    in.Category,
		Entries:     in.Entries,
		Metadata:    in.Metadata,
	})
	if err != nil {
		return PostResult{}, err
	}

	result := PostResult{TransactionID: out.TransactionID, Status: StatusCreated, Amount: amount}
	if out.Duplicate {
		result.Status = StatusDuplicate
		s.logger.Info("idempotent replay of posting",
			slog.String("ledger_id", in.LedgerID.String()),
			slog.String("reference_id", in.ReferenceID),
			slog.String("transaction_id", out.TransactionID.String()))
	}
	return result, nil
}

func (s *Service) validate(in PostInput) error {
	if in.LedgerID == uuid.Nil {
		return fmt.Errorf("%w: ledger id is required", ErrInvalidInput)
	}
	if in.ReferenceID == "" {
		return fmt.Errorf("%w: reference id is required", ErrInvalidInput)
	}
	if len(in.ReferenceID) > maxReferenceIDLen {
		return fmt.Errorf("%w: reference id exceeds %d characters", ErrInvalidInput, maxReferenceIDLen)
	}
	if len(in.Entries) < 2 {
		return fmt.Errorf("%w: a transaction needs at least two legs", ErrInvalidInput)
	}
	for _, e := range in.Entries {
		if _, err := e.AccountType.NormalSide(); err != nil {
			return err
		}
		// Zero-amount legs are rejected here so every store enforces the
		// same shape the entries table does.
		if err := e.Amount.CheckPositive(); err != nil {
			return err
		}
	}
	switch in.Type {
	case ledger.TransactionSale, ledger.TransactionExpense, ledger.TransactionRefund,
		ledger.TransactionPayout, ledger.TransactionBill, ledger.TransactionAdjustment:
	default:
		return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidInput, in.Type)
	}
	return nil
}

// SaleInput describes a marketplace sale with a creator/platform split.
type SaleInput struct {
	LedgerID       uuid.UUID
	ReferenceID    string
	Currency       string
	CreatorID      string
	CreatorAmount  money.Cents
	PlatformAmount money.Cents
	Tags           map[string]string
}

// PostSale records a revenue-split sale: cash in, platform revenue and the
// creator's liability balance credited per the split. The split is persisted
// in the sale metadata so refunds can apportion against it later.
func (s *Service) PostSale(ctx context.Context, in SaleInput) (PostResult, error) {
	if err := in.CreatorAmount.CheckNonNegative(); err != nil {
		return PostResult{}, err
	}
	if err := in.PlatformAmount.CheckNonNegative(); err != nil {
		return PostResult{}, err
	}
	total := in.CreatorAmount + in.PlatformAmount
	if err := total.CheckPositive(); err != nil {
		return PostResult{}, err
	}

	// One-sided splits drop the zero leg so no empty entry is persisted.
	entries := []ledger.EntryInput{
		{AccountType: ledger.AccountCash, Type: ledger.Debit, Amount: total},
	}
	if in.PlatformAmount > 0 {
		entries = append(entries, ledger.EntryInput{AccountType: ledger.AccountPlatformRevenue, Type: ledger.Credit, Amount: in.PlatformAmount})
	}
	if in.CreatorAmount > 0 {
		entries = append(entries, ledger.EntryInput{AccountType: ledger.AccountCreatorBalance, EntityID: in.CreatorID, Type: ledger.Credit, Amount: in.CreatorAmount})
	}

	return s.Post(ctx, PostInput{
		LedgerID:    in.LedgerID,
		ReferenceID: in.ReferenceID,
		Type:        ledger.TransactionSale,
		Currency:    in.Currency,
		Entries:     entries,
		Metadata: ledger.Metadata{
			Sale: &ledger.SaleMetadata{
				CreatorID:      in.CreatorID,
				CreatorAmount:  in.CreatorAmount,
				PlatformAmount: in.PlatformAmount,
			},
			Tags: in.Tags,
		},
	})
}

// Balance reports the derived balance of one account.
func (s *Service) Balance(ctx context.Context, ledgerID uuid.UUID, accountType ledger.AccountType, entityID string) (money.Cents, error) {
	return s.store.AccountBalance(ctx, ledgerID, accountType, entityID)
}
