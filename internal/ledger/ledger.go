package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/splitledger/splitledger/internal/money"
)

var (
	// ErrUnbalanced indicates the debit and credit legs of a proposed
	// transaction do not sum to the same amount. Such a transaction must
	// never reach durable storage.
	ErrUnbalanced = errors.New("entries are not balanced")

	// ErrDuplicateReference indicates the reference id already exists within
	// the ledger. Callers treat this as an idempotent success and use the
	// transaction id of the original posting.
	ErrDuplicateReference = errors.New("duplicate reference id")

	// ErrNotFound indicates the referenced transaction or account does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnknownAccountType indicates an entry references an account type the
	// ledger does not recognize.
	ErrUnknownAccountType = errors.New("unknown account type")

	// ErrAlreadyFullyRefunded indicates the original transaction has no
	// refundable amount left.
	ErrAlreadyFullyRefunded = errors.New("transaction already fully refunded")

	// ErrExceedsRefundable indicates the requested refund is larger than what
	// remains refundable on the original transaction.
	ErrExceedsRefundable = errors.New("refund exceeds refundable amount")
)

// TransactionType classifies the economic event a transaction records.
type TransactionType string

const (
	TransactionSale       TransactionType = "sale"
	TransactionExpense    TransactionType = "expense"
	TransactionRefund     TransactionType = "refund"
	TransactionPayout     TransactionType = "payout"
	TransactionBill       TransactionType = "bill"
	TransactionAdjustment TransactionType = "adjustment"
)

// TransactionStatus tracks the lifecycle of a transaction. Completed
// transactions are immutable; the only permitted transition is
// completed -> reversed, applied once when cumulative refunds reach the
// original amount.
type TransactionStatus string

const (
	StatusCompleted TransactionStatus = "completed"
	StatusReversed  TransactionStatus = "reversed"
	StatusVoided    TransactionStatus = "voided"
	StatusDraft     TransactionStatus = "draft"
)

// EntryType is the side of a double-entry leg.
type EntryType string

const (
	Debit  EntryType = "debit"
	Credit EntryType = "credit"
)

// AccountType names a ledger bucket. The normal balance side determines how
// entry sums are interpreted as a balance.
type AccountType string

const (
	AccountCash               AccountType = "cash"
	AccountAccountsReceivable AccountType = "accounts_receivable"
	AccountCreatorBalance     AccountType = "creator_balance"
	AccountPlatformRevenue    AccountType = "platform_revenue"
	AccountExpense            AccountType = "expense"
	AccountReserve            AccountType = "reserve"
)

// NormalSide returns the side on which the account type carries a positive
// balance, or an error for unknown types.
func (t AccountType) NormalSide() (EntryType, error) {
	switch t {
	case AccountCash, AccountAccountsReceivable, AccountExpense, AccountReserve:
		return Debit, nil
	case AccountCreatorBalance, AccountPlatformRevenue:
		return Credit, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownAccountType, t)
	}
}

// Account is a named bucket within a ledger. Accounts are created on first
// use and never deleted, only deactivated.
type Account struct {
	ID        uuid.UUID
	LedgerID  uuid.UUID
	Type      AccountType
	EntityID  string
	Active    bool
	CreatedAt time.Time
}

// SaleMetadata records the revenue split of a sale so later refunds can
// apportion against the original breakdown.
type SaleMetadata struct {
	CreatorID      string      `json:"creator_id,omitempty"`
	CreatorAmount  money.Cents `json:"creator_amount"`
	PlatformAmount money.Cents `json:"platform_amount"`
}

// RefundMetadata records why and how a refund transaction was posted.
type RefundMetadata struct {
	Reason         string      `json:"reason,omitempty"`
	RefundFrom     RefundFrom  `json:"refund_from"`
	FromCreator    money.Cents `json:"from_creator"`
	FromPlatform   money.Cents `json:"from_platform"`
	OriginalTxID   uuid.UUID   `json:"original_transaction_id"`
	ProcessorTrace string      `json:"processor_trace,omitempty"`
}

// Metadata is the closed set of typed payloads a transaction may carry, plus
// a free-form tag bag for caller-supplied, non-semantic labels.
type Metadata struct {
	Sale   *SaleMetadata     `json:"sale,omitempty"`
	Refund *RefundMetadata   `json:"refund,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// Transaction is one committed economic event.
type Transaction struct {
	ID          uuid.UUID
	LedgerID    uuid.UUID
	Type        TransactionType
	ReferenceID string
	Amount      money.Cents
	Currency    string
	Category    string
	Status      TransactionStatus
	Reverses    *uuid.UUID
	ReversedBy  *uuid.UUID
	Metadata    Metadata
	CreatedAt   time.Time
}

// Entry is one committed leg of a transaction. Entries are immutable; they
// are superseded by new transactions, never updated.
type Entry struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	AccountID     uuid.UUID
	Type          EntryType
	Amount        money.Cents
}

// EntryInput describes one leg of a proposed transaction. Accounts are
// addressed by type plus optional entity and auto-vivified on first use.
type EntryInput struct {
	AccountType AccountType
	EntityID    string
	Type        EntryType
	Amount      money.Cents
}

// NewTransaction is a fully validated posting request handed to the store.
type NewTransaction struct {
	LedgerID    uuid.UUID
	Type        TransactionType
	ReferenceID string
	Amount      money.Cents
	Currency    string
	Category    string
	Entries     []EntryInput
	Metadata    Metadata
}

// PostOutcome reports the result of an atomic posting attempt. Duplicate is
// true when the reference id already existed and TransactionID identifies the
// original winner.
type PostOutcome struct {
	TransactionID uuid.UUID
	Duplicate     bool
}

// RefundFrom selects which party absorbs a refund.
type RefundFrom string

const (
	RefundBoth         RefundFrom = "both"
	RefundPlatformOnly RefundFrom = "platform_only"
	RefundCreatorOnly  RefundFrom = "creator_only"
)

// RefundRequest describes a refund to execute atomically against the
// original transaction. A zero Amount means "refund whatever remains".
type RefundRequest struct {
	LedgerID            uuid.UUID
	OriginalReferenceID string
	ReferenceID         string
	Amount              money.Cents
	From                RefundFrom
	Reason              string
	ProcessorTrace      string
}

// RefundOutcome reports the committed refund.
type RefundOutcome struct {
	TransactionID uuid.UUID
	Amount        money.Cents
	FromCreator   money.Cents
	FromPlatform  money.Cents
	IsFullRefund  bool
	Duplicate     bool
	OriginalTxID  uuid.UUID
}

// Store is the persistence contract for the ledger. Every method takes the
// ledger id explicitly; nothing is ambient. Implementations must provide the
// atomicity and uniqueness guarantees documented per method.
type Store interface {
	// EnsureAccount idempotently creates the account identified by
	// (ledgerID, accountType, entityID) and returns its id. Safe under
	// concurrent calls for the same identity.
	EnsureAccount(ctx context.Context, ledgerID uuid.UUID, accountType AccountType, entityID string) (uuid.UUID, error)

	// AccountBalance derives the balance from entry sums, signed by the
	// account type's normal side. Missing accounts report zero.
	AccountBalance(ctx context.Context, ledgerID uuid.UUID, accountType AccountType, entityID string) (money.Cents, error)

	// CreateTransaction commits the transaction row and all entry rows as a
	// single durable unit. When (ledgerID, referenceID) already exists, it
	// reads back the existing row and reports Duplicate=true; under two
	// concurrent identical postings exactly one wins the insert and the
	// other observes it.
	CreateTransaction(ctx context.Context, tx NewTransaction) (PostOutcome, error)

	// FindByReference loads a transaction by its caller-supplied reference id.
	FindByReference(ctx context.Context, ledgerID uuid.UUID, referenceID string) (Transaction, error)

	// RefundedTotal sums the amounts of all refund transactions reversing
	// the given original, regardless of their own later status.
	RefundedTotal(ctx context.Context, ledgerID, originalTxID uuid.UUID) (money.Cents, error)

	// CreateRefund executes the whole refund sequence in one atomic unit:
	// lock the original row, recompute the remaining refundable amount,
	// post the reversing entries, and flip the original to reversed when
	// cumulative refunds reach its amount. Concurrent refunds against the
	// same original serialize on the row lock.
	CreateRefund(ctx context.Context, req RefundRequest) (RefundOutcome, error)

	// PeriodExpenseTotal sums debit entries against expense accounts for
	// transactions created in [from, to), optionally filtered by category.
	PeriodExpenseTotal(ctx context.Context, ledgerID uuid.UUID, category string, from, to time.Time) (money.Cents, error)
}

// BalancedEntries verifies the core invariant: debit legs and credit legs sum
// to the same non-negative amount. It returns that amount on success.
func BalancedEntries(entries []EntryInput) (money.Cents, error) {
	var debits, credits money.Cents
	for _, e := range entries {
		if e.Amount < 0 {
			return 0, fmt.Errorf("%w: entry amount %d is negative", ErrUnbalanced, e.Amount)
		}
		switch e.Type {
		case Debit:
			debits += e.Amount
		case Credit:
			credits += e.Amount
		default:
			return 0, fmt.Errorf("%w: unknown entry type %q", ErrUnbalanced, e.Type)
		}
	}
	if debits != credits {
		return 0, fmt.Errorf("%w: debits=%d credits=%d", ErrUnbalanced, debits, credits)
	}
	return debits, nil
}

// SplitRefund apportions a refund between creator and platform from the
// original sale breakdown. In RefundBoth mode the split is proportional to
// the original shares with the rounding residual assigned to the platform;
// single-side modes charge one party up to its original share and spill the
// remainder to the other.
func SplitRefund(creatorShare, platformShare, amount money.Cents, from RefundFrom) (fromCreator, fromPlatform money.Cents, err error) {
	if amount < 0 {
		return 0, 0, fmt.Errorf("%w: negative refund amount %d", money.ErrInvalidAmount, amount)
	}
	switch from {
	case RefundBoth, "":
		parts, splitErr := money.SplitProportional(amount, platformShare, creatorShare)
		if splitErr != nil {
			return 0, 0, splitErr
		}
		return parts[1], parts[0], nil
	case RefundPlatformOnly:
		fromPlatform = money.Min(amount, platformShare)
		return amount - fromPlatform, fromPlatform, nil
	case RefundCreatorOnly:
		fromCreator = money.Min(amount, creatorShare)
		return fromCreator, amount - fromCreator, nil
	default:
		return 0, 0, fmt.Errorf("invalid refund_from %q", from)
	}
}
