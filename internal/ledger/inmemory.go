package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/splitledger/splitledger/internal/money"
)

type accountKey struct {
	ledger   uuid.UUID
	typ      AccountType
	entityID string
}

type refKey struct {
	ledger uuid.UUID
	ref    string
}

type memoryStore struct {
	mu           sync.Mutex
	accounts     map[accountKey]Account
	transactions map[uuid.UUID]*Transaction
	byReference  map[refKey]uuid.UUID
	entries      []Entry
}

// NewMemory creates a concurrency-safe in-memory store useful for unit tests.
// The single mutex stands in for the database's transactional guarantees.
func NewMemory() Store {
	return &memoryStore{
		accounts:     make(map[accountKey]Account),
		transactions: make(map[uuid.UUID]*Transaction),
		byReference:  make(map[refKey]uuid.UUID),
	}
}

func (m *memoryStore) EnsureAccount(_ context.Context, ledgerID uuid.UUID, accountType AccountType, entityID string) (uuid.UUID, error) {
	if _, err := accountType.NormalSide(); err != nil {
		return uuid.Nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureAccountLocked(ledgerID, accountType, entityID)
}

func (m *memoryStore) ensureAccountLocked(ledgerID uuid.UUID, accountType AccountType, entityID string) (uuid.UUID, error) {
	key := accountKey{ledger: ledgerID, typ: accountType, entityID: entityID}
	if acc, ok := m.accounts[key]; ok {
		return acc.ID, nil
	}
	acc := Account{
		ID:        uuid.New(),
		LedgerID:  ledgerID,
		Type:      accountType,
		EntityID:  entityID,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	m.accounts[key] = acc
	return acc.ID, nil
}

func (m *memoryStore) AccountBalance(_ context.Context, ledgerID uuid.UUID, accountType AccountType, entityID string) (money.Cents, error) {
	normal, err := accountType.NormalSide()
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[accountKey{ledger: ledgerID, typ: accountType, entityID: entityID}]
	if !ok {
		return 0, nil
	}

	var debits, credits money.Cents
	for _, e := range m.entries {
		if e.AccountID != acc.ID {
			continue
		}
		if e.Type == Debit {
			debits += e.Amount
		} else {
			credits += e.Amount
		}
	}
	if normal == Debit {
		return debits - credits, nil
	}
	return credits - debits, nil
}

func (m *memoryStore) CreateTransaction(_ context.Context, nt NewTransaction) (PostOutcome, error) {
	amount, err := BalancedEntries(nt.Entries)
	if err != nil {
		return PostOutcome{}, err
	}
	if nt.Amount != amount {
		return PostOutcome{}, fmt.Errorf("%w: declared amount %d does not match entry total %d", ErrUnbalanced, nt.Amount, amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := refKey{ledger: nt.LedgerID, ref: nt.ReferenceID}
	if existing, ok := m.byReference[key]; ok {
		return PostOutcome{TransactionID: existing, Duplicate: true}, nil
	}

	txID, err := m.commitLocked(nt, nil)
	if err != nil {
		return PostOutcome{}, err
	}
	return PostOutcome{TransactionID: txID}, nil
}

// commitLocked writes the transaction and its entries under the lock. The
// caller has already checked the reference id for duplicates.
func (m *memoryStore) commitLocked(nt NewTransaction, reverses *uuid.UUID) (uuid.UUID, error) {
	txID := uuid.New()
	entries := make([]Entry, 0, len(nt.Entries))
	for _, e := range nt.Entries {
		accountID, err := m.ensureAccountLocked(nt.LedgerID, e.AccountType, e.EntityID)
		if err != nil {
			return uuid.Nil, err
		}
		entries = append(entries, Entry{
			ID:            uuid.New(),
			TransactionID: txID,
			AccountID:     accountID,
			Type:          e.Type,
			Amount:        e.Amount,
		})
	}

	m.transactions[txID] = &Transaction{
		ID:          txID,
		LedgerID:    nt.LedgerID,
		Type:        nt.Type,
		ReferenceID: nt.ReferenceID,
		Amount:      nt.Amount,
		Currency:    nt.Currency,
		Category:    nt.Category,
		Status:      StatusCompleted,
		Reverses:    reverses,
		Metadata:    nt.Metadata,
		CreatedAt:   time.Now().UTC(),
	}
	m.byReference[refKey{ledger: nt.LedgerID, ref: nt.ReferenceID}] = txID
	m.entries = append(m.entries, entries...)
	return txID, nil
}

func (m *memoryStore) FindByReference(_ context.Context, ledgerID uuid.UUID, referenceID string) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txID, ok := m.byReference[refKey{ledger: ledgerID, ref: referenceID}]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return *m.transactions[txID], nil
}

func (m *memoryStore) RefundedTotal(_ context.Context, ledgerID, originalTxID uuid.UUID) (money.Cents, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refundedTotalLocked(ledgerID, originalTxID), nil
}

func (m *memoryStore) refundedTotalLocked(ledgerID, originalTxID uuid.UUID) money.Cents {
	var total money.Cents
	for _, t := range m.transactions {
		if t.LedgerID == ledgerID && t.Type == TransactionRefund && t.Reverses != nil && *t.Reverses == originalTxID {
			total += t.Amount
		}
	}
	return total
}

func (m *memoryStore) CreateRefund(_ context.Context, req RefundRequest) (RefundOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	origID, ok := m.byReference[refKey{ledger: req.LedgerID, ref: req.OriginalReferenceID}]
	if !ok {
		return RefundOutcome{}, ErrNotFound
	}
	original := m.transactions[origID]

	if existingID, ok := m.byReference[refKey{ledger: req.LedgerID, ref: req.ReferenceID}]; ok {
		existing := m.transactions[existingID]
		out := RefundOutcome{
			TransactionID: existing.ID,
			Amount:        existing.Amount,
			Duplicate:     true,
			OriginalTxID:  origID,
		}
		if existing.Metadata.Refund != nil {
			out.FromCreator = existing.Metadata.Refund.FromCreator
			out.FromPlatform = existing.Metadata.Refund.FromPlatform
		}
		return out, nil
	}

	refunded := m.refundedTotalLocked(req.LedgerID, origID)
	plan, err := planRefund(*original, refunded, req)
	if err != nil {
		return RefundOutcome{}, err
	}

	refundID, err := m.commitLocked(plan.tx, &origID)
	if err != nil {
		return RefundOutcome{}, err
	}

	if plan.fullRefund {
		original.Status = StatusReversed
		original.ReversedBy = &refundID
	}

	return RefundOutcome{
		TransactionID: refundID,
		Amount:        plan.tx.Amount,
		FromCreator:   plan.fromCreator,
		FromPlatform:  plan.fromPlatform,
		IsFullRefund:  plan.fullRefund,
		OriginalTxID:  origID,
	}, nil
}

func (m *memoryStore) PeriodExpenseTotal(_ context.Context, ledgerID uuid.UUID, category string, from, to time.Time) (money.Cents, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expenseAccounts := make(map[uuid.UUID]bool)
	for key, acc := range m.accounts {
		if key.ledger == ledgerID && key.typ == AccountExpense {
			expenseAccounts[acc.ID] = true
		}
	}

	var total money.Cents
	for _, e := range m.entries {
		if e.Type != Debit || !expenseAccounts[e.AccountID] {
			continue
		}
		t := m.transactions[e.TransactionID]
		if t == nil || t.CreatedAt.Before(from) || !t.CreatedAt.Before(to) {
			continue
		}
		if category != "" && t.Category != category {
			continue
		}
		total += e.Amount
	}
	return total, nil
}
