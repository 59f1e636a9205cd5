package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splitledger/splitledger/internal/money"
)

const uniqueViolationCode = "23505"

// PostgresStore persists the ledger in PostgreSQL. Uniqueness of
// (ledger_id, reference_id) is enforced by a database constraint, and every
// posting commits the transaction row and its entry rows in one database
// transaction so partial writes are never observable.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// EnsureAccount guarantees an account row exists for the identity and returns its id.
func (s *PostgresStore) EnsureAccount(ctx context.Context, ledgerID uuid.UUID, accountType AccountType, entityID string) (uuid.UUID, error) {
	if _, err := accountType.NormalSide(); err != nil {
		return uuid.Nil, err
	}
	return ensureAccount(ctx, s.db, ledgerID, accountType, entityID)
}

// querier covers both pool and transaction so account vivification can run
// inside an open database transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func ensureAccount(ctx context.Context, q querier, ledgerID uuid.UUID, accountType AccountType, entityID string) (uuid.UUID, error) {
	_, err := q.Exec(ctx, `INSERT INTO accounts (id, ledger_id, account_type, entity_id, active, created_at)
        VALUES ($1, $2, $3, $4, TRUE, $5)
        ON CONFLICT (ledger_id, account_type, entity_id) DO NOTHING`,
		uuid.New(), ledgerID, accountType, entityID, time.Now().UTC())
	if err != nil {
		return uuid.Nil, err
	}

	var id uuid.UUID
	err = q.QueryRow(ctx, `SELECT id FROM accounts
        WHERE ledger_id = $1 AND account_type = $2 AND entity_id = $3`,
		ledgerID, accountType, entityID).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// AccountBalance derives the balance from entry sums, signed by the account
// type's normal side. An account with no rows reports zero.
func (s *PostgresStore) AccountBalance(ctx context.Context, ledgerID uuid.UUID, accountType AccountType, entityID string) (money.Cents, error) {
	normal, err := accountType.NormalSide()
	if err != nil {
		return 0, err
	}

	const query = `
        SELECT
            COALESCE(SUM(CASE WHEN e.entry_type = 'debit' THEN e.amount ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN e.entry_type = 'credit' THEN e.amount ELSE 0 END), 0)
        FROM entries e
        INNER JOIN accounts a ON a.id = e.account_id
        WHERE a.ledger_id = $1 AND a.account_type = $2 AND a.entity_id = $3`

	var debits, credits int64
	if err := s.db.QueryRow(ctx, query, ledgerID, accountType, entityID).Scan(&debits, &credits); err != nil {
		return 0, err
	}
	if normal == Debit {
		return money.Cents(debits - credits), nil
	}
	return money.Cents(credits - debits), nil
}

// CreateTransaction commits the transaction and its entries atomically. A
// concurrent posting with the same reference id loses the insert race, sees
// the unique violation, and reads back the winner's row.
func (s *PostgresStore) CreateTransaction(ctx context.Context, nt NewTransaction) (PostOutcome, error) {
	amount, err := BalancedEntries(nt.Entries)
	if err != nil {
		return PostOutcome{}, err
	}
	if nt.Amount != amount {
		return PostOutcome{}, fmt.Errorf("%w: declared amount %d does not match entry total %d", ErrUnbalanced, nt.Amount, amount)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return PostOutcome{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	txID, err := insertTransaction(ctx, tx, nt, uuid.Nil, StatusCompleted)
	if err != nil {
		if isUniqueViolation(err) {
			return s.readBackDuplicate(ctx, nt.LedgerID, nt.ReferenceID)
		}
		return PostOutcome{}, err
	}

	if err := insertEntries(ctx, tx, nt.LedgerID, txID, nt.Entries); err != nil {
		return PostOutcome{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return PostOutcome{}, err
	}
	return PostOutcome{TransactionID: txID}, nil
}

func (s *PostgresStore) readBackDuplicate(ctx context.Context, ledgerID uuid.UUID, referenceID string) (PostOutcome, error) {
	existing, err := s.FindByReference(ctx, ledgerID, referenceID)
	if err != nil {
		return PostOutcome{}, fmt.Errorf("read back duplicate %s: %w", referenceID, err)
	}
	return PostOutcome{TransactionID: existing.ID, Duplicate: true}, nil
}

func insertTransaction(ctx context.Context, q querier, nt NewTransaction, reverses uuid.UUID, status TransactionStatus) (uuid.UUID, error) {
	meta, err := json.Marshal(nt.Metadata)
	if err != nil {
		return uuid.Nil, err
	}

	var reversesVal any
	if reverses != uuid.Nil {
		reversesVal = reverses
	}

	txID := uuid.New()
	_, err = q.Exec(ctx, `INSERT INTO transactions
        (id, ledger_id, tx_type, reference_id, amount, currency, category, status, reverses, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		txID, nt.LedgerID, nt.Type, nt.ReferenceID, int64(nt.Amount), nt.Currency, nt.Category,
		status, reversesVal, meta, time.Now().UTC())
	if err != nil {
		return uuid.Nil, err
	}
	return txID, nil
}

func insertEntries(ctx context.Context, q querier, ledgerID, txID uuid.UUID, entries []EntryInput) error {
	for _, e := range entries {
		accountID, err := ensureAccount(ctx, q, ledgerID, e.AccountType, e.EntityID)
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `INSERT INTO entries (id, transaction_id, account_id, entry_type, amount)
            VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), txID, accountID, e.Type, int64(e.Amount)); err != nil {
			return err
		}
	}
	return nil
}

const transactionColumns = `id, ledger_id, tx_type, reference_id, amount, currency, category, status, reverses, reversed_by, metadata, created_at`

// FindByReference loads a transaction by its caller-supplied reference id.
func (s *PostgresStore) FindByReference(ctx context.Context, ledgerID uuid.UUID, referenceID string) (Transaction, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE ledger_id = $1 AND reference_id = $2`, ledgerID, referenceID)
	return scanTransaction(row)
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t        Transaction
		amount   int64
		meta     []byte
		reverses *uuid.UUID
		revBy    *uuid.UUID
	)
	err := row.Scan(&t.ID, &t.LedgerID, &t.Type, &t.ReferenceID, &amount, &t.Currency,
		&t.Category, &t.Status, &reverses, &revBy, &meta, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, err
	}
	t.Amount = money.Cents(amount)
	t.Reverses = reverses
	t.ReversedBy = revBy
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return Transaction{}, fmt.Errorf("decode transaction metadata: %w", err)
		}
	}
	return t, nil
}

// RefundedTotal sums all refund transactions posted against the original.
func (s *PostgresStore) RefundedTotal(ctx context.Context, ledgerID, originalTxID uuid.UUID) (money.Cents, error) {
	var total int64
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM transactions
        WHERE ledger_id = $1 AND reverses = $2 AND tx_type = 'refund'`,
		ledgerID, originalTxID).Scan(&total)
	return money.Cents(total), err
}

// CreateRefund runs the whole refund sequence in a single database
// transaction. The original row is locked FOR UPDATE so concurrent refunds
// against the same original serialize their remaining-refundable check
// against each other's commits.
func (s *PostgresStore) CreateRefund(ctx context.Context, req RefundRequest) (RefundOutcome, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return RefundOutcome{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	row := tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE ledger_id = $1 AND reference_id = $2 FOR UPDATE`,
		req.LedgerID, req.OriginalReferenceID)
	original, err := scanTransaction(row)
	if err != nil {
		return RefundOutcome{}, err
	}

	var refunded int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM transactions
        WHERE ledger_id = $1 AND reverses = $2 AND tx_type = 'refund'`,
		req.LedgerID, original.ID).Scan(&refunded); err != nil {
		return RefundOutcome{}, err
	}

	plan, err := planRefund(original, money.Cents(refunded), req)
	if err != nil {
		return RefundOutcome{}, err
	}

	refundID, err := insertTransaction(ctx, tx, plan.tx, original.ID, StatusCompleted)
	if err != nil {
		if isUniqueViolation(err) {
			return s.readBackDuplicateRefund(ctx, req.LedgerID, req.ReferenceID, original.ID)
		}
		return RefundOutcome{}, err
	}

	if err := insertEntries(ctx, tx, req.LedgerID, refundID, plan.tx.Entries); err != nil {
		return RefundOutcome{}, err
	}

	if plan.fullRefund {
		if _, err := tx.Exec(ctx, `UPDATE transactions SET status = $1, reversed_by = $2
            WHERE id = $3`, StatusReversed, refundID, original.ID); err != nil {
			return RefundOutcome{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return RefundOutcome{}, err
	}

	return RefundOutcome{
		TransactionID: refundID,
		Amount:        plan.tx.Amount,
		FromCreator:   plan.fromCreator,
		FromPlatform:  plan.fromPlatform,
		IsFullRefund:  plan.fullRefund,
		OriginalTxID:  original.ID,
	}, nil
}

func (s *PostgresStore) readBackDuplicateRefund(ctx context.Context, ledgerID uuid.UUID, referenceID string, originalTxID uuid.UUID) (RefundOutcome, error) {
	existing, err := s.FindByReference(ctx, ledgerID, referenceID)
	if err != nil {
		return RefundOutcome{}, fmt.Errorf("read back duplicate refund %s: %w", referenceID, err)
	}
	out := RefundOutcome{
		TransactionID: existing.ID,
		Amount:        existing.Amount,
		Duplicate:     true,
		OriginalTxID:  originalTxID,
	}
	if existing.Metadata.Refund != nil {
		out.FromCreator = existing.Metadata.Refund.FromCreator
		out.FromPlatform = existing.Metadata.Refund.FromPlatform
	}
	return out, nil
}

// PeriodExpenseTotal sums debit entries against expense accounts for
// transactions created in [from, to).
func (s *PostgresStore) PeriodExpenseTotal(ctx context.Context, ledgerID uuid.UUID, category string, from, to time.Time) (money.Cents, error) {
	const query = `
        SELECT COALESCE(SUM(e.amount), 0)
        FROM entries e
        INNER JOIN accounts a ON a.id = e.account_id
        INNER JOIN transactions t ON t.id = e.transaction_id
        WHERE a.ledger_id = $1
          AND a.account_type = 'expense'
          AND e.entry_type = 'debit'
          AND t.created_at >= $2 AND t.created_at < $3
          AND ($4 = '' OR t.category = $4)`

	var total int64
	if err := s.db.QueryRow(ctx, query, ledgerID, from, to, category).Scan(&total); err != nil {
		return 0, err
	}
	return money.Cents(total), nil
}
