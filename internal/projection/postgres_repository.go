package projection

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splitledger/splitledger/internal/money"
)

// PostgresRepository stores projected transactions in PostgreSQL. It touches
// only the projected_transactions table.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create registers a projected obligation.
func (r *PostgresRepository) Create(ctx context.Context, pt ProjectedTransaction) error {
	if pt.ID == uuid.Nil {
		pt.ID = uuid.New()
	}
	if pt.Status == "" {
		pt.Status = StatusPending
	}
	_, err := r.db.Exec(ctx, `INSERT INTO projected_transactions
        (id, ledger_id, expected_date, amount, currency, counterparty, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		pt.ID, pt.LedgerID, pt.ExpectedDate.UTC(), int64(pt.Amount), pt.Currency,
		pt.Counterparty, pt.Status, time.Now().UTC())
	return err
}

// PendingThrough lists pending obligations expected on or before the horizon.
func (r *PostgresRepository) PendingThrough(ctx context.Context, ledgerID uuid.UUID, horizon time.Time) ([]ProjectedTransaction, error) {
	rows, err := r.db.Query(ctx, `SELECT id, ledger_id, expected_date, amount, currency, counterparty, status, created_at
        FROM projected_transactions
        WHERE ledger_id = $1 AND status = 'pending' AND expected_date <= $2
        ORDER BY expected_date`, ledgerID, horizon.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ProjectedTransaction
	for rows.Next() {
		var pt ProjectedTransaction
		var amount int64
		if err := rows.Scan(&pt.ID, &pt.LedgerID, &pt.ExpectedDate, &amount, &pt.Currency,
			&pt.Counterparty, &pt.Status, &pt.CreatedAt); err != nil {
			return nil, err
		}
		pt.Amount = money.Cents(amount)
		items = append(items, pt)
	}
	return items, rows.Err()
}

// SetStatus transitions an obligation to fulfilled or cancelled.
func (r *PostgresRepository) SetStatus(ctx context.Context, ledgerID, id uuid.UUID, status Status) error {
	tag, err := r.db.Exec(ctx, `UPDATE projected_transactions SET status = $1
        WHERE ledger_id = $2 AND id = $3`, status, ledgerID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrObligationNotFound
	}
	return nil
}
