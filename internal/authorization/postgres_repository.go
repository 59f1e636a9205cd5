package authorization

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
)

const uniqueViolationCode = "23505"

// PostgresRepository stores policies, instruments, and decisions in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindDecision loads the decision cached for (ledgerID, key).
func (r *PostgresRepository) FindDecision(ctx context.Context, ledgerID uuid.UUID, key string) (Decision, error) {
	row := r.db.QueryRow(ctx, `SELECT id, ledger_id, idempotency_key, proposed, decision, violations, expires_at, created_at
        FROM authorization_decisions WHERE ledger_id = $1 AND idempotency_key = $2`, ledgerID, key)
	return scanDecision(row)
}

func scanDecision(row pgx.Row) (Decision, error) {
	var (
		d          Decision
		proposed   []byte
		violations []byte
	)
	err := row.Scan(&d.ID, &d.LedgerID, &d.IdempotencyKey, &proposed, &d.Verdict, &violations, &d.ExpiresAt, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Decision{}, ErrDecisionNotFound
		}
		return Decision{}, err
	}
	if err := json.Unmarshal(proposed, &d.Proposed); err != nil {
		return Decision{}, fmt.Errorf("decode proposed transaction: %w", err)
	}
	if len(violations) > 0 {
		if err := json.Unmarshal(violations, &d.Violations); err != nil {
			return Decision{}, fmt.Errorf("decode violations: %w", err)
		}
	}
	return d, nil
}

// DeleteDecision removes a cached decision.
func (r *PostgresRepository) DeleteDecision(ctx context.Context, ledgerID uuid.UUID, key string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM authorization_decisions
        WHERE ledger_id = $1 AND idempotency_key = $2`, ledgerID, key)
	return err
}

// SaveDecision inserts the decision; a concurrent winner's row is read back
// instead of surfacing the unique violation.
func (r *PostgresRepository) SaveDecision(ctx context.Context, d Decision) (Decision, error) {
	proposed, err := json.Marshal(d.Proposed)
	if err != nil {
		return Decision{}, err
	}
	violations, err := json.Marshal(d.Violations)
	if err != nil {
		return Decision{}, err
	}

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now().UTC()

	_, err = r.db.Exec(ctx, `INSERT INTO authorization_decisions
        (id, ledger_id, idempotency_key, proposed, decision, violations, expires_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.LedgerID, d.IdempotencyKey, proposed, d.Verdict, violations, d.ExpiresAt.UTC(), d.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			winner, findErr := r.FindDecision(ctx, d.LedgerID, d.IdempotencyKey)
			if findErr != nil {
				return Decision{}, fmt.Errorf("read back winning decision: %w", findErr)
			}
			winner.Cached = true
			return winner, nil
		}
		return Decision{}, err
	}
	return d, nil
}

// ActivePolicies lists active policies in ascending priority order.
func (r *PostgresRepository) ActivePolicies(ctx context.Context, ledgerID uuid.UUID) ([]Policy, error) {
	rows, err := r.db.Query(ctx, `SELECT id, ledger_id, policy_type, config, severity, priority, is_active, created_at
        FROM authorization_policies
        WHERE ledger_id = $1 AND is_active ORDER BY priority, created_at`, ledgerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []Policy
	for rows.Next() {
		var p Policy
		var config []byte
		if err := rows.Scan(&p.ID, &p.LedgerID, &p.Type, &config, &p.Severity, &p.Priority, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		if len(config) > 0 {
			if err := json.Unmarshal(config, &p.Config); err != nil {
				return nil, fmt.Errorf("decode policy config: %w", err)
			}
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// CreatePolicy registers a policy.
func (r *PostgresRepository) CreatePolicy(ctx context.Context, p Policy) (Policy, error) {
	config, err := json.Marshal(p.Config)
	if err != nil {
		return Policy{}, err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()
	_, err = r.db.Exec(ctx, `INSERT INTO authorization_policies
        (id, ledger_id, policy_type, config, severity, priority, is_active, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.LedgerID, p.Type, config, p.Severity, p.Priority, p.Active, p.CreatedAt)
	return p, err
}

// CreateInstrument registers an authorizing instrument.
func (r *PostgresRepository) CreateInstrument(ctx context.Context, ins Instrument) (Instrument, error) {
	if ins.ID == uuid.Nil {
		ins.ID = uuid.New()
	}
	if ins.Status == "" {
		ins.Status = InstrumentActive
	}
	ins.CreatedAt = time.Now().UTC()
	_, err := r.db.Exec(ctx, `INSERT INTO authorizing_instruments (id, ledger_id, name, status, created_at)
        VALUES ($1, $2, $3, $4, $5)`, ins.ID, ins.LedgerID, ins.Name, ins.Status, ins.CreatedAt)
	return ins, err
}

// GetInstrument loads an instrument by id within the ledger.
func (r *PostgresRepository) GetInstrument(ctx context.Context, ledgerID, id uuid.UUID) (Instrument, error) {
	row := r.db.QueryRow(ctx, `SELECT id, ledger_id, name, status, created_at
        FROM authorizing_instruments WHERE ledger_id = $1 AND id = $2`, ledgerID, id)
	var ins Instrument
	if err := row.Scan(&ins.ID, &ins.LedgerID, &ins.Name, &ins.Status, &ins.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Instrument{}, ErrInstrumentNotFound
		}
		return Instrument{}, err
	}
	return ins, nil
}

// InvalidateInstrument marks an instrument unusable.
func (r *PostgresRepository) InvalidateInstrument(ctx context.Context, ledgerID, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE authorizing_instruments SET status = $1
        WHERE ledger_id = $2 AND id = $3`, InstrumentInvalidated, ledgerID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInstrumentNotFound
	}
	return nil
}
