package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/procurement-api/internal/models"
)

// AccountRepository persists per-requester budget accounts.
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository constructs the repository.
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetByRequester fetches one budget account. Returns sql.ErrNoRows when
// the requester has no directory row.
func (r *AccountRepository) GetByRequester(ctx context.Context, requester string) (*models.BudgetAccount, error) {
	const query = `SELECT requester, allocated, spent, encumbered, available, utilization, approver, active, updated_at
	FROM budget_accounts WHERE requester = $1 LIMIT 1`
	var account models.BudgetAccount
	if err := r.db.GetContext(ctx, &account, query, requester); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get budget account: %w", err)
	}
	return &account, nil
}

// ListActive returns every active account, used by the recompute sweep.
func (r *AccountRepository) ListActive(ctx context.Context) ([]models.BudgetAccount, error) {
	const query = `SELECT requester, allocated, spent, encumbered, available, utilization, approver, active, updated_at
	FROM budget_accounts WHERE active = true ORDER BY requester`
	var accounts []models.BudgetAccount
	if err := r.db.SelectContext(ctx, &accounts, query); err != nil {
		return nil, fmt.Errorf("list budget accounts: %w", err)
	}
	return accounts, nil
}

// Upsert creates a requester's account row or refreshes its snapshot.
func (r *AccountRepository) Upsert(ctx context.Context, account *models.BudgetAccount) error {
	account.UpdatedAt = time.Now().UTC()
	const query = `INSERT INTO budget_accounts
	(requester, allocated, spent, encumbered, available, utilization, approver, active, updated_at)
	VALUES (:requester, :allocated, :spent, :encumbered, :available, :utilization, :approver, :active, :updated_at)
	ON CONFLICT (requester) DO UPDATE SET
		allocated = EXCLUDED.allocated,
		spent = EXCLUDED.spent,
		encumbered = EXCLUDED.encumbered,
		available = EXCLUDED.available,
		utilization = EXCLUDED.utilization,
		approver = EXCLUDED.approver,
		active = EXCLUDED.active,
		updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, account); err != nil {
		return fmt.Errorf("upsert budget account: %w", err)
	}
	return nil
}

// UpdateSnapshot persists the recomputed encumbrance-derived figures only,
// leaving allocated/spent untouched.
func (r *AccountRepository) UpdateSnapshot(ctx context.Context, requester string, encumbered, available, utilization float64) error {
	const query = `UPDATE budget_accounts
	SET encumbered = $2, available = $3, utilization = $4, updated_at = $5
	WHERE requester = $1`
	if _, err := r.db.ExecContext(ctx, query, requester, encumbered, available, utilization, time.Now().UTC()); err != nil {
		return fmt.Errorf("update account snapshot: %w", err)
	}
	return nil
}

// AddSpent books spend on approval and returns sql.ErrNoRows when the
// account is missing.
func (r *AccountRepository) AddSpent(ctx context.Context, requester string, amount float64) error {
	const query = `UPDATE budget_accounts
	SET spent = spent + $2, updated_at = $3
	WHERE requester = $1`
	result, err := r.db.ExecContext(ctx, query, requester, amount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add spent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check add spent rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
