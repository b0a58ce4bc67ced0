package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/procurement-api/internal/models"
)

// LedgerRepository persists finalized transactions awaiting invoice
// documentation. Rows are append-only within a fiscal year.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository constructs the repository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const ledgerColumns = `transaction_id, order_id, processed_at, requester, approver, department, division, request_type, amount, description, fiscal_year, documented, invoice_id, doc_location, documented_at`

// Insert appends a ledger entry.
func (r *LedgerRepository) Insert(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = time.Now().UTC()
	}
	if entry.FiscalYear == "" {
		entry.FiscalYear = models.FiscalYearOf(entry.ProcessedAt)
	}
	const query = `INSERT INTO ledger_entries
	(transaction_id, order_id, processed_at, requester, approver, department, division, request_type, amount, description, fiscal_year, documented, invoice_id, doc_location, documented_at)
	VALUES (:transaction_id, :order_id, :processed_at, :requester, :approver, :department, :division, :request_type, :amount, :description, :fiscal_year, :documented, :invoice_id, :doc_location, :documented_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// ListUndocumented returns entries of the given type still awaiting an
// invoice, oldest first. Undocumented rows are always the batch selection
// criterion, which is what makes batch runs idempotent.
func (r *LedgerRepository) ListUndocumented(ctx context.Context, requestType string) ([]models.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries
	WHERE request_type = $1 AND documented = false ORDER BY processed_at ASC`
	var entries []models.LedgerEntry
	if err := r.db.SelectContext(ctx, &entries, query, requestType); err != nil {
		return nil, fmt.Errorf("list undocumented entries: %w", err)
	}
	return entries, nil
}

// ListDocumentedOn returns entries documented on the given calendar day
// whose invoice id carries the prefix; used by the external pass, which
// only aggregates and never un-documents.
func (r *LedgerRepository) ListDocumentedOn(ctx context.Context, day time.Time, prefix string) ([]models.LedgerEntry, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries
	WHERE documented = true AND documented_at >= $1 AND documented_at < $2 AND invoice_id LIKE $3
	ORDER BY processed_at ASC`
	var entries []models.LedgerEntry
	if err := r.db.SelectContext(ctx, &entries, query, start, end, prefix+"%"); err != nil {
		return nil, fmt.Errorf("list documented entries: %w", err)
	}
	return entries, nil
}

// ListOrderIDs returns every order identifier carrying the prefix, for the
// max-scan identifier generator.
func (r *LedgerRepository) ListOrderIDs(ctx context.Context, prefix string) ([]string, error) {
	const query = `SELECT order_id FROM ledger_entries WHERE order_id LIKE $1`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, prefix+"%"); err != nil {
		return nil, fmt.Errorf("list order ids: %w", err)
	}
	return ids, nil
}

// ListInvoiceIDs returns the distinct invoice identifiers carrying the
// prefix, for same-day suffix detection.
func (r *LedgerRepository) ListInvoiceIDs(ctx context.Context, prefix string) ([]string, error) {
	const query = `SELECT DISTINCT invoice_id FROM ledger_entries WHERE invoice_id LIKE $1`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, prefix+"%"); err != nil {
		return nil, fmt.Errorf("list invoice ids: %w", err)
	}
	return ids, nil
}

// MarkDocumented flags the covered entries with their invoice id and
// document location. Runs only after the document was created.
func (r *LedgerRepository) MarkDocumented(ctx context.Context, transactionIDs []string, invoiceID, location string, documentedAt time.Time) error {
	if len(transactionIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE ledger_entries
	SET documented = true, invoice_id = ?, doc_location = ?, documented_at = ?
	WHERE transaction_id IN (?) AND documented = false`, invoiceID, location, documentedAt, transactionIDs)
	if err != nil {
		return fmt.Errorf("build mark documented query: %w", err)
	}
	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("mark entries documented: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check mark documented rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
