package models

import (
	"fmt"
	"time"
)

// LedgerEntry is one finalized, approved transaction awaiting or having
// received invoice documentation. Append-only within a fiscal year.
type LedgerEntry struct {
	TransactionID string    `db:"transaction_id" json:"transaction_id"`
	OrderID       string    `db:"order_id" json:"order_id"`
	ProcessedAt   time.Time `db:"processed_at" json:"processed_at"`
	Requester     string    `db:"requester" json:"requester"`
	Approver      string    `db:"approver" json:"approver"`
	Department    string    `db:"department" json:"department"`
	Division      string    `db:"division" json:"division"`
	RequestType   string    `db:"request_type" json:"request_type"`
	Amount        float64   `db:"amount" json:"amount"`
	Description   string    `db:"description" json:"description"`
	FiscalYear    string    `db:"fiscal_year" json:"fiscal_year"`
	Documented    bool      `db:"documented" json:"documented"`
	InvoiceID     *string   `db:"invoice_id" json:"invoice_id,omitempty"`
	DocLocation   *string   `db:"doc_location" json:"doc_location,omitempty"`
	DocumentedAt  *time.Time `db:"documented_at" json:"documented_at,omitempty"`
}

// FiscalYearOf returns the fiscal-year label for a timestamp. The fiscal
// year starts July 1: June 2026 is FY2026, July 2026 is FY2027.
func FiscalYearOf(t time.Time) string {
	year := t.Year()
	if t.Month() >= time.July {
		year++
	}
	return fmt.Sprintf("FY%d", year)
}
