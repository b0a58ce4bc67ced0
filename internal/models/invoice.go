package models

import "time"

// Invoice represents one generated financial document covering a batch of
// ledger entries for a division (or a cross-division external pass).
type Invoice struct {
	ID           string    `json:"id"`
	RequestType  string    `json:"request_type"`
	Scope        string    `json:"scope"`
	Transactions []string  `json:"transactions"`
	Total        float64   `json:"total"`
	Location     string    `json:"location"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// InvoiceBatchResult summarizes one batch run.
type InvoiceBatchResult struct {
	RequestType string    `json:"request_type"`
	Generated   int       `json:"generated"`
	Invoices    []Invoice `json:"invoices"`
	Failed      []string  `json:"failed,omitempty"`
	RanAt       time.Time `json:"ran_at"`
}
