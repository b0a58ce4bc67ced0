package dto

// RunBatchRequest triggers an invoice batch for one request type.
type RunBatchRequest struct {
	RequestType string `json:"request_type" binding:"required"`
}

// ExternalPassRequest aggregates today's documented entries for a prefix
// into one cross-division document.
type ExternalPassRequest struct {
	Prefix    string `json:"prefix" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
}
