package dto

import "github.com/noah-isme/procurement-api/internal/models"

// SubmitRequest is the normalized intake payload. Channel-specific formats
// are parsed upstream; the engine only accepts this shape.
type SubmitRequest struct {
	Requester   string                `json:"requester" binding:"required,email"`
	RequestType string                `json:"request_type" binding:"required"`
	Department  string                `json:"department" binding:"required"`
	Division    string                `json:"division" binding:"required,divisioncode"`
	Amount      float64               `json:"amount" binding:"required,gt=0"`
	Description string                `json:"description"`
	Channel     models.RequestChannel `json:"channel" binding:"required,oneof=AUTOMATED MANUAL"`
	SourceRef   string                `json:"source_ref"`
}

// SubmitResult reports the outcome of a submission.
type SubmitResult struct {
	TransactionID string               `json:"transaction_id"`
	Status        models.RequestStatus `json:"status"`
	AutoApproved  bool                 `json:"auto_approved"`
	RoutedTo      string               `json:"routed_to,omitempty"`
}

// DecisionRequest is the approver's verdict on a pending request.
type DecisionRequest struct {
	Decision string `json:"decision" binding:"required,oneof=approve reject"`
}

// DecisionResult is the structured outcome returned to the decision
// front end. Gate failures come back as typed errors, never panics.
type DecisionResult struct {
	TransactionID string               `json:"transaction_id"`
	Status        models.RequestStatus `json:"status"`
	DecidedBy     string               `json:"decided_by"`
	Available     float64              `json:"available"`
}

// VelocityResult reports the daily auto-approval headroom check.
type VelocityResult struct {
	Allowed    bool    `json:"allowed"`
	DailyTotal float64 `json:"daily_total"`
	Limit      float64 `json:"limit"`
}
