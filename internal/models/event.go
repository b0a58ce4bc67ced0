package models

import "time"

// EventType enumerates state-transition notifications consumed by the
// mail/templating subsystem.
type EventType string

const (
	EventRequestSubmitted    EventType = "request.submitted"
	EventRequestAutoApproved EventType = "request.auto_approved"
	EventRequestApproved     EventType = "request.approved"
	EventRequestRejected     EventType = "request.rejected"
	EventRequestNeedsReview  EventType = "request.needs_approval"
)

// Event is the structured payload emitted on every state transition.
type Event struct {
	Type          EventType         `json:"type"`
	Requester     string            `json:"requester"`
	TransactionID string            `json:"transaction_id"`
	Amount        float64           `json:"amount"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}
