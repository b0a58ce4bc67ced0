package models

import "time"

// RequestChannel identifies which processing queue a request lives in.
type RequestChannel string

const (
	ChannelAutomated RequestChannel = "AUTOMATED"
	ChannelManual    RequestChannel = "MANUAL"
)

// RequestStatus captures the workflow states of a purchase request.
type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusApproved RequestStatus = "APPROVED"
	StatusRejected RequestStatus = "REJECTED"
	StatusVoid     RequestStatus = "VOID"
	StatusOrdered  RequestStatus = "ORDERED"
)

// transitions is the closed set of legal status moves. Ad hoc status
// writes outside this table are rejected.
var transitions = map[RequestStatus][]RequestStatus{
	StatusPending:  {StatusApproved, StatusRejected, StatusVoid},
	StatusApproved: {StatusOrdered},
	StatusRejected: {},
	StatusVoid:     {},
	StatusOrdered:  {},
}

// CanTransition reports whether moving from -> to is legal.
func CanTransition(from, to RequestStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s RequestStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// HoldsEncumbrance reports whether a request in this status still reserves
// funds against the requester's budget. Only PENDING holds: approval books
// the amount into spent, so keeping the hold would reserve it twice.
func (s RequestStatus) HoldsEncumbrance() bool {
	return s == StatusPending
}

// PurchaseRequest is one queue entry: a submitted request awaiting or
// having received a decision. Rows are never physically deleted; rejected
// and void entries stay for audit and drop out of encumbrance scans by
// status.
type PurchaseRequest struct {
	TransactionID string         `db:"transaction_id" json:"transaction_id"`
	Requester     string         `db:"requester" json:"requester"`
	RequestType   string         `db:"request_type" json:"request_type"`
	Department    string         `db:"department" json:"department"`
	Division      string         `db:"division" json:"division"`
	Amount        float64        `db:"amount" json:"amount"`
	Description   string         `db:"description" json:"description"`
	Channel       RequestChannel `db:"channel" json:"channel"`
	Status        RequestStatus  `db:"status" json:"status"`
	SubmittedAt   time.Time      `db:"submitted_at" json:"submitted_at"`
	DecidedAt     *time.Time     `db:"decided_at" json:"decided_at,omitempty"`
	DecidedBy     *string        `db:"decided_by" json:"decided_by,omitempty"`
	SourceRef     *string        `db:"source_ref" json:"source_ref,omitempty"`
}

// RequestFilter constrains queue scans.
type RequestFilter struct {
	Requester   string
	Channel     RequestChannel
	Statuses    []RequestStatus
	RequestType string
	Since       time.Time
}
