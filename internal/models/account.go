package models

import "time"

// BudgetAccount tracks one requester's allocated, spent and encumbered
// funds. Available and utilization are derived figures; the persisted
// columns are only the snapshot written by the last recompute, never an
// independent source of truth.
type BudgetAccount struct {
	Requester   string    `db:"requester" json:"requester"`
	Allocated   float64   `db:"allocated" json:"allocated"`
	Spent       float64   `db:"spent" json:"spent"`
	Encumbered  float64   `db:"encumbered" json:"encumbered"`
	Available   float64   `db:"available" json:"available"`
	Utilization float64   `db:"utilization" json:"utilization"`
	Approver    string    `db:"approver" json:"approver"`
	Active      bool      `db:"active" json:"active"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Recalculate refreshes the derived figures from the stored components.
func (a *BudgetAccount) Recalculate() {
	a.Available = a.Allocated - a.Spent - a.Encumbered
	if a.Allocated > 0 {
		a.Utilization = (a.Spent + a.Encumbered) / a.Allocated
	} else {
		a.Utilization = 0
	}
}

// DefaultBudgetAccount returns the standard-allowance account used when a
// requester has no directory row yet.
func DefaultBudgetAccount(requester string, allowance float64, approver string) *BudgetAccount {
	account := &BudgetAccount{
		Requester: requester,
		Allocated: allowance,
		Approver:  approver,
		Active:    true,
	}
	account.Recalculate()
	return account
}
