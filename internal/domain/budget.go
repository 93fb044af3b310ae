package domain

import "time"

// Budget tracks allocated, reserved, and spent amounts for one spending pot.
// Remaining must never go negative; the budget ledger enforces that on every
// operation.
type Budget struct {
	ID        string
	EntityID  string
	Name      string
	Period    string // e.g. "2026-Q1"
	Currency  string
	Allocated int64 // cents
	Reserved  int64 // cents held by pending-approval and approved requisitions
	Spent     int64 // cents committed by purchased requisitions
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Remaining is allocated minus reserved minus spent.
func (b *Budget) Remaining() int64 {
	return b.Allocated - b.Reserved - b.Spent
}

// Clone returns a copy of the budget.
func (b *Budget) Clone() *Budget {
	if b == nil {
		return nil
	}
	out := *b
	return &out
}
