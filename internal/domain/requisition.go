// Package domain holds the entities of the procurement workflow engine and
// the single authoritative requisition transition table.
package domain

import (
	"time"

	"github.com/ledgerline/procurement-core/internal/errors"
)

// Status is the lifecycle state of a requisition.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusPurchased       Status = "purchased"
	StatusCancelled       Status = "cancelled"
)

// transitions is the only authority on legal status changes. Nothing else in
// the engine compares status pairs.
var transitions = map[Status][]Status{
	StatusDraft:           {StatusPendingApproval, StatusCancelled},
	StatusPendingApproval: {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:        {StatusPurchased, StatusCancelled},
	StatusRejected:        {},
	StatusPurchased:       {},
	StatusCancelled:       {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransition reports whether moving from one status to the other is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Requisition is a request to purchase goods or services, the root of the
// workflow's ownership tree. Items and Steps belong exclusively to it.
type Requisition struct {
	ID            string
	EntityID      string
	Number        string
	RequesterID   string
	Department    string
	Category      string
	VendorID      *string // optional vendor match for rules
	Currency      string
	Justification *string
	Status        Status
	Items         []*RequisitionItem
	TotalAmount   int64 // cents; always the sum of item totals
	BudgetID      *string
	RevisionOf    *string // requisition this draft was cloned from after rejection
	Steps         []*ApprovalStep
	SubmittedAt   *time.Time
	DecidedAt     *time.Time
	PurchasedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RequisitionItem is one line of a requisition.
type RequisitionItem struct {
	ID          string
	Description string
	Quantity    int64 // positive
	UnitPrice   int64 // cents, non-negative
	TotalPrice  int64 // quantity times unit price
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Recompute refreshes TotalPrice from quantity and unit price.
func (i *RequisitionItem) Recompute() {
	i.TotalPrice = i.Quantity * i.UnitPrice
}

// RecomputeTotal refreshes TotalAmount from the item totals. Called after
// every item mutation while the requisition is Draft.
func (r *Requisition) RecomputeTotal() {
	var total int64
	for _, item := range r.Items {
		total += item.TotalPrice
	}
	r.TotalAmount = total
}

// Item returns the item with the given id, or nil.
func (r *Requisition) Item(id string) *RequisitionItem {
	for _, item := range r.Items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// Step returns the step with the given id, or nil.
func (r *Requisition) Step(id string) *ApprovalStep {
	for _, step := range r.Steps {
		if step.ID == id {
			return step
		}
	}
	return nil
}

// Transition moves the requisition to the target status, stamping decision
// timestamps. Illegal transitions fail with a guard violation and leave the
// requisition untouched.
func (r *Requisition) Transition(to Status, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return errors.Newf(errors.ErrCodeGuardViolation,
			"cannot transition requisition from '%s' to '%s'", r.Status, to)
	}

	r.Status = to
	r.UpdatedAt = now

	switch to {
	case StatusPendingApproval:
		t := now
		r.SubmittedAt = &t
	case StatusApproved, StatusRejected, StatusCancelled:
		t := now
		r.DecidedAt = &t
	case StatusPurchased:
		t := now
		r.PurchasedAt = &t
	}
	return nil
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate persisted state in place.
func (r *Requisition) Clone() *Requisition {
	if r == nil {
		return nil
	}

	out := *r
	out.VendorID = cloneString(r.VendorID)
	out.Justification = cloneString(r.Justification)
	out.BudgetID = cloneString(r.BudgetID)
	out.RevisionOf = cloneString(r.RevisionOf)
	out.SubmittedAt = cloneTime(r.SubmittedAt)
	out.DecidedAt = cloneTime(r.DecidedAt)
	out.PurchasedAt = cloneTime(r.PurchasedAt)

	out.Items = make([]*RequisitionItem, len(r.Items))
	for i, item := range r.Items {
		c := *item
		out.Items[i] = &c
	}

	out.Steps = make([]*ApprovalStep, len(r.Steps))
	for i, step := range r.Steps {
		out.Steps[i] = step.Clone()
	}
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneInt(n *int) *int {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}
