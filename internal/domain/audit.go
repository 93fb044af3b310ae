package domain

import "time"

// Audit actions recorded against a requisition.
const (
	AuditSubmitted    = "submitted"
	AuditStepApproved = "step_approved"
	AuditStepRejected = "step_rejected"
	AuditDelegated    = "delegated"
	AuditApproved     = "approved"
	AuditRejected     = "rejected"
	AuditCancelled    = "cancelled"
	AuditPurchased    = "purchased"
	AuditCloned       = "cloned"
)

// AuditEntry is one immutable record in a requisition's audit trail.
type AuditEntry struct {
	ID            string
	RequisitionID string
	EntityID      string
	StepID        *string // set for step-level actions
	Action        string
	ActorID       string
	Details       *string
	CreatedAt     time.Time
}

// Clone returns a copy of the entry.
func (e *AuditEntry) Clone() *AuditEntry {
	if e == nil {
		return nil
	}
	out := *e
	out.StepID = cloneString(e.StepID)
	out.Details = cloneString(e.Details)
	return &out
}
