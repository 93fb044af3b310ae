package domain

import "time"

// StepStatus is the state of a single approval step. A step never leaves a
// non-pending status.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
	StepSkipped  StepStatus = "skipped" // short-circuited by rejection or cancellation
)

// StepMode controls ordering between steps.
type StepMode string

const (
	ModeSequential StepMode = "sequential"
	ModeParallel   StepMode = "parallel"
)

// Decision is an approver's verdict on a step.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ApprovalStep is one approver's gate on a requisition.
type ApprovalStep struct {
	ID            string
	RequisitionID string
	OrderIndex    int // unique within the requisition's step set
	Mode          StepMode
	DependsOn     *int // order index of the gating sequential step; nil = none
	Role          string
	AssignedTo    string
	DelegatedTo   *string
	DelegatedAt   *time.Time
	Status        StepStatus
	DecidedBy     *string
	DecisionNotes *string
	DecidedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ActorCanDecide reports whether actor is the assigned approver or the
// current delegate.
func (s *ApprovalStep) ActorCanDecide(actor string) bool {
	if actor == "" {
		return false
	}
	if s.AssignedTo == actor {
		return true
	}
	return s.DelegatedTo != nil && *s.DelegatedTo == actor
}

// Clone returns a deep copy of the step.
func (s *ApprovalStep) Clone() *ApprovalStep {
	if s == nil {
		return nil
	}
	out := *s
	out.DependsOn = cloneInt(s.DependsOn)
	out.DelegatedTo = cloneString(s.DelegatedTo)
	out.DelegatedAt = cloneTime(s.DelegatedAt)
	out.DecidedBy = cloneString(s.DecidedBy)
	out.DecisionNotes = cloneString(s.DecisionNotes)
	out.DecidedAt = cloneTime(s.DecidedAt)
	return &out
}
