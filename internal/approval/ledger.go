// Package approval implements the step ledger: pure functions over a
// requisition's step set covering decision recording, sequential gating,
// and outcome aggregation. Callers run them under the requisition lock.
package approval

import (
	"sort"
	"time"

	"github.com/ledgerline/procurement-core/internal/domain"
	"github.com/ledgerline/procurement-core/internal/errors"
)

// Decide validates and records one decision. The step must be pending and
// eligible, and actor must be its assigned approver or delegate unless
// override is set (the override capability itself is the caller's
// authorization concern). A non-pending step is never overwritten.
func Decide(steps []*domain.ApprovalStep, stepID string, decision domain.Decision, actor string, notes *string, override bool, now time.Time) (*domain.ApprovalStep, error) {
	step := find(steps, stepID)
	if step == nil {
		return nil, errors.NotFound("approval_step", stepID)
	}

	if decision != domain.DecisionApprove && decision != domain.DecisionReject {
		return nil, errors.InvalidInput("decision", "must be 'approve' or 'reject'")
	}

	if step.Status != domain.StepPending {
		return nil, errors.Newf(errors.ErrCodeOrderingViolation,
			"step %d already decided: status '%s'", step.OrderIndex, step.Status)
	}

	if !override && !step.ActorCanDecide(actor) {
		return nil, errors.Newf(errors.ErrCodeUnauthorized,
			"user %s is not the approver for step %d", actor, step.OrderIndex)
	}

	if !Eligible(steps, step) {
		return nil, errors.Newf(errors.ErrCodeOrderingViolation,
			"step %d is not eligible yet: sequential predecessor is undecided", step.OrderIndex)
	}

	if decision == domain.DecisionApprove {
		step.Status = domain.StepApproved
	} else {
		step.Status = domain.StepRejected
	}
	step.DecidedBy = &actor
	step.DecisionNotes = notes
	t := now
	step.DecidedAt = &t
	step.UpdatedAt = now
	return step, nil
}

// Delegate reassigns a pending step to another user. The step stays
// pending; either the original assignee or the delegate may then decide.
func Delegate(step *domain.ApprovalStep, to, actor string, override bool, now time.Time) error {
	if step.Status != domain.StepPending {
		return errors.Newf(errors.ErrCodeConflict,
			"cannot delegate step with status '%s'", step.Status)
	}
	if !override && !step.ActorCanDecide(actor) {
		return errors.Newf(errors.ErrCodeUnauthorized,
			"user %s is not the approver for step %d", actor, step.OrderIndex)
	}
	if to == "" {
		return errors.InvalidInput("delegate", "user id is required")
	}
	if step.ActorCanDecide(to) {
		return errors.InvalidInput("delegate", "user already holds this step")
	}

	step.DelegatedTo = &to
	t := now
	step.DelegatedAt = &t
	step.UpdatedAt = now
	return nil
}

// Eligible reports whether the step is pending and its gating sequential
// predecessor, when it has one, is approved.
func Eligible(steps []*domain.ApprovalStep, step *domain.ApprovalStep) bool {
	if step.Status != domain.StepPending {
		return false
	}
	if step.DependsOn == nil {
		return true
	}
	dep := byOrderIndex(steps, *step.DependsOn)
	return dep != nil && dep.Status == domain.StepApproved
}

// NextEligibleStep returns the lowest-order eligible pending step, or nil.
func NextEligibleStep(steps []*domain.ApprovalStep) *domain.ApprovalStep {
	eligible := EligibleSteps(steps)
	if len(eligible) == 0 {
		return nil
	}
	return eligible[0]
}

// EligibleSteps returns every currently eligible step ordered by index.
// Parallel mode makes this plural.
func EligibleSteps(steps []*domain.ApprovalStep) []*domain.ApprovalStep {
	var eligible []*domain.ApprovalStep
	for _, step := range steps {
		if Eligible(steps, step) {
			eligible = append(eligible, step)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].OrderIndex < eligible[j].OrderIndex
	})
	return eligible
}

// IsComplete reports whether at least one step exists and none are pending.
func IsComplete(steps []*domain.ApprovalStep) bool {
	if len(steps) == 0 {
		return false
	}
	for _, step := range steps {
		if step.Status == domain.StepPending {
			return false
		}
	}
	return true
}

// Outcome aggregates the step set: rejected if any step was rejected,
// approved iff every step was approved, pending otherwise. An empty set is
// pending: a requisition is never approved by absence of steps.
func Outcome(steps []*domain.ApprovalStep) domain.Status {
	if len(steps) == 0 {
		return domain.StatusPendingApproval
	}

	allApproved := true
	for _, step := range steps {
		switch step.Status {
		case domain.StepRejected:
			return domain.StatusRejected
		case domain.StepApproved:
		default:
			allApproved = false
		}
	}
	if allApproved {
		return domain.StatusApproved
	}
	return domain.StatusPendingApproval
}

// SkipPending short-circuits the remaining pending steps after a rejection
// or cancellation. Returns how many were skipped.
func SkipPending(steps []*domain.ApprovalStep, now time.Time) int {
	skipped := 0
	for _, step := range steps {
		if step.Status == domain.StepPending {
			step.Status = domain.StepSkipped
			step.UpdatedAt = now
			skipped++
		}
	}
	return skipped
}

func find(steps []*domain.ApprovalStep, id string) *domain.ApprovalStep {
	for _, step := range steps {
		if step.ID == id {
			return step
		}
	}
	return nil
}

func byOrderIndex(steps []*domain.ApprovalStep, index int) *domain.ApprovalStep {
	for _, step := range steps {
		if step.OrderIndex == index {
			return step
		}
	}
	return nil
}
