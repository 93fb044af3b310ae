package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerline/procurement-core/internal/approval"
	"github.com/ledgerline/procurement-core/internal/budget"
	"github.com/ledgerline/procurement-core/internal/client"
	"github.com/ledgerline/procurement-core/internal/domain"
	"github.com/ledgerline/procurement-core/internal/errors"
	"github.com/ledgerline/procurement-core/internal/lock"
	"github.com/ledgerline/procurement-core/internal/logger"
	"github.com/ledgerline/procurement-core/internal/repository"
)

// ApprovalService records approver decisions and delegations and drives the
// aggregation that settles a pending requisition. The last decision on a
// step set moves the requisition to approved or rejected and settles the
// budget reservation in the same transaction, so completion fires exactly
// once even under concurrent approvers.
type ApprovalService struct {
	store     repository.Store
	locker    lock.Locker
	publisher client.EventPublisher
	log       *logger.Logger
	now       func() time.Time
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	store repository.Store,
	locker lock.Locker,
	publisher client.EventPublisher,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		store:     store,
		locker:    locker,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// DecideStepRequest represents an approve or reject decision on a step.
type DecideStepRequest struct {
	RequisitionID string
	StepID        string
	ActorID       string
	Decision      domain.Decision
	Notes         *string
	Override      bool // caller-authorized admin override
}

// Decide records one decision. Approving the last step moves the
// requisition to approved; any rejection moves it to rejected, skips the
// remaining pending steps, and releases the budget reservation.
func (s *ApprovalService) Decide(ctx context.Context, req *DecideStepRequest) (*domain.Requisition, error) {
	if req.RequisitionID == "" {
		return nil, errors.InvalidInput("requisition_id", "requisition id is required")
	}
	if req.StepID == "" {
		return nil, errors.InvalidInput("step_id", "step id is required")
	}
	if req.ActorID == "" {
		return nil, errors.InvalidInput("actor_id", "actor id is required")
	}

	var out *domain.Requisition
	var decided *domain.ApprovalStep
	var newlyEligible []*domain.ApprovalStep
	var from domain.Status

	err := s.locker.WithLock(ctx, lock.RequisitionKey(req.RequisitionID), func(ctx context.Context) error {
		return s.store.Atomic(ctx, func(tx repository.Tx) error {
			requisition, err := tx.RequisitionForUpdate(ctx, req.RequisitionID)
			if err != nil {
				return err
			}
			from = requisition.Status
			if requisition.Status != domain.StatusPendingApproval {
				return errors.GuardViolation(
					fmt.Sprintf("cannot record a decision on a requisition with status '%s'", requisition.Status))
			}

			now := s.now().UTC()
			eligibleBefore := approval.EligibleSteps(requisition.Steps)

			step, err := approval.Decide(requisition.Steps, req.StepID, req.Decision, req.ActorID, req.Notes, req.Override, now)
			if err != nil {
				return err
			}

			switch approval.Outcome(requisition.Steps) {
			case domain.StatusApproved:
				if err := requisition.Transition(domain.StatusApproved, now); err != nil {
					return err
				}
			case domain.StatusRejected:
				approval.SkipPending(requisition.Steps, now)
				if err := requisition.Transition(domain.StatusRejected, now); err != nil {
					return err
				}
				if requisition.BudgetID != nil {
					b, err := tx.BudgetForUpdate(ctx, *requisition.BudgetID)
					if err != nil {
						return err
					}
					if err := budget.Release(b, requisition.TotalAmount); err != nil {
						return err
					}
					b.UpdatedAt = now
					if err := tx.SaveBudget(ctx, b); err != nil {
						return err
					}
				}
			default:
				requisition.UpdatedAt = now
			}

			if err := tx.SaveRequisition(ctx, requisition); err != nil {
				return err
			}

			out = requisition
			decided = step
			newlyEligible = eligibleDiff(eligibleBefore, approval.EligibleSteps(requisition.Steps))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	stepAction := domain.AuditStepApproved
	if req.Decision == domain.DecisionReject {
		stepAction = domain.AuditStepRejected
	}
	appendAudit(ctx, s.store, s.log, &domain.AuditEntry{
		RequisitionID: out.ID,
		EntityID:      out.EntityID,
		StepID:        &decided.ID,
		Action:        stepAction,
		ActorID:       req.ActorID,
		Details:       req.Notes,
		CreatedAt:     s.now().UTC(),
	})
	if out.Status != domain.StatusPendingApproval {
		terminalAction := domain.AuditApproved
		if out.Status == domain.StatusRejected {
			terminalAction = domain.AuditRejected
		}
		appendAudit(ctx, s.store, s.log, &domain.AuditEntry{
			RequisitionID: out.ID,
			EntityID:      out.EntityID,
			Action:        terminalAction,
			ActorID:       req.ActorID,
			CreatedAt:     s.now().UTC(),
		})
		notifyStatusChanged(ctx, s.publisher, out, req.ActorID, from)
	}
	notifyDecisionRecorded(ctx, s.publisher, out, req.ActorID, decided, req.Decision)
	notifyApprovalRequested(ctx, s.publisher, out, req.ActorID, newlyEligible)

	s.log.Info().
		Str("requisition_id", out.ID).
		Str("step_id", decided.ID).
		Str("decision", string(req.Decision)).
		Str("decided_by", req.ActorID).
		Str("status", string(out.Status)).
		Msg("Approval decision recorded")

	return out, nil
}

// DelegateStepRequest represents a delegation of a pending step.
type DelegateStepRequest struct {
	RequisitionID string
	StepID        string
	ActorID       string
	DelegateTo    string
	Override      bool
}

// DelegateStep reassigns a pending step to another user. The step stays
// pending and either the original assignee or the delegate may decide.
func (s *ApprovalService) DelegateStep(ctx context.Context, req *DelegateStepRequest) (*domain.Requisition, error) {
	if req.RequisitionID == "" {
		return nil, errors.InvalidInput("requisition_id", "requisition id is required")
	}
	if req.StepID == "" {
		return nil, errors.InvalidInput("step_id", "step id is required")
	}
	if req.ActorID == "" {
		return nil, errors.InvalidInput("actor_id", "actor id is required")
	}

	var out *domain.Requisition
	var delegated *domain.ApprovalStep

	err := s.locker.WithLock(ctx, lock.RequisitionKey(req.RequisitionID), func(ctx context.Context) error {
		return s.store.Atomic(ctx, func(tx repository.Tx) error {
			requisition, err := tx.RequisitionForUpdate(ctx, req.RequisitionID)
			if err != nil {
				return err
			}
			if requisition.Status != domain.StatusPendingApproval {
				return errors.GuardViolation(
					fmt.Sprintf("cannot delegate a step on a requisition with status '%s'", requisition.Status))
			}

			step := requisition.Step(req.StepID)
			if step == nil {
				return errors.NotFound("approval_step", req.StepID)
			}

			now := s.now().UTC()
			if err := approval.Delegate(step, req.DelegateTo, req.ActorID, req.Override, now); err != nil {
				return err
			}
			requisition.UpdatedAt = now

			if err := tx.SaveRequisition(ctx, requisition); err != nil {
				return err
			}
			out = requisition
			delegated = step
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	details := fmt.Sprintf("delegated to %s", req.DelegateTo)
	appendAudit(ctx, s.store, s.log, &domain.AuditEntry{
		RequisitionID: out.ID,
		EntityID:      out.EntityID,
		StepID:        &delegated.ID,
		Action:        domain.AuditDelegated,
		ActorID:       req.ActorID,
		Details:       &details,
		CreatedAt:     s.now().UTC(),
	})
	if approval.Eligible(out.Steps, delegated) {
		notifyApprovalRequested(ctx, s.publisher, out, req.ActorID, []*domain.ApprovalStep{delegated})
	}

	s.log.Info().
		Str("requisition_id", out.ID).
		Str("step_id", delegated.ID).
		Str("delegated_by", req.ActorID).
		Str("delegated_to", req.DelegateTo).
		Msg("Approval step delegated")

	return out, nil
}

// eligibleDiff returns the steps eligible in after but not in before: the
// steps a decision just unlocked.
func eligibleDiff(before, after []*domain.ApprovalStep) []*domain.ApprovalStep {
	seen := make(map[string]struct{}, len(before))
	for _, step := range before {
		seen[step.ID] = struct{}{}
	}

	var out []*domain.ApprovalStep
	for _, step := range after {
		if _, ok := seen[step.ID]; !ok {
			out = append(out, step)
		}
	}
	return out
}
