package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/procurement-core/internal/approval"
	"github.com/ledgerline/procurement-core/internal/budget"
	"github.com/ledgerline/procurement-core/internal/client"
	"github.com/ledgerline/procurement-core/internal/domain"
	"github.com/ledgerline/procurement-core/internal/errors"
	"github.com/ledgerline/procurement-core/internal/lock"
	"github.com/ledgerline/procurement-core/internal/logger"
	"github.com/ledgerline/procurement-core/internal/repository"
	"github.com/ledgerline/procurement-core/internal/rules"
)

// RequisitionService owns the requisition lifecycle: drafting, submission
// through the rule engine, and the terminal transitions that settle the
// budget reservation. Every transition runs under the requisition lock in
// one store transaction, so status, steps, and budget move together or not
// at all.
type RequisitionService struct {
	store     repository.Store
	locker    lock.Locker
	engine    *rules.Engine
	publisher client.EventPublisher
	log       *logger.Logger
	now       func() time.Time
}

// NewRequisitionService creates a new RequisitionService.
func NewRequisitionService(
	store repository.Store,
	locker lock.Locker,
	engine *rules.Engine,
	publisher client.EventPublisher,
	log *logger.Logger,
) *RequisitionService {
	return &RequisitionService{
		store:     store,
		locker:    locker,
		engine:    engine,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// CreateRequisitionRequest represents a create requisition request.
type CreateRequisitionRequest struct {
	EntityID      string
	RequesterID   string
	Department    string
	Category      string
	VendorID      *string
	Currency      string
	Justification *string
	BudgetID      *string
	Items         []*ItemRequest
}

// ItemRequest represents one requisition line item.
type ItemRequest struct {
	Description string
	Quantity    int64
	UnitPrice   int64 // cents
}

// CreateRequisition creates a new draft requisition with optional initial
// items. A referenced budget must exist, belong to the same entity, and
// carry the same currency.
func (s *RequisitionService) CreateRequisition(ctx context.Context, req *CreateRequisitionRequest) (*domain.Requisition, error) {
	if req.EntityID == "" {
		return nil, errors.InvalidInput("entity_id", "entity id is required")
	}
	if req.RequesterID == "" {
		return nil, errors.InvalidInput("requester_id", "requester id is required")
	}
	if req.Department == "" {
		return nil, errors.InvalidInput("department", "department is required")
	}
	if req.Category == "" {
		return nil, errors.InvalidInput("category", "category is required")
	}
	if len(req.Currency) != 3 {
		return nil, errors.InvalidInput("currency", "currency must be 3-letter ISO code")
	}
	currency := strings.ToUpper(req.Currency)
	for _, item := range req.Items {
		if err := validateItem(item); err != nil {
			return nil, err
		}
	}

	if req.BudgetID != nil {
		b, err := s.store.GetBudget(ctx, *req.BudgetID)
		if err != nil {
			return nil, err
		}
		if b.EntityID != req.EntityID {
			return nil, errors.InvalidInput("budget_id", "budget belongs to a different entity")
		}
		if b.Currency != currency {
			return nil, errors.InvalidInput("budget_id",
				fmt.Sprintf("budget currency %s does not match requisition currency %s", b.Currency, currency))
		}
	}

	number, err := s.store.NextRequisitionNumber(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	requisition := &domain.Requisition{
		ID:            uuid.NewString(),
		EntityID:      req.EntityID,
		Number:        number,
		RequesterID:   req.RequesterID,
		Department:    req.Department,
		Category:      req.Category,
		VendorID:      req.VendorID,
		Currency:      currency,
		Justification: req.Justification,
		Status:        domain.StatusDraft,
		BudgetID:      req.BudgetID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, itemReq := range req.Items {
		requisition.Items = append(requisition.Items, buildItem(itemReq, now))
	}
	requisition.RecomputeTotal()

	if err := s.store.CreateRequisition(ctx, requisition); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("requisition_id", requisition.ID).
		Str("requisition_number", requisition.Number).
		Str("entity_id", requisition.EntityID).
		Str("requester_id", requisition.RequesterID).
		Int64("total_amount", requisition.TotalAmount).
		Int("item_count", len(requisition.Items)).
		Msg("Requisition created")

	return requisition, nil
}

// ── item mutations (Draft only) ───────────────────────────────────────────────

// AddItem appends a line item to a draft requisition and recomputes totals.
func (s *RequisitionService) AddItem(ctx context.Context, requisitionID string, itemReq *ItemRequest) (*domain.Requisition, error) {
	if err := validateItem(itemReq); err != nil {
		return nil, err
	}

	var out *domain.Requisition
	err := s.withRequisition(ctx, requisitionID, func(ctx context.Context, tx repository.Tx, req *domain.Requisition) error {
		if req.Status != domain.StatusDraft {
			return errors.GuardViolation(
				fmt.Sprintf("cannot modify items of a requisition with status '%s'", req.Status))
		}

		now := s.now().UTC()
		req.Items = append(req.Items, buildItem(itemReq, now))
		req.RecomputeTotal()
		req.UpdatedAt = now

		if err := tx.SaveRequisition(ctx, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("requisition_id", out.ID).
		Int("item_count", len(out.Items)).
		Int64("total_amount", out.TotalAmount).
		Msg("Requisition item added")

	return out, nil
}

// UpdateItem replaces the description, quantity, and unit price of an item
// on a draft requisition and recomputes totals.
func (s *RequisitionService) UpdateItem(ctx context.Context, requisitionID, itemID string, itemReq *ItemRequest) (*domain.Requisition, error) {
	if err := validateItem(itemReq); err != nil {
		return nil, err
	}

	var out *domain.Requisition
	err := s.withRequisition(ctx, requisitionID, func(ctx context.Context, tx repository.Tx, req *domain.Requisition) error {
		if req.Status != domain.StatusDraft {
			return errors.GuardViolation(
				fmt.Sprintf("cannot modify items of a requisition with status '%s'", req.Status))
		}

		item := req.Item(itemID)
		if item == nil {
			return errors.NotFound("requisition_item", itemID)
		}

		now := s.now().UTC()
		item.Description = itemReq.Description
		item.Quantity = itemReq.Quantity
		item.UnitPrice = itemReq.UnitPrice
		item.Recompute()
		item.UpdatedAt = now
		req.RecomputeTotal()
		req.UpdatedAt = now

		if err := tx.SaveRequisition(ctx, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("requisition_id", out.ID).
		Str("item_id", itemID).
		Int64("total_amount", out.TotalAmount).
		Msg("Requisition item updated")

	return out, nil
}

// RemoveItem deletes an item from a draft requisition and recomputes totals.
func (s *RequisitionService) RemoveItem(ctx context.Context, requisitionID, itemID string) (*domain.Requisition, error) {
	var out *domain.Requisition
	err := s.withRequisition(ctx, requisitionID, func(ctx context.Context, tx repository.Tx, req *domain.Requisition) error {
		if req.Status != domain.StatusDraft {
			return errors.GuardViolation(
				fmt.Sprintf("cannot modify items of a requisition with status '%s'", req.Status))
		}

		index := -1
		for i, item := range req.Items {
			if item.ID == itemID {
				index = i
				break
			}
		}
		if index < 0 {
			return errors.NotFound("requisition_item", itemID)
		}

		req.Items = append(req.Items[:index], req.Items[index+1:]...)
		req.RecomputeTotal()
		req.UpdatedAt = s.now().UTC()

		if err := tx.SaveRequisition(ctx, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("requisition_id", out.ID).
		Str("item_id", itemID).
		Int("item_count", len(out.Items)).
		Msg("Requisition item removed")

	return out, nil
}

// ── transitions ───────────────────────────────────────────────────────────────

// Submit moves a draft into approval: evaluates the active rule set,
// materializes the approval steps, and reserves budget funds. A guard,
// configuration, or budget failure leaves the draft exactly as it was.
func (s *RequisitionService) Submit(ctx context.Context, requisitionID, actorID string) (*domain.Requisition, error) {
	var out *domain.Requisition
	var firstEligible []*domain.ApprovalStep

	err := s.locker.WithLock(ctx, lock.RequisitionKey(requisitionID), func(ctx context.Context) error {
		current, err := s.store.GetRequisition(ctx, requisitionID)
		if err != nil {
			return err
		}
		if current.Status != domain.StatusDraft {
			return errors.GuardViolation(
				fmt.Sprintf("cannot submit requisition with status '%s'", current.Status))
		}
		if len(current.Items) == 0 {
			return errors.GuardViolation("cannot submit a requisition with no items")
		}
		current.RecomputeTotal()
		if current.TotalAmount <= 0 {
			return errors.GuardViolation("cannot submit a requisition with a non-positive total")
		}

		// Rules are an immutable snapshot read before the transaction; the
		// requisition lock keeps the draft stable until the write below.
		ruleset, err := s.store.ListRules(ctx, current.EntityID, true)
		if err != nil {
			return err
		}
		specs, err := s.engine.Evaluate(ctx, rules.SnapshotFrom(current), ruleset)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		steps := make([]*domain.ApprovalStep, 0, len(specs))
		for _, spec := range specs {
			steps = append(steps, &domain.ApprovalStep{
				ID:            uuid.NewString(),
				RequisitionID: current.ID,
				OrderIndex:    spec.OrderIndex,
				Mode:          spec.Mode,
				DependsOn:     spec.DependsOn,
				Role:          spec.Role,
				AssignedTo:    spec.ApproverID,
				Status:        domain.StepPending,
				CreatedAt:     now,
				UpdatedAt:     now,
			})
		}

		return s.store.Atomic(ctx, func(tx repository.Tx) error {
			req, err := tx.RequisitionForUpdate(ctx, requisitionID)
			if err != nil {
				return err
			}
			req.RecomputeTotal()
			if err := req.Transition(domain.StatusPendingApproval, now); err != nil {
				return err
			}
			req.Steps = steps

			if req.BudgetID != nil {
				b, err := tx.BudgetForUpdate(ctx, *req.BudgetID)
				if err != nil {
					return err
				}
				if err := budget.Reserve(b, req.TotalAmount); err != nil {
					return err
				}
				b.UpdatedAt = now
				if err := tx.SaveBudget(ctx, b); err != nil {
					return err
				}
			}

			if err := tx.SaveRequisition(ctx, req); err != nil {
				return err
			}
			out = req
			firstEligible = approval.EligibleSteps(req.Steps)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	appendAudit(ctx, s.store, s.log, &domain.AuditEntry{
		RequisitionID: out.ID,
		EntityID:      out.EntityID,
		Action:        domain.AuditSubmitted,
		ActorID:       actorID,
		CreatedAt:     s.now().UTC(),
	})
	notifyStatusChanged(ctx, s.publisher, out, actorID, domain.StatusDraft)
	notifyApprovalRequested(ctx, s.publisher, out, actorID, firstEligible)

	s.log.Info().
		Str("requisition_id", out.ID).
		Str("requisition_number", out.Number).
		Str("submitted_by", actorID).
		Int("total_steps", len(out.Steps)).
		Int64("total_amount", out.TotalAmount).
		Msg("Requisition submitted for approval")

	return out, nil
}

// Cancel withdraws a requisition from draft, pending approval, or approved
// state. Reserved funds are released and remaining pending steps skipped.
// Cancelling a terminal requisition fails with a guard violation.
func (s *RequisitionService) Cancel(ctx context.Context, requisitionID, actorID string) (*domain.Requisition, error) {
	var out *domain.Requisition
	var from domain.Status

	err := s.withRequisition(ctx, requisitionID, func(ctx context.Context, tx repository.Tx, req *domain.Requisition) error {
		from = req.Status
		hadReservation := req.BudgetID != nil &&
			(req.Status == domain.StatusPendingApproval || req.Status == domain.StatusApproved)

		now := s.now().UTC()
		if err := req.Transition(domain.StatusCancelled, now); err != nil {
			return err
		}
		approval.SkipPending(req.Steps, now)

		if hadReservation {
			b, err := tx.BudgetForUpdate(ctx, *req.BudgetID)
			if err != nil {
				return err
			}
			if err := budget.Release(b, req.TotalAmount); err != nil {
				return err
			}
			b.UpdatedAt = now
			if err := tx.SaveBudget(ctx, b); err != nil {
				return err
			}
		}

		if err := tx.SaveRequisition(ctx, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	appendAudit(ctx, s.store, s.log, &domain.AuditEntry{
		RequisitionID: out.ID,
		EntityID:      out.EntityID,
		Action:        domain.AuditCancelled,
		ActorID:       actorID,
		CreatedAt:     s.now().UTC(),
	})
	notifyStatusChanged(ctx, s.publisher, out, actorID, from)

	s.log.Info().
		Str("requisition_id", out.ID).
		Str("cancelled_by", actorID).
		Str("previous_status", string(from)).
		Msg("Requisition cancelled")

	return out, nil
}

// MarkPurchased records that an approved requisition was bought, moving the
// reserved funds to spent.
func (s *RequisitionService) MarkPurchased(ctx context.Context, requisitionID, actorID string) (*domain.Requisition, error) {
	var out *domain.Requisition
	var from domain.Status

	err := s.withRequisition(ctx, requisitionID, func(ctx context.Context, tx repository.Tx, req *domain.Requisition) error {
		from = req.Status

		now := s.now().UTC()
		if err := req.Transition(domain.StatusPurchased, now); err != nil {
			return err
		}

		if req.BudgetID != nil {
			b, err := tx.BudgetForUpdate(ctx, *req.BudgetID)
			if err != nil {
				return err
			}
			if err := budget.Commit(b, req.TotalAmount); err != nil {
				return err
			}
			b.UpdatedAt = now
			if err := tx.SaveBudget(ctx, b); err != nil {
				return err
			}
		}

		if err := tx.SaveRequisition(ctx, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	appendAudit(ctx, s.store, s.log, &domain.AuditEntry{
		RequisitionID: out.ID,
		EntityID:      out.EntityID,
		Action:        domain.AuditPurchased,
		ActorID:       actorID,
		CreatedAt:     s.now().UTC(),
	})
	notifyStatusChanged(ctx, s.publisher, out, actorID, from)

	s.log.Info().
		Str("requisition_id", out.ID).
		Str("purchased_by", actorID).
		Int64("total_amount", out.TotalAmount).
		Msg("Requisition purchased")

	return out, nil
}

// CloneRejected copies a rejected requisition into a fresh draft so the
// requester can revise and resubmit. Items get new ids and RevisionOf
// points back at the source.
func (s *RequisitionService) CloneRejected(ctx context.Context, requisitionID, actorID string) (*domain.Requisition, error) {
	source, err := s.store.GetRequisition(ctx, requisitionID)
	if err != nil {
		return nil, err
	}
	if source.Status != domain.StatusRejected {
		return nil, errors.GuardViolation(
			fmt.Sprintf("cannot clone requisition with status '%s': only rejected requisitions can be revised", source.Status))
	}

	number, err := s.store.NextRequisitionNumber(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	draft := &domain.Requisition{
		ID:            uuid.NewString(),
		EntityID:      source.EntityID,
		Number:        number,
		RequesterID:   source.RequesterID,
		Department:    source.Department,
		Category:      source.Category,
		VendorID:      source.VendorID,
		Currency:      source.Currency,
		Justification: source.Justification,
		Status:        domain.StatusDraft,
		BudgetID:      source.BudgetID,
		RevisionOf:    &source.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, item := range source.Items {
		draft.Items = append(draft.Items, buildItem(&ItemRequest{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		}, now))
	}
	draft.RecomputeTotal()

	if err := s.store.CreateRequisition(ctx, draft); err != nil {
		return nil, err
	}

	details := fmt.Sprintf("cloned from %s", source.Number)
	appendAudit(ctx, s.store, s.log, &domain.AuditEntry{
		RequisitionID: draft.ID,
		EntityID:      draft.EntityID,
		Action:        domain.AuditCloned,
		ActorID:       actorID,
		Details:       &details,
		CreatedAt:     now,
	})

	s.log.Info().
		Str("requisition_id", draft.ID).
		Str("requisition_number", draft.Number).
		Str("cloned_from", source.ID).
		Msg("Rejected requisition cloned into a new draft")

	return draft, nil
}

// ── queries ───────────────────────────────────────────────────────────────────

// GetRequisition retrieves a requisition by id.
func (s *RequisitionService) GetRequisition(ctx context.Context, id string) (*domain.Requisition, error) {
	return s.store.GetRequisition(ctx, id)
}

// ListRequisitions lists requisitions matching the filter.
func (s *RequisitionService) ListRequisitions(ctx context.Context, filter repository.RequisitionFilter) ([]*domain.Requisition, error) {
	return s.store.ListRequisitions(ctx, filter)
}

// ListPendingApprovals returns the requisitions with at least one eligible
// pending step awaiting the given approver.
func (s *RequisitionService) ListPendingApprovals(ctx context.Context, entityID, approverID string) ([]*domain.Requisition, error) {
	candidates, err := s.store.ListPendingApprovals(ctx, entityID, approverID)
	if err != nil {
		return nil, err
	}

	// The store matches assignment; sequential gating is the step ledger's
	// concern, so a step behind an undecided predecessor is filtered here.
	var out []*domain.Requisition
	for _, req := range candidates {
		for _, step := range approval.EligibleSteps(req.Steps) {
			if step.ActorCanDecide(approverID) {
				out = append(out, req)
				break
			}
		}
	}
	return out, nil
}

// AuditTrail returns the append-only audit entries for a requisition.
func (s *RequisitionService) AuditTrail(ctx context.Context, requisitionID string) ([]*domain.AuditEntry, error) {
	return s.store.AuditTrail(ctx, requisitionID)
}

// ── internal helpers ──────────────────────────────────────────────────────────

// withRequisition runs fn with the requisition loaded for update, under the
// requisition lock and one store transaction.
func (s *RequisitionService) withRequisition(ctx context.Context, id string, fn func(ctx context.Context, tx repository.Tx, req *domain.Requisition) error) error {
	return s.locker.WithLock(ctx, lock.RequisitionKey(id), func(ctx context.Context) error {
		return s.store.Atomic(ctx, func(tx repository.Tx) error {
			req, err := tx.RequisitionForUpdate(ctx, id)
			if err != nil {
				return err
			}
			return fn(ctx, tx, req)
		})
	})
}

func validateItem(item *ItemRequest) error {
	if item.Description == "" {
		return errors.InvalidInput("description", "item description is required")
	}
	if item.Quantity <= 0 {
		return errors.InvalidInput("quantity", "quantity must be positive")
	}
	if item.UnitPrice < 0 {
		return errors.InvalidInput("unit_price", "unit price cannot be negative")
	}
	return nil
}

func buildItem(itemReq *ItemRequest, now time.Time) *domain.RequisitionItem {
	item := &domain.RequisitionItem{
		ID:          uuid.NewString(),
		Description: itemReq.Description,
		Quantity:    itemReq.Quantity,
		UnitPrice:   itemReq.UnitPrice,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	item.Recompute()
	return item
}
