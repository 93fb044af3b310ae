package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/ledgerline/procurement-core/internal/client"
	"github.com/ledgerline/procurement-core/internal/domain"
	"github.com/ledgerline/procurement-core/internal/logger"
	"github.com/ledgerline/procurement-core/internal/repository"
)

// appendAudit writes an audit entry and logs a warning on failure (never
// returns an error). The transition the entry records has already
// committed; audit is best-effort.
func appendAudit(ctx context.Context, store repository.Store, log *logger.Logger, entry *domain.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if err := store.AppendAudit(ctx, entry); err != nil {
		log.Warn().Err(err).
			Str("requisition_id", entry.RequisitionID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

// notifyStatusChanged tells the requester their requisition moved.
func notifyStatusChanged(ctx context.Context, pub client.EventPublisher, req *domain.Requisition, actorID string, from domain.Status) {
	pub.PublishRequisitionEvent(ctx, client.EventRequisitionStatusChanged, req.ID, req.EntityID, actorID,
		[]string{req.RequesterID}, map[string]interface{}{
			"requisition_number": req.Number,
			"from":               string(from),
			"to":                 string(req.Status),
		})
}

// notifyApprovalRequested tells each step's holder that their decision is
// awaited. Called for every newly eligible step.
func notifyApprovalRequested(ctx context.Context, pub client.EventPublisher, req *domain.Requisition, actorID string, steps []*domain.ApprovalStep) {
	for _, step := range steps {
		pub.PublishRequisitionEvent(ctx, client.EventApprovalRequested, req.ID, req.EntityID, actorID,
			stepRecipients(step), map[string]interface{}{
				"requisition_number": req.Number,
				"amount":             req.TotalAmount,
				"currency":           req.Currency,
				"step_id":            step.ID,
				"order_index":        step.OrderIndex,
			})
	}
}

// notifyDecisionRecorded tells the requester a step of their requisition
// was decided.
func notifyDecisionRecorded(ctx context.Context, pub client.EventPublisher, req *domain.Requisition, actorID string, step *domain.ApprovalStep, decision domain.Decision) {
	pub.PublishRequisitionEvent(ctx, client.EventDecisionRecorded, req.ID, req.EntityID, actorID,
		[]string{req.RequesterID}, map[string]interface{}{
			"requisition_number": req.Number,
			"step_id":            step.ID,
			"order_index":        step.OrderIndex,
			"decision":           string(decision),
			"status":             string(req.Status),
		})
}

// stepRecipients returns who can act on a step: the assignee and, when
// delegated, the delegate.
func stepRecipients(step *domain.ApprovalStep) []string {
	recipients := []string{step.AssignedTo}
	if step.DelegatedTo != nil {
		recipients = append(recipients, *step.DelegatedTo)
	}
	return recipients
}
