package client

import "context"

// Requisition event types published to the notification stream.
const (
	EventApprovalRequested        = "approval_requested"
	EventDecisionRecorded         = "decision_recorded"
	EventRequisitionStatusChanged = "requisition_status_changed"
)

// EventPublisher defines the interface for the notification publisher. The
// engine decides that an event is due and who receives it; delivery is the
// publisher's problem and never fails the calling operation.
type EventPublisher interface {
	PublishRequisitionEvent(ctx context.Context, eventType, requisitionID, entityID, actorID string, recipients []string, payload map[string]interface{})
}

// DirectoryClient defines the interface for resolving which users hold a
// role within an entity. Rule evaluation expands role actions through it.
type DirectoryClient interface {
	UsersWithRole(ctx context.Context, role, entityID string) ([]string, error)
}
