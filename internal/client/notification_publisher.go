package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	natsclient "github.com/ledgerline/procurement-core/internal/nats"
)

// NotificationPublisher publishes requisition workflow events to NATS
// JetStream for consumption by the notification service.
//
// Subject convention: notifications.procurement.<event_type>
// Event types: approval_requested, decision_recorded,
//              requisition_status_changed
//
// All publish operations are non-fatal: errors are logged but never
// propagated to the caller, so notification failures never interrupt
// workflow operations.
type NotificationPublisher struct {
	nats *natsclient.Client
	log  zerolog.Logger
}

// RequisitionEvent is the JSON schema published to NATS.
type RequisitionEvent struct {
	EventType    string                 `json:"event_type"`
	EntityID     string                 `json:"entity_id"`
	ActorID      string                 `json:"actor_id"`
	Recipients   []string               `json:"recipients"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	IsActionable bool                   `json:"is_actionable,omitempty"`
	Severity     string                 `json:"severity,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// client. A nil client disables publishing entirely.
func NewNotificationPublisher(nats *natsclient.Client, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nats: nats, log: log}
}

// PublishRequisitionEvent publishes a requisition workflow event to NATS.
// Subject: notifications.procurement.<eventType>
func (p *NotificationPublisher) PublishRequisitionEvent(ctx context.Context, eventType, requisitionID, entityID, actorID string, recipients []string, payload map[string]interface{}) {
	if p.nats == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &RequisitionEvent{
		EventType:    eventType,
		EntityID:     entityID,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: "requisition",
		ResourceID:   requisitionID,
		IsActionable: eventType == EventApprovalRequested,
		Severity:     "info",
		Category:     "procurement",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.procurement.%s", eventType)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("requisition_id", requisitionID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("requisition_id", requisitionID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
